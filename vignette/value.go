// Package vignette defines the data model shared by every stage of the
// generation pipeline: the candidate artifact, the fixed value framework,
// per-criterion verdicts, and the merged feedback handed to the reviser.
package vignette

import (
	"fmt"
	"sort"
	"strings"
)

// Value is one of the four principlist values a choice can map to.
type Value string

// The value framework is closed. Exactly these four values exist.
const (
	ValueBeneficence    Value = "beneficence"
	ValueAutonomy       Value = "autonomy"
	ValueNonMaleficence Value = "non-maleficence"
	ValueJustice        Value = "justice"
)

// Values returns the framework in canonical order.
func Values() []Value {
	return []Value{ValueBeneficence, ValueAutonomy, ValueNonMaleficence, ValueJustice}
}

// IsValid reports whether v is a member of the framework.
func (v Value) IsValid() bool {
	switch v {
	case ValueBeneficence, ValueAutonomy, ValueNonMaleficence, ValueJustice:
		return true
	}
	return false
}

// String returns the string representation of the value.
func (v Value) String() string {
	return string(v)
}

// ParseValue converts a loosely spelled value name into a Value.
// Returns empty for anything outside the framework.
func ParseValue(s string) Value {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	switch norm {
	case "beneficence":
		return ValueBeneficence
	case "autonomy":
		return ValueAutonomy
	case "non-maleficence", "nonmaleficence":
		return ValueNonMaleficence
	case "justice":
		return ValueJustice
	}
	return ""
}

// UnmarshalText accepts any spelling ParseValue understands. Unknown names are
// kept verbatim so the validator can report them instead of failing the decode.
func (v *Value) UnmarshalText(text []byte) error {
	if parsed := ParseValue(string(text)); parsed != "" {
		*v = parsed
		return nil
	}
	*v = Value(strings.TrimSpace(string(text)))
	return nil
}

// ValuePair is an unordered pair of values, normalized so that equal pairs
// compare equal regardless of which choice carried which value.
type ValuePair [2]Value

// NewValuePair returns the normalized pair for a and b.
func NewValuePair(a, b Value) ValuePair {
	if a > b {
		a, b = b, a
	}
	return ValuePair{a, b}
}

// String renders the pair as "a/b".
func (p ValuePair) String() string {
	return fmt.Sprintf("%s/%s", p[0], p[1])
}

// Alignment is the stance a choice takes toward one value.
type Alignment string

// Alignment stances.
const (
	AlignmentPromotes Alignment = "promotes"
	AlignmentViolates Alignment = "violates"
	AlignmentNeutral  Alignment = "neutral"
)

// IsValid reports whether a is a known stance.
func (a Alignment) IsValid() bool {
	switch a {
	case AlignmentPromotes, AlignmentViolates, AlignmentNeutral:
		return true
	}
	return false
}

// SameValueSet reports whether values contains exactly the four framework
// values, in any order, with no duplicates.
func SameValueSet(values []Value) bool {
	if len(values) != len(Values()) {
		return false
	}
	got := make([]string, 0, len(values))
	for _, v := range values {
		got = append(got, string(ParseValue(string(v))))
	}
	sort.Strings(got)
	want := make([]string, 0, len(values))
	for _, v := range Values() {
		want = append(want, string(v))
	}
	sort.Strings(want)
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
