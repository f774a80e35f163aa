package validation

import (
	"strings"
	"unicode"
)

// stopWords are dropped before comparing texts for substance.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"he": {}, "she": {}, "they": {}, "his": {}, "her": {}, "their": {}, "them": {}, "him": {},
	"who": {}, "whom": {}, "which": {}, "what": {}, "will": {}, "would": {}, "should": {},
	"can": {}, "could": {}, "may": {}, "might": {}, "must": {}, "has": {}, "have": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "so": {}, "if": {}, "then": {}, "than": {}, "into": {},
	"about": {}, "after": {}, "before": {}, "while": {}, "not": {}, "no": {}, "any": {},
	"all": {}, "some": {}, "your": {}, "you": {}, "despite": {}, "instead": {},
}

// negations mark a choice as the refusal of an action. FieldsFunc splits
// "don't" into "don" and "t".
var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "don": {}, "doesn": {}, "won": {}, "cannot": {},
	"without": {}, "withhold": {}, "decline": {}, "refuse": {}, "forgo": {}, "forego": {},
}

// Negated reports whether s contains a negation or refusal word.
func Negated(s string) bool {
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := negations[f]; ok {
			return true
		}
	}
	return false
}

// ContentWords lowercases s, splits it on anything that is not a letter or
// digit, and drops stop words. Order and duplicates are preserved.
func ContentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TokenSet returns the set of content words in s.
func TokenSet(s string) map[string]struct{} {
	words := ContentWords(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical (1.0).
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
