package vignette

import (
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Choice is one of the two actions available to the decision maker.
type Choice struct {
	// Description is the action, phrased as something the decision maker does.
	Description string `json:"description"`

	// Value is the framework value this choice upholds.
	Value Value `json:"value"`

	// Alignments optionally records the choice's stance toward every value.
	Alignments map[Value]Alignment `json:"alignments,omitempty"`
}

// Artifact is a candidate vignette under construction.
type Artifact struct {
	ID            string `json:"id"`
	Domain        string `json:"domain,omitempty"`
	DecisionMaker string `json:"decision_maker"`
	Narrative     string `json:"narrative"`
	Choice1       Choice `json:"choice_1"`
	Choice2       Choice `json:"choice_2"`

	// Revision counts how many times the artifact has been revised.
	// A fresh draft is revision 0.
	Revision int `json:"revision"`

	// ParentID is the artifact this one was revised from (empty for drafts).
	ParentID string `json:"parent_id,omitempty"`

	// Provenance lists every ancestor ID, oldest first.
	// len(Provenance) == Revision always holds for artifacts built by Derive.
	Provenance []string `json:"provenance,omitempty"`

	// Seed is the seed case text the original draft was generated from.
	Seed string `json:"seed,omitempty"`
}

// NewDraft returns a revision-0 artifact with a fresh ID.
func NewDraft(seed string) *Artifact {
	return &Artifact{
		ID:   uuid.New().String(),
		Seed: seed,
	}
}

// Derive returns a new artifact that records a as its parent. The content of
// next is kept, identity and lineage are overwritten.
func (a *Artifact) Derive(next *Artifact) *Artifact {
	out := next.Clone()
	out.ID = uuid.New().String()
	out.Revision = a.Revision + 1
	out.ParentID = a.ID
	out.Provenance = append(slices.Clone(a.Provenance), a.ID)
	out.Seed = a.Seed
	return out
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	out.Choice1 = a.Choice1.clone()
	out.Choice2 = a.Choice2.clone()
	out.Provenance = slices.Clone(a.Provenance)
	return &out
}

func (c Choice) clone() Choice {
	c.Alignments = maps.Clone(c.Alignments)
	return c
}

// Values returns the values the two choices map to.
func (a *Artifact) Values() ValuePair {
	return NewValuePair(a.Choice1.Value, a.Choice2.Value)
}

// WordCount returns the number of words in the narrative.
func (a *Artifact) WordCount() int {
	return CountWords(a.Narrative)
}

// CountWords counts whitespace separated tokens that contain at least one
// letter or digit. Stray punctuation such as a spaced dash is not a word.
func CountWords(s string) int {
	n := 0
	for _, field := range strings.Fields(s) {
		if strings.IndexFunc(field, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) >= 0 {
			n++
		}
	}
	return n
}
