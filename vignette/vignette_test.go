package vignette

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  Value
	}{
		{"autonomy", ValueAutonomy},
		{"Autonomy", ValueAutonomy},
		{" justice ", ValueJustice},
		{"nonmaleficence", ValueNonMaleficence},
		{"non_maleficence", ValueNonMaleficence},
		{"Non-Maleficence", ValueNonMaleficence},
		{"beneficence", ValueBeneficence},
		{"fidelity", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseValue(tt.input))
		})
	}
}

func TestValue_UnmarshalJSON(t *testing.T) {
	var c Choice
	require.NoError(t, json.Unmarshal([]byte(`{"description":"x","value":"nonmaleficence"}`), &c))
	assert.Equal(t, ValueNonMaleficence, c.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"description":"x","value":"loyalty"}`), &c))
	assert.Equal(t, Value("loyalty"), c.Value)
	assert.False(t, c.Value.IsValid())
}

func TestNewValuePair_Unordered(t *testing.T) {
	assert.Equal(t, NewValuePair(ValueAutonomy, ValueJustice), NewValuePair(ValueJustice, ValueAutonomy))
	assert.NotEqual(t, NewValuePair(ValueAutonomy, ValueJustice), NewValuePair(ValueAutonomy, ValueBeneficence))
}

func TestSameValueSet(t *testing.T) {
	assert.True(t, SameValueSet(Values()))
	assert.True(t, SameValueSet([]Value{"justice", "autonomy", "nonmaleficence", "beneficence"}))
	assert.False(t, SameValueSet([]Value{ValueAutonomy, ValueJustice}))
	assert.False(t, SameValueSet([]Value{ValueAutonomy, ValueAutonomy, ValueJustice, ValueBeneficence}))
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords(""))
	assert.Equal(t, 3, CountWords("one two three"))
	assert.Equal(t, 3, CountWords("one — two three"))
	assert.Equal(t, 2, CountWords("  72-year-old  patient\n"))
}

func TestArtifact_DeriveKeepsLineage(t *testing.T) {
	draft := NewDraft("seed text")
	draft.Narrative = "first"

	rev1 := draft.Derive(&Artifact{Narrative: "second"})
	rev2 := rev1.Derive(&Artifact{Narrative: "third"})

	assert.Equal(t, 1, rev1.Revision)
	assert.Equal(t, 2, rev2.Revision)
	assert.Equal(t, rev1.ID, rev2.ParentID)
	assert.Equal(t, []string{draft.ID, rev1.ID}, rev2.Provenance)
	assert.Len(t, rev2.Provenance, rev2.Revision)
	assert.Equal(t, "seed text", rev2.Seed)
	assert.NotEqual(t, rev1.ID, rev2.ID)

	// Deriving must not alias the parent's provenance.
	rev1b := rev1.Derive(&Artifact{Narrative: "branch"})
	assert.Equal(t, []string{draft.ID, rev1.ID}, rev2.Provenance)
	assert.Equal(t, []string{draft.ID, rev1.ID}, rev1b.Provenance)
}

func TestArtifact_CloneIsDeep(t *testing.T) {
	a := &Artifact{
		ID:         "a",
		Provenance: []string{"p"},
		Choice1: Choice{
			Description: "x",
			Value:       ValueAutonomy,
			Alignments:  map[Value]Alignment{ValueAutonomy: AlignmentPromotes},
		},
	}
	b := a.Clone()
	b.Provenance[0] = "changed"
	b.Choice1.Alignments[ValueAutonomy] = AlignmentViolates

	assert.Equal(t, "p", a.Provenance[0])
	assert.Equal(t, AlignmentPromotes, a.Choice1.Alignments[ValueAutonomy])
	assert.Nil(t, (*Artifact)(nil).Clone())
}

func TestArtifact_JSONRoundTrip(t *testing.T) {
	a := &Artifact{
		ID:            "id-1",
		Domain:        "oncology",
		DecisionMaker: "attending oncologist",
		Narrative:     "A patient declines chemotherapy.",
		Choice1: Choice{
			Description: "Respect the refusal",
			Value:       ValueAutonomy,
			Alignments:  map[Value]Alignment{ValueAutonomy: AlignmentPromotes, ValueBeneficence: AlignmentViolates},
		},
		Choice2:    Choice{Description: "Seek a court order", Value: ValueBeneficence},
		Revision:   2,
		ParentID:   "id-0",
		Provenance: []string{"id-x", "id-0"},
		Seed:       "seed",
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var got Artifact
	require.NoError(t, json.Unmarshal(data, &got))
	if diff := cmp.Diff(a, &got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRolePrecedence(t *testing.T) {
	assert.True(t, RoleClinical.Outranks(RoleEthical))
	assert.True(t, RoleEthical.Outranks(RoleStylistic))
	assert.False(t, RoleStylistic.Outranks(RoleClinical))
	assert.False(t, RoleEthical.Outranks(RoleEthical))
}

func TestFeedbackFromResults(t *testing.T) {
	fb := FeedbackFromResults([]CriterionResult{
		{Criterion: "a", Role: RoleStructural, Pass: true},
		{Criterion: "b", Role: RoleStructural, Pass: false, Rationale: "too long", SuggestedEdit: "shorten"},
	})

	assert.False(t, fb.Passed)
	assert.Equal(t, SourceStructural, fb.Source)
	assert.Equal(t, []CriterionID{"b"}, fb.Criteria())
	assert.True(t, fb.Has("b"))
	assert.False(t, fb.Has("a"))

	ok := FeedbackFromResults([]CriterionResult{{Criterion: "a", Pass: true}})
	assert.True(t, ok.Passed)
	assert.Empty(t, ok.Items)
}

func TestFeedback_Format(t *testing.T) {
	var empty *Feedback
	assert.Equal(t, "No issues detected.", empty.Format())

	fb := &Feedback{}
	fb.Add(FeedbackItem{
		Criterion:     "non_triviality",
		Role:          RoleEthical,
		Rationale:     "one option is clearly better",
		SuggestedEdit: "raise the cost of choice 2",
		Notes:         []Note{{Role: RoleClinical, Pass: true, Rationale: "clinically balanced"}},
	})
	out := fb.Format()

	assert.False(t, fb.Passed)
	assert.True(t, strings.HasPrefix(out, "1. [ethical] non_triviality"))
	assert.Contains(t, out, "Required edit: raise the cost of choice 2")
	assert.Contains(t, out, "Also noted by clinical (pass): clinically balanced")
}
