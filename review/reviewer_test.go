package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/llm/testutil"
	"github.com/c360studio/semdilemma/prompts"
	"github.com/c360studio/semdilemma/vignette"
)

func catalogue(t *testing.T) *prompts.Catalogue {
	t.Helper()
	c, err := prompts.Default()
	require.NoError(t, err)
	return c
}

func sampleArtifact() *vignette.Artifact {
	return &vignette.Artifact{
		ID:            "a-1",
		Domain:        "nephrology",
		DecisionMaker: "attending nephrologist",
		Narrative:     "A lucid patient on dialysis asks to stop treatment after a hard month.",
		Choice1:       vignette.Choice{Description: "Stop dialysis as requested.", Value: vignette.ValueAutonomy},
		Choice2:       vignette.Choice{Description: "Continue dialysis for one more week.", Value: vignette.ValueBeneficence},
	}
}

func TestRubricReviewer_Review(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: "```json\n" + `{
		"verdicts": [
			{"criterion": "clarity", "pass": true, "rationale": "Clear."},
			{"criterion": " Conciseness ", "pass": false, "rationale": "Padding.", "suggested_edit": "Cut the second sentence."}
		]
	}` + "\n```"}}}

	r := NewStylisticReviewer(mock, catalogue(t), WithTemperature(0.1))
	results, err := r.Review(context.Background(), sampleArtifact(), r.Criteria(sampleArtifact()))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, CriterionConciseness, results[1].Criterion)
	assert.Equal(t, vignette.RoleStylistic, results[1].Role)
	assert.Equal(t, "style-reviewer", results[1].Reviewer)
	assert.Equal(t, "Cut the second sentence.", results[1].SuggestedEdit)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "reviewing", reqs[0].Capability)
	require.NotNil(t, reqs[0].Temperature)
	assert.InDelta(t, 0.1, *reqs[0].Temperature, 1e-9)
	assert.Contains(t, reqs[0].Messages[0].Content, "Senior Medical Editor")
	assert.Contains(t, reqs[0].Messages[1].Content, "Stop dialysis as requested.")
}

func TestRubricReviewer_FormatCorrection(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "Looks good to me!"},
		{Content: `{"verdicts": [{"criterion": "clarity", "pass": true, "rationale": "ok"}]}`},
	}}

	r := NewStylisticReviewer(mock, catalogue(t))
	results, err := r.Review(context.Background(), sampleArtifact(), r.Criteria(sampleArtifact()))
	require.NoError(t, err)
	assert.Len(t, results, 1)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	retry := reqs[1].Messages
	require.Len(t, retry, len(reqs[0].Messages)+2)
	assert.Equal(t, "assistant", retry[len(retry)-2].Role)
	assert.Equal(t, "Looks good to me!", retry[len(retry)-2].Content)
	assert.Contains(t, retry[len(retry)-1].Content, "could not be used")
}

func TestRubricReviewer_MalformedExhausted(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "no"}, {Content: `{"verdicts": []}`}, {Content: "still no"},
	}}

	r := NewClinicalReviewer(mock, catalogue(t))
	_, err := r.Review(context.Background(), sampleArtifact(), r.Criteria(sampleArtifact()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedVerdicts)
	assert.Equal(t, 1+DefaultMaxFormatRetries, mock.GetCallCount())
}

func TestRubricReviewer_CompletionError(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: llm.NewFatalError(errors.New("unauthorized"))}

	r := NewClinicalReviewer(mock, catalogue(t), WithMaxFormatRetries(5))
	_, err := r.Review(context.Background(), sampleArtifact(), r.Criteria(sampleArtifact()))
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRubricReviewer_NilArtifact(t *testing.T) {
	r := NewClinicalReviewer(&testutil.MockLLMClient{}, catalogue(t))
	_, err := r.Review(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRubricReviewer_Criteria(t *testing.T) {
	a := sampleArtifact()
	a.Choice2.Alignments = map[vignette.Value]vignette.Alignment{
		vignette.ValueJustice:        vignette.AlignmentViolates,
		vignette.ValueNonMaleficence: vignette.AlignmentNeutral,
	}
	cat := catalogue(t)

	clinical := NewClinicalReviewer(nil, cat).Criteria(a)
	for _, c := range clinical {
		assert.False(t, IsValueClarity(c.ID), "clinical reviewer should not score value clarity")
	}

	ethical := NewEthicalReviewer(nil, cat).Criteria(a)
	var clarity []vignette.CriterionID
	for _, c := range ethical {
		if IsValueClarity(c.ID) {
			clarity = append(clarity, c.ID)
		}
	}
	assert.Equal(t, []vignette.CriterionID{
		"value_clarity:beneficence",
		"value_clarity:autonomy",
		"value_clarity:justice",
	}, clarity)

	// The rubric itself is never extended in place.
	assert.Len(t, EthicalRubric().Criteria, 4)
}

func TestRubrics_ShareCriteria(t *testing.T) {
	ids := func(r Rubric) map[vignette.CriterionID]bool {
		out := make(map[vignette.CriterionID]bool)
		for _, c := range r.Criteria {
			out[c.ID] = true
		}
		return out
	}
	clinical, ethical, stylistic := ids(ClinicalRubric()), ids(EthicalRubric()), ids(StylisticRubric())

	assert.True(t, clinical[CriterionNonTriviality] && ethical[CriterionNonTriviality])
	assert.True(t, ethical[CriterionNeutralFraming] && stylistic[CriterionNeutralFraming])
}
