package revision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/llm/testutil"
	"github.com/c360studio/semdilemma/prompts"
	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

const draftReply = `{
	"domain": "nephrology",
	"decision_maker": "attending nephrologist",
	"narrative": "A lucid patient on dialysis asks to stop treatment.",
	"choice_1": {"description": " Stop dialysis as requested. ", "value": "autonomy",
	             "alignments": {"autonomy": "promotes", "beneficence": "violates"}},
	"choice_2": {"description": "Continue dialysis for one more week.", "value": "Beneficence"}
}`

var fastPolicy = Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func newEngine(t *testing.T, mock *testutil.MockLLMClient, opts ...Option) *Engine {
	t.Helper()
	cat, err := prompts.Default()
	require.NoError(t, err)
	return NewEngine(mock, cat, append([]Option{WithPolicy(fastPolicy)}, opts...)...)
}

func TestDraft(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: draftReply}}}
	e := newEngine(t, mock, WithTemperature(0.7))

	a, err := e.Draft(context.Background(), "  An elderly patient refuses dialysis.  ")
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, 0, a.Revision)
	assert.Empty(t, a.Provenance)
	assert.Equal(t, "An elderly patient refuses dialysis.", a.Seed)
	assert.Equal(t, "nephrology", a.Domain)
	assert.Equal(t, "Stop dialysis as requested.", a.Choice1.Description)
	assert.Equal(t, vignette.ValueAutonomy, a.Choice1.Value)
	assert.Equal(t, vignette.ValueBeneficence, a.Choice2.Value)
	assert.Equal(t, vignette.AlignmentViolates, a.Choice1.Alignments[vignette.ValueBeneficence])

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "drafting", reqs[0].Capability)
	assert.Contains(t, reqs[0].Messages[1].Content, "An elderly patient refuses dialysis.")
	require.NotNil(t, reqs[0].Temperature)
}

func TestDraft_AcceptsVignetteKey(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"decision_maker": "nurse", "vignette": "A nurse must choose.", "choice_1": {}, "choice_2": {}}`,
	}}}
	a, err := newEngine(t, mock).Draft(context.Background(), "seed")
	require.NoError(t, err)
	assert.Equal(t, "A nurse must choose.", a.Narrative)
}

func TestDraft_WithoutSeed(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: draftReply}}}
	a, err := newEngine(t, mock).Draft(context.Background(), "   ")
	require.NoError(t, err)

	assert.Empty(t, a.Seed)
	assert.Equal(t, 0, a.Revision)
	assert.Equal(t, "nephrology", a.Domain)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[1].Content, "Invent a new case")
	assert.NotContains(t, reqs[0].Messages[1].Content, "Seed case:")
}

func TestRevise_Lineage(t *testing.T) {
	prev := &vignette.Artifact{
		ID:            "prev-id",
		Domain:        "nephrology",
		DecisionMaker: "attending nephrologist",
		Narrative:     "Old narrative about autonomy.",
		Revision:      2,
		Provenance:    []string{"root", "mid"},
		ParentID:      "mid",
		Seed:          "seed text",
	}
	fb := &vignette.Feedback{Source: vignette.SourceStructural}
	fb.Add(vignette.FeedbackItem{
		Criterion:     validation.CriterionForbiddenLexicon,
		Role:          vignette.RoleStructural,
		Rationale:     `narrative uses "autonomy"`,
		SuggestedEdit: "remove the value names",
	})

	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"narrative": "New narrative.", "choice_1": {"description": "a", "value": "autonomy"}, "choice_2": {"description": "b", "value": "justice"}}`,
	}}}
	next, err := newEngine(t, mock).Revise(context.Background(), prev, fb)
	require.NoError(t, err)

	assert.NotEqual(t, prev.ID, next.ID)
	assert.Equal(t, 3, next.Revision)
	assert.Equal(t, "prev-id", next.ParentID)
	assert.Equal(t, []string{"root", "mid", "prev-id"}, next.Provenance)
	assert.Equal(t, "seed text", next.Seed)
	assert.Equal(t, "nephrology", next.Domain, "domain falls back to the previous artifact")
	assert.Equal(t, "attending nephrologist", next.DecisionMaker)
	assert.Equal(t, "New narrative.", next.Narrative)

	// prev is untouched.
	assert.Equal(t, []string{"root", "mid"}, prev.Provenance)
	assert.Equal(t, "Old narrative about autonomy.", prev.Narrative)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "revising", reqs[0].Capability)
	assert.Contains(t, reqs[0].Messages[0].Content, "Strip every one")
	assert.NotContains(t, reqs[0].Messages[0].Content, "too similar")
	assert.Contains(t, reqs[0].Messages[1].Content, "remove the value names")
	assert.Contains(t, reqs[0].Messages[1].Content, "Old narrative about autonomy.")
}

func TestRevise_NoveltyInstruction(t *testing.T) {
	fb := &vignette.Feedback{Source: vignette.SourceRubric}
	fb.Add(vignette.FeedbackItem{Criterion: "novelty", Role: vignette.RoleNovelty, SuggestedEdit: "differentiate"})

	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: draftReply}}}
	_, err := newEngine(t, mock).Revise(context.Background(), vignette.NewDraft("s"), fb)
	require.NoError(t, err)
	assert.Contains(t, mock.Requests()[0].Messages[0].Content, "too similar")
}

func TestRevise_RevisionEqualsProvenanceLength(t *testing.T) {
	mock := &testutil.MockLLMClient{Handler: func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: draftReply}, nil
	}}
	e := newEngine(t, mock)

	a := vignette.NewDraft("seed")
	for i := 1; i <= 4; i++ {
		next, err := e.Revise(context.Background(), a, nil)
		require.NoError(t, err)
		assert.Equal(t, i, next.Revision)
		assert.Len(t, next.Provenance, next.Revision)
		assert.Greater(t, next.Revision, a.Revision)
		a = next
	}
}

func TestRevise_NilArtifact(t *testing.T) {
	_, err := newEngine(t, &testutil.MockLLMClient{}).Revise(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestGenerate_MalformedThenValid(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "Here is your vignette: a patient..."},
		{Content: draftReply},
	}}
	a, err := newEngine(t, mock).Draft(context.Background(), "seed")
	require.NoError(t, err)
	assert.Equal(t, "nephrology", a.Domain)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, len(reqs[0].Messages)+2)
}

func TestGenerate_MalformedExhausted(t *testing.T) {
	mock := &testutil.MockLLMClient{Handler: func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "I cannot produce JSON today."}, nil
	}}
	_, err := newEngine(t, mock).Draft(context.Background(), "seed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedArtifact)
	assert.NotErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, 3, mock.GetCallCount())

	// Corrections are not stacked: each retry carries one correction turn.
	reqs := mock.Requests()
	assert.Equal(t, len(reqs[1].Messages), len(reqs[2].Messages))
}

func TestGenerate_TransientExhausted(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: llm.NewTransientError(errors.New("503"))}
	_, err := newEngine(t, mock).Draft(context.Background(), "seed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.True(t, llm.IsTransient(err))
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestGenerate_FatalStopsImmediately(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: llm.NewFatalError(errors.New("401"))}
	_, err := newEngine(t, mock).Draft(context.Background(), "seed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestGenerate_RecoversFromTransient(t *testing.T) {
	calls := 0
	mock := &testutil.MockLLMClient{Handler: func(context.Context, llm.Request) (*llm.Response, error) {
		calls++
		if calls == 1 {
			return nil, llm.NewTransientError(errors.New("timeout"))
		}
		return &llm.Response{Content: draftReply}, nil
	}}
	_, err := newEngine(t, mock).Draft(context.Background(), "seed")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &testutil.MockLLMClient{Handler: func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		cancel()
		return nil, llm.NewTransientError(ctx.Err())
	}}
	_, err := newEngine(t, mock).Draft(ctx, "seed")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.GetCallCount())
}
