package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/llm/testutil"
	"github.com/c360studio/semdilemma/vignette"
)

type stubReviewer struct {
	name     string
	role     vignette.Role
	criteria []Criterion
	results  []vignette.CriterionResult
	err      error
	block    time.Duration
	mutate   bool
}

func (s *stubReviewer) Name() string        { return s.name }
func (s *stubReviewer) Role() vignette.Role { return s.role }

func (s *stubReviewer) Criteria(*vignette.Artifact) []Criterion { return s.criteria }

func (s *stubReviewer) Review(_ context.Context, a *vignette.Artifact, _ []Criterion) ([]vignette.CriterionResult, error) {
	if s.mutate {
		a.Narrative = "rewritten by reviewer"
	}
	if s.block > 0 {
		// Deliberately ignores ctx.
		time.Sleep(s.block)
	}
	return s.results, s.err
}

func crit(ids ...vignette.CriterionID) []Criterion {
	out := make([]Criterion, len(ids))
	for i, id := range ids {
		out[i] = Criterion{ID: id}
	}
	return out
}

func pass(id vignette.CriterionID) vignette.CriterionResult {
	return vignette.CriterionResult{Criterion: id, Pass: true, Rationale: string(id) + " ok"}
}

func fail(id vignette.CriterionID, edit string) vignette.CriterionResult {
	return vignette.CriterionResult{Criterion: id, Rationale: string(id) + " broken", SuggestedEdit: edit}
}

func clinicalStub(results ...vignette.CriterionResult) *stubReviewer {
	return &stubReviewer{
		name:     "clinical-reviewer",
		role:     vignette.RoleClinical,
		criteria: crit(CriterionClinicalPlausibility, CriterionNonTriviality),
		results:  results,
	}
}

func ethicalStub(results ...vignette.CriterionResult) *stubReviewer {
	return &stubReviewer{
		name:     "ethical-reviewer",
		role:     vignette.RoleEthical,
		criteria: crit(CriterionGenuineDilemma, CriterionNonTriviality, CriterionNeutralFraming),
		results:  results,
	}
}

func stylisticStub(results ...vignette.CriterionResult) *stubReviewer {
	return &stubReviewer{
		name:     "style-reviewer",
		role:     vignette.RoleStylistic,
		criteria: crit(CriterionClarity, CriterionNeutralFraming),
		results:  results,
	}
}

func allPassing() []Reviewer {
	return []Reviewer{
		clinicalStub(pass(CriterionClinicalPlausibility), pass(CriterionNonTriviality)),
		ethicalStub(pass(CriterionGenuineDilemma), pass(CriterionNonTriviality), pass(CriterionNeutralFraming)),
		stylisticStub(pass(CriterionClarity), pass(CriterionNeutralFraming)),
	}
}

func TestCritique_AllPass(t *testing.T) {
	fb, err := NewAggregator(allPassing()).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	assert.True(t, fb.Passed)
	assert.Empty(t, fb.Items)
	assert.Equal(t, vignette.SourceRubric, fb.Source)
}

func TestCritique_ConflictKeepsBothSides(t *testing.T) {
	reviewers := allPassing()
	reviewers[0] = clinicalStub(
		pass(CriterionClinicalPlausibility),
		fail(CriterionNonTriviality, "Remove the guideline that settles the case."),
	)

	fb, err := NewAggregator(reviewers).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	require.False(t, fb.Passed)
	require.Len(t, fb.Items, 1)

	item := fb.Items[0]
	assert.Equal(t, CriterionNonTriviality, item.Criterion)
	assert.Equal(t, vignette.RoleClinical, item.Role)
	assert.Equal(t, "Remove the guideline that settles the case.", item.SuggestedEdit)
	require.Len(t, item.Notes, 1)
	assert.Equal(t, vignette.RoleEthical, item.Notes[0].Role)
	assert.True(t, item.Notes[0].Pass)
}

func TestCritique_SharedFailureSurfacesHighestRole(t *testing.T) {
	reviewers := []Reviewer{
		stylisticStub(pass(CriterionClarity), fail(CriterionNeutralFraming, "style edit")),
		ethicalStub(pass(CriterionGenuineDilemma), pass(CriterionNonTriviality), fail(CriterionNeutralFraming, "ethics edit")),
	}

	fb, err := NewAggregator(reviewers).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	require.Len(t, fb.Items, 1)
	assert.Equal(t, vignette.RoleEthical, fb.Items[0].Role)
	assert.Equal(t, "ethics edit", fb.Items[0].SuggestedEdit)
	require.Len(t, fb.Items[0].Notes, 1)
	assert.False(t, fb.Items[0].Notes[0].Pass)
	assert.Equal(t, "style-reviewer", fb.Items[0].Notes[0].Reviewer)
}

func TestCritique_IndependentFailuresOrderedByPrecedence(t *testing.T) {
	reviewers := []Reviewer{
		stylisticStub(fail(CriterionClarity, "s"), pass(CriterionNeutralFraming)),
		ethicalStub(fail(CriterionGenuineDilemma, "e"), pass(CriterionNonTriviality), pass(CriterionNeutralFraming)),
		clinicalStub(fail(CriterionClinicalPlausibility, "c1"), fail(CriterionNonTriviality, "c2")),
	}

	fb, err := NewAggregator(reviewers).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	assert.Equal(t, []vignette.CriterionID{
		CriterionClinicalPlausibility,
		CriterionNonTriviality,
		CriterionGenuineDilemma,
		CriterionClarity,
	}, fb.Criteria())
}

func TestCritique_ReviewerErrorFailsClosed(t *testing.T) {
	reviewers := allPassing()
	reviewers[2] = &stubReviewer{
		name:     "style-reviewer",
		role:     vignette.RoleStylistic,
		criteria: crit(CriterionClarity, CriterionNeutralFraming),
		err:      errors.New("connection refused"),
	}

	fb, err := NewAggregator(reviewers).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	require.False(t, fb.Passed)

	clarity, ok := fb.Item(CriterionClarity)
	require.True(t, ok)
	assert.True(t, clarity.Indeterminate)
	assert.Contains(t, clarity.Rationale, "connection refused")

	// Ethics passed neutral_framing, but the stylistic half is unknown.
	framing, ok := fb.Item(CriterionNeutralFraming)
	require.True(t, ok)
	assert.True(t, framing.Indeterminate)
	assert.Equal(t, vignette.RoleStylistic, framing.Role)
}

func TestCritique_TimeoutFailsClosed(t *testing.T) {
	reviewers := allPassing()
	slow := clinicalStub(pass(CriterionClinicalPlausibility), pass(CriterionNonTriviality))
	slow.block = 2 * time.Second
	reviewers[0] = slow

	start := time.Now()
	fb, err := NewAggregator(reviewers, WithReviewerTimeout(30*time.Millisecond)).
		Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.False(t, fb.Passed)
	item, ok := fb.Item(CriterionClinicalPlausibility)
	require.True(t, ok)
	assert.True(t, item.Indeterminate)
	assert.Contains(t, item.Rationale, "timed out")
}

func TestCritique_MalformedVerdictSets(t *testing.T) {
	tests := []struct {
		name    string
		results []vignette.CriterionResult
		want    string
	}{
		{
			name:    "missing verdict",
			results: []vignette.CriterionResult{pass(CriterionClinicalPlausibility)},
			want:    "verdict missing",
		},
		{
			name: "duplicate verdicts",
			results: []vignette.CriterionResult{
				pass(CriterionClinicalPlausibility),
				pass(CriterionNonTriviality),
				fail(CriterionNonTriviality, "x"),
			},
			want: "conflicting verdicts",
		},
		{
			name: "failure without edit",
			results: []vignette.CriterionResult{
				pass(CriterionClinicalPlausibility),
				fail(CriterionNonTriviality, ""),
			},
			want: "without a suggested edit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reviewers := []Reviewer{clinicalStub(tt.results...)}
			fb, err := NewAggregator(reviewers).Critique(context.Background(), sampleArtifact())
			require.NoError(t, err)
			require.Len(t, fb.Items, 1)
			assert.Equal(t, CriterionNonTriviality, fb.Items[0].Criterion)
			assert.True(t, fb.Items[0].Indeterminate)
			assert.Contains(t, fb.Items[0].Rationale, tt.want)
		})
	}
}

func TestCritique_DeterminateFailureBeatsIndeterminate(t *testing.T) {
	reviewers := []Reviewer{
		&stubReviewer{
			name:     "clinical-reviewer",
			role:     vignette.RoleClinical,
			criteria: crit(CriterionNonTriviality),
			err:      errors.New("boom"),
		},
		ethicalStub(pass(CriterionGenuineDilemma), fail(CriterionNonTriviality, "add a competing obligation"), pass(CriterionNeutralFraming)),
	}

	fb, err := NewAggregator(reviewers).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	require.Len(t, fb.Items, 1)
	item := fb.Items[0]
	assert.False(t, item.Indeterminate)
	assert.Equal(t, vignette.RoleEthical, item.Role)
	require.Len(t, item.Notes, 1)
	assert.Equal(t, vignette.RoleClinical, item.Notes[0].Role)
}

func TestCritique_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAggregator(allPassing()).Critique(ctx, sampleArtifact())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCritique_NilArtifact(t *testing.T) {
	_, err := NewAggregator(allPassing()).Critique(context.Background(), nil)
	assert.Error(t, err)
}

func TestCritique_ReviewersGetCopies(t *testing.T) {
	reviewers := allPassing()
	reviewers[1].(*stubReviewer).mutate = true
	a := sampleArtifact()
	original := a.Narrative

	_, err := NewAggregator(reviewers).Critique(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, original, a.Narrative)
}

func TestCritique_VerdictHook(t *testing.T) {
	reviewers := allPassing()
	reviewers[0] = &stubReviewer{
		name:     "clinical-reviewer",
		role:     vignette.RoleClinical,
		criteria: crit(CriterionClinicalPlausibility, CriterionNonTriviality),
		err:      errors.New("down"),
	}

	var mu sync.Mutex
	indeterminate := map[string]int{}
	total := 0
	hook := func(reviewer string, r vignette.CriterionResult) {
		mu.Lock()
		defer mu.Unlock()
		total++
		if r.Indeterminate {
			indeterminate[reviewer]++
		}
	}

	_, err := NewAggregator(reviewers, WithVerdictHook(hook)).Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Equal(t, map[string]int{"clinical-reviewer": 2}, indeterminate)
}

// Full path: three rubric reviewers over one scripted completion service.
func TestCritique_RubricReviewersEndToEnd(t *testing.T) {
	mock := &testutil.MockLLMClient{
		Handler: func(_ context.Context, req llm.Request) (*llm.Response, error) {
			system := req.Messages[0].Content
			switch {
			case strings.Contains(system, "Medical Director"):
				return &llm.Response{Content: `{"verdicts": [
					{"criterion": "clinical_plausibility", "pass": true, "rationale": "fine"},
					{"criterion": "decision_authority", "pass": true, "rationale": "fine"},
					{"criterion": "non_triviality", "pass": false, "rationale": "Guidelines settle this.", "suggested_edit": "Make the patient's capacity uncertain."}
				]}`}, nil
			case strings.Contains(system, "Ethics Professor"):
				return &llm.Response{Content: `{"verdicts": [
					{"criterion": "genuine_dilemma", "pass": true, "rationale": "fine"},
					{"criterion": "value_mapping", "pass": true, "rationale": "fine"},
					{"criterion": "non_triviality", "pass": true, "rationale": "Hard call."},
					{"criterion": "neutral_framing", "pass": true, "rationale": "fine"},
					{"criterion": "value_clarity:beneficence", "pass": true, "rationale": "fine"},
					{"criterion": "value_clarity:autonomy", "pass": true, "rationale": "fine"}
				]}`}, nil
			default:
				return &llm.Response{Content: "not json at all"}, nil
			}
		},
	}

	agg := NewAggregator(DefaultReviewers(mock, catalogue(t)))
	fb, err := agg.Critique(context.Background(), sampleArtifact())
	require.NoError(t, err)
	require.False(t, fb.Passed)

	// Clinical outranks ethics on the shared criterion; the style reviewer
	// never produced JSON so its criteria fail closed after it.
	assert.Equal(t, CriterionNonTriviality, fb.Items[0].Criterion)
	assert.Equal(t, vignette.RoleClinical, fb.Items[0].Role)
	assert.Equal(t, "Make the patient's capacity uncertain.", fb.Items[0].SuggestedEdit)

	for _, item := range fb.Items[1:] {
		assert.Equal(t, vignette.RoleStylistic, item.Role)
		assert.True(t, item.Indeterminate)
	}
	assert.True(t, fb.Has(CriterionClarity))
	assert.True(t, fb.Has(CriterionConciseness))
	assert.True(t, fb.Has(CriterionNeutralFraming))

	// 1 clinical + 1 ethical + 3 stylistic attempts.
	assert.Equal(t, 5, mock.GetCallCount())
}
