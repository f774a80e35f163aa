package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/prompts"
	"github.com/c360studio/semdilemma/vignette"
)

// ErrMalformedVerdicts is returned when a reviewer never produced parseable
// verdicts within its format retries.
var ErrMalformedVerdicts = errors.New("reviewer output malformed")

// Reviewer scores an artifact against a set of criteria. Implementations must
// not mutate the artifact and must honour ctx.
type Reviewer interface {
	Name() string
	Role() vignette.Role
	Criteria(a *vignette.Artifact) []Criterion
	Review(ctx context.Context, a *vignette.Artifact, criteria []Criterion) ([]vignette.CriterionResult, error)
}

// DefaultMaxFormatRetries is how many correction prompts follow an
// unparseable reviewer reply.
const DefaultMaxFormatRetries = 2

// RubricReviewer scores a rubric by asking the completion service for one
// JSON verdict per criterion.
type RubricReviewer struct {
	name             string
	rubric           Rubric
	client           llm.Completer
	catalogue        *prompts.Catalogue
	temperature      *float64
	maxFormatRetries int
	valueClarity     bool
	logger           *slog.Logger
}

var _ Reviewer = (*RubricReviewer)(nil)

// ReviewerOption configures a RubricReviewer.
type ReviewerOption func(*RubricReviewer)

// WithReviewerLogger sets the logger.
func WithReviewerLogger(logger *slog.Logger) ReviewerOption {
	return func(r *RubricReviewer) {
		r.logger = logger
	}
}

// WithTemperature sets the sampling temperature for reviewer calls.
func WithTemperature(t float64) ReviewerOption {
	return func(r *RubricReviewer) {
		r.temperature = &t
	}
}

// WithMaxFormatRetries sets how many correction prompts follow an unparseable reply.
func WithMaxFormatRetries(n int) ReviewerOption {
	return func(r *RubricReviewer) {
		r.maxFormatRetries = max(n, 0)
	}
}

// WithValueClarity adds a value_clarity criterion for every value the artifact engages.
func WithValueClarity(enabled bool) ReviewerOption {
	return func(r *RubricReviewer) {
		r.valueClarity = enabled
	}
}

// NewRubricReviewer creates a reviewer for rubric.
func NewRubricReviewer(name string, rubric Rubric, client llm.Completer, catalogue *prompts.Catalogue, opts ...ReviewerOption) *RubricReviewer {
	r := &RubricReviewer{
		name:             name,
		rubric:           rubric,
		client:           client,
		catalogue:        catalogue,
		maxFormatRetries: DefaultMaxFormatRetries,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewClinicalReviewer returns the clinical rubric reviewer.
func NewClinicalReviewer(client llm.Completer, catalogue *prompts.Catalogue, opts ...ReviewerOption) *RubricReviewer {
	return NewRubricReviewer("clinical-reviewer", ClinicalRubric(), client, catalogue, opts...)
}

// NewEthicalReviewer returns the ethical rubric reviewer, with value clarity enabled.
func NewEthicalReviewer(client llm.Completer, catalogue *prompts.Catalogue, opts ...ReviewerOption) *RubricReviewer {
	opts = append([]ReviewerOption{WithValueClarity(true)}, opts...)
	return NewRubricReviewer("ethical-reviewer", EthicalRubric(), client, catalogue, opts...)
}

// NewStylisticReviewer returns the stylistic rubric reviewer.
func NewStylisticReviewer(client llm.Completer, catalogue *prompts.Catalogue, opts ...ReviewerOption) *RubricReviewer {
	return NewRubricReviewer("style-reviewer", StylisticRubric(), client, catalogue, opts...)
}

// DefaultReviewers returns the clinical, ethical and stylistic reviewers.
func DefaultReviewers(client llm.Completer, catalogue *prompts.Catalogue, opts ...ReviewerOption) []Reviewer {
	return []Reviewer{
		NewClinicalReviewer(client, catalogue, opts...),
		NewEthicalReviewer(client, catalogue, opts...),
		NewStylisticReviewer(client, catalogue, opts...),
	}
}

// Name returns the reviewer name.
func (r *RubricReviewer) Name() string { return r.name }

// Role returns the reviewer role.
func (r *RubricReviewer) Role() vignette.Role { return r.rubric.Role }

// Criteria returns the rubric criteria, plus value clarity criteria when enabled.
func (r *RubricReviewer) Criteria(a *vignette.Artifact) []Criterion {
	out := append([]Criterion(nil), r.rubric.Criteria...)
	if r.valueClarity && a != nil {
		for _, v := range taggedValues(a) {
			out = append(out, ValueClarityCriterion(v))
		}
	}
	return out
}

type verdictOutput struct {
	Verdicts []struct {
		Criterion     string `json:"criterion"`
		Pass          bool   `json:"pass"`
		Rationale     string `json:"rationale"`
		SuggestedEdit string `json:"suggested_edit"`
	} `json:"verdicts"`
}

// Review asks the completion service for verdicts. Completeness of the
// returned verdicts is checked by the Aggregator, not here.
func (r *RubricReviewer) Review(ctx context.Context, a *vignette.Artifact, criteria []Criterion) ([]vignette.CriterionResult, error) {
	if a == nil {
		return nil, errors.New("nil artifact")
	}

	data := prompts.RubricData{
		RoleName:      r.rubric.Persona,
		Criteria:      make([]prompts.CriterionPrompt, 0, len(criteria)),
		DecisionMaker: a.DecisionMaker,
		Narrative:     a.Narrative,
		Choice1:       a.Choice1.Description,
		Choice2:       a.Choice2.Description,
		Value1:        a.Choice1.Value.String(),
		Value2:        a.Choice2.Value.String(),
	}
	for _, c := range criteria {
		data.Criteria = append(data.Criteria, prompts.CriterionPrompt{ID: string(c.ID), Description: c.Description})
	}
	msgs, err := r.catalogue.Render(prompts.Rubric, data)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxFormatRetries; attempt++ {
		resp, err := r.client.Complete(ctx, llm.Request{
			Capability:  "reviewing",
			Messages:    msgs,
			Temperature: r.temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.name, err)
		}

		var out verdictOutput
		err = llm.DecodeJSON(resp.Content, &out)
		if err == nil && len(out.Verdicts) == 0 {
			err = errors.New("verdicts list is empty")
		}
		if err == nil {
			results := make([]vignette.CriterionResult, 0, len(out.Verdicts))
			for _, v := range out.Verdicts {
				results = append(results, vignette.CriterionResult{
					Criterion:     vignette.CriterionID(strings.ToLower(strings.TrimSpace(v.Criterion))),
					Role:          r.rubric.Role,
					Reviewer:      r.name,
					Pass:          v.Pass,
					Rationale:     strings.TrimSpace(v.Rationale),
					SuggestedEdit: strings.TrimSpace(v.SuggestedEdit),
				})
			}
			return results, nil
		}

		lastErr = err
		r.logger.Debug("Reviewer reply unparseable, requesting correction",
			"reviewer", r.name,
			"attempt", attempt+1,
			"run_id", llm.RunIDFromContext(ctx),
			"error", err)
		msgs = prompts.FormatCorrection(msgs, resp.Content, err)
	}
	return nil, fmt.Errorf("%s: %w: %v", r.name, ErrMalformedVerdicts, lastErr)
}
