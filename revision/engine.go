// Package revision drafts vignettes from seed cases and revises them against
// merged feedback, retrying the completion service with bounded backoff.
package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/prompts"
	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

var (
	// ErrGenerationUnavailable means the completion service could not produce
	// a reply within the retry budget.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrMalformedArtifact means replies kept arriving but none could be
	// parsed into an artifact.
	ErrMalformedArtifact = errors.New("malformed artifact")
)

// Policy bounds the retries around a single draft or revise call.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(max(p.BackoffBase, time.Millisecond))
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(uint64(max(p.MaxAttempts, 1)-1), b)
}

// Engine turns seeds into drafts and drafts into revisions.
type Engine struct {
	client      llm.Completer
	catalogue   *prompts.Catalogue
	policy      Policy
	temperature *float64
	limits      validation.Config
	values      []string
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the retry policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithTemperature sets the sampling temperature for generation calls.
func WithTemperature(t float64) Option {
	return func(e *Engine) {
		e.temperature = &t
	}
}

// WithLimits sets the word limits quoted in prompts. They should match the
// validator's configuration.
func WithLimits(cfg validation.Config) Option {
	return func(e *Engine) {
		e.limits = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a revision engine.
func NewEngine(client llm.Completer, catalogue *prompts.Catalogue, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		catalogue: catalogue,
		policy:    DefaultPolicy(),
		limits:    validation.DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, v := range vignette.Values() {
		e.values = append(e.values, v.String())
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// artifactJSON is the shape exchanged with the completion service.
type artifactJSON struct {
	Domain        string          `json:"domain"`
	DecisionMaker string          `json:"decision_maker"`
	Narrative     string          `json:"narrative"`
	Vignette      string          `json:"vignette,omitempty"`
	Choice1       vignette.Choice `json:"choice_1"`
	Choice2       vignette.Choice `json:"choice_2"`
}

func (o *artifactJSON) narrative() string {
	if strings.TrimSpace(o.Narrative) != "" {
		return strings.TrimSpace(o.Narrative)
	}
	return strings.TrimSpace(o.Vignette)
}

// Draft generates a revision-0 artifact from a seed case. With a blank seed
// the model invents the case.
func (e *Engine) Draft(ctx context.Context, seed string) (*vignette.Artifact, error) {
	seed = strings.TrimSpace(seed)

	msgs, err := e.catalogue.Render(prompts.SeedDraft, prompts.DraftData{
		Seed:        seed,
		Values:      e.values,
		WordCeiling: e.limits.WordCeiling,
		WordFloor:   e.limits.WordFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}

	out, err := e.generate(ctx, "drafting", msgs)
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}

	a := vignette.NewDraft(seed)
	a.Domain = strings.TrimSpace(out.Domain)
	a.DecisionMaker = strings.TrimSpace(out.DecisionMaker)
	a.Narrative = out.narrative()
	a.Choice1 = trimChoice(out.Choice1)
	a.Choice2 = trimChoice(out.Choice2)
	return a, nil
}

// Revise produces the successor of prev addressing fb. The result is a new
// artifact; prev is not modified.
func (e *Engine) Revise(ctx context.Context, prev *vignette.Artifact, fb *vignette.Feedback) (*vignette.Artifact, error) {
	if prev == nil {
		return nil, errors.New("revise: nil artifact")
	}

	current, err := json.MarshalIndent(artifactJSON{
		Domain:        prev.Domain,
		DecisionMaker: prev.DecisionMaker,
		Narrative:     prev.Narrative,
		Choice1:       prev.Choice1,
		Choice2:       prev.Choice2,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("revise: encode artifact: %w", err)
	}

	msgs, err := e.catalogue.Render(prompts.Revise, prompts.ReviseData{
		ArtifactJSON:   string(current),
		Revision:       prev.Revision,
		Feedback:       fb.Format(),
		Values:         e.values,
		WordCeiling:    e.limits.WordCeiling,
		WordFloor:      e.limits.WordFloor,
		LexiconFailure: fb.Has(validation.CriterionForbiddenLexicon),
		NoveltyFailure: hasRole(fb, vignette.RoleNovelty),
	})
	if err != nil {
		return nil, fmt.Errorf("revise: %w", err)
	}

	out, err := e.generate(ctx, "revising", msgs)
	if err != nil {
		return nil, fmt.Errorf("revise: %w", err)
	}

	next := &vignette.Artifact{
		Domain:        strings.TrimSpace(out.Domain),
		DecisionMaker: strings.TrimSpace(out.DecisionMaker),
		Narrative:     out.narrative(),
		Choice1:       trimChoice(out.Choice1),
		Choice2:       trimChoice(out.Choice2),
	}
	if next.Domain == "" {
		next.Domain = prev.Domain
	}
	if next.DecisionMaker == "" {
		next.DecisionMaker = prev.DecisionMaker
	}
	return prev.Derive(next), nil
}

// generate calls the completion service under the retry policy. Transient
// failures and unparseable replies are retried; a fatal failure stops at once.
func (e *Engine) generate(ctx context.Context, capability string, base []llm.Message) (*artifactJSON, error) {
	var (
		result    *artifactJSON
		lastErr   error
		malformed bool
		attempts  int
	)
	msgs := base

	err := retry.Do(ctx, e.policy.backoff(), func(ctx context.Context) error {
		attempts++
		resp, err := e.client.Complete(ctx, llm.Request{
			Capability:  capability,
			Messages:    msgs,
			Temperature: e.temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr, malformed = err, false
			if llm.IsFatal(err) {
				return err
			}
			e.logger.Warn("Generation call failed, retrying",
				"capability", capability,
				"attempt", attempts,
				"run_id", llm.RunIDFromContext(ctx),
				"error", err)
			return retry.RetryableError(err)
		}

		var out artifactJSON
		if err := llm.DecodeJSON(resp.Content, &out); err != nil {
			lastErr, malformed = err, true
			e.logger.Warn("Generation reply unparseable, retrying",
				"capability", capability,
				"attempt", attempts,
				"run_id", llm.RunIDFromContext(ctx),
				"error", err)
			msgs = prompts.FormatCorrection(base, resp.Content, err)
			return retry.RetryableError(err)
		}
		result = &out
		return nil
	})
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if lastErr == nil {
		lastErr = err
	}
	if malformed {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrMalformedArtifact, attempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrGenerationUnavailable, attempts, lastErr)
}

func trimChoice(c vignette.Choice) vignette.Choice {
	c.Description = strings.TrimSpace(c.Description)
	return c
}

func hasRole(fb *vignette.Feedback, role vignette.Role) bool {
	if fb == nil {
		return false
	}
	for _, item := range fb.Items {
		if item.Role == role {
			return true
		}
	}
	return false
}
