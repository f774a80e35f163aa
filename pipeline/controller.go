// Package pipeline drives a candidate vignette through draft, validation,
// critique and revision until it is accepted into the corpus or the run fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semdilemma/corpus"
	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/novelty"
	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

// Generator drafts and revises artifacts. revision.Engine implements it.
type Generator interface {
	Draft(ctx context.Context, seed string) (*vignette.Artifact, error)
	Revise(ctx context.Context, a *vignette.Artifact, fb *vignette.Feedback) (*vignette.Artifact, error)
}

// Critic merges rubric feedback for an artifact. review.Aggregator implements it.
type Critic interface {
	Critique(ctx context.Context, a *vignette.Artifact) (*vignette.Feedback, error)
}

// Deps are the collaborators of a Controller. Generator and Critic are
// required; the rest are built from Config when nil.
type Deps struct {
	Generator Generator
	Critic    Critic
	Validator *validation.Validator
	Guard     *novelty.Guard
	Corpus    *corpus.Corpus
}

// Result is the outcome of one run.
type Result struct {
	RunID  string
	Status Status
	State  State

	// Artifact is set only when Status is ACCEPTED.
	Artifact *vignette.Artifact
	// Record is the corpus record of an accepted artifact.
	Record *corpus.Record

	// LastCandidate is the final artifact evaluated, accepted or not.
	LastCandidate *vignette.Artifact
	// Feedback is the last failing feedback, if any.
	Feedback *vignette.Feedback

	Cycles int
	// Regenerations counts the times the run drafted again from the seed.
	Regenerations int

	History []HistoryEntry
	Reason  string
	Err     error
}

// Controller runs the state machine. It is safe for concurrent use; runs
// share only the corpus.
type Controller struct {
	cfg       Config
	generator Generator
	critic    Critic
	validator *validation.Validator
	guard     *novelty.Guard
	corpus    *corpus.Corpus
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock overrides the history timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a controller. It fails on an invalid config or missing
// required dependencies.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if deps.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if deps.Critic == nil {
		return nil, errors.New("pipeline: critic is required")
	}

	c := &Controller{
		cfg:       cfg,
		generator: deps.Generator,
		critic:    deps.Critic,
		validator: deps.Validator,
		guard:     deps.Guard,
		corpus:    deps.Corpus,
		logger:    slog.Default(),
		now:       time.Now,
	}
	if c.validator == nil {
		terms := append(validation.DefaultTerms(), cfg.ForbiddenLexicon...)
		c.validator = validation.NewValidator(
			validation.WithConfig(cfg.validatorConfig()),
			validation.WithLexicon(validation.NewLexicon(terms...)),
		)
	}
	if c.guard == nil {
		c.guard = novelty.NewGuard(novelty.WithThreshold(cfg.NoveltyThreshold))
	}
	if c.corpus == nil {
		c.corpus = corpus.New(nil)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Corpus returns the corpus accepted artifacts are appended to.
func (c *Controller) Corpus() *corpus.Corpus { return c.corpus }

func (c *Controller) newRun() *run {
	return &run{
		id:      uuid.New().String(),
		state:   StateDrafted,
		now:     c.now,
		observe: c.metrics.ObserveTransition,
	}
}

// Run drafts an artifact and drives it to ACCEPTED or FAILED. A blank seed
// asks the generator to invent a case. Every outcome, including failure, is
// reported through the Result.
//
// A failing evaluation is normally revised. The run instead regenerates from
// the seed, starting a new lineage, when a revision comes back malformed or
// when the same criteria keep failing (Config.RegenerateAfter). Revisions and
// regenerations share the MaxCycles budget.
func (c *Controller) Run(ctx context.Context, seed string) *Result {
	r := c.newRun()
	r.seed = strings.TrimSpace(seed)
	ctx = llm.WithRunID(ctx, r.id)
	logger := c.logger.With("run_id", r.id)
	logger.Info("Run started", "max_cycles", c.cfg.MaxCycles, "seeded", r.seed != "")

	if err := ctx.Err(); err != nil {
		return c.fail(r, logger, cancelled(err), "cancelled before drafting")
	}
	draft, err := c.generator.Draft(ctx, r.seed)
	if err != nil {
		return c.fail(r, logger, c.generationErr(ctx, err), "drafting failed")
	}
	if draft == nil {
		return c.fail(r, logger, ErrMalformedArtifact, "drafting returned no artifact")
	}
	r.artifact = draft

	for {
		fb, res := c.evaluate(ctx, r, logger)
		if res != nil {
			return res
		}
		if fb.Passed {
			res, stale := c.accept(ctx, r, logger)
			if res != nil {
				return res
			}
			fb = stale
		}

		if r.cycles >= c.cfg.MaxCycles {
			r.feedback = fb
			return c.fail(r, logger, ErrIterationExhausted,
				fmt.Sprintf("still failing %v after %d cycles", fb.Criteria(), r.cycles))
		}
		if err := ctx.Err(); err != nil {
			return c.fail(r, logger, cancelled(err), "cancelled before revising")
		}

		if n := r.noteFailure(fb); c.cfg.RegenerateAfter > 0 && n >= c.cfg.RegenerateAfter && c.canRegenerate(r) {
			reason := fmt.Sprintf("%v failed %d evaluations in a row", fb.Criteria(), n)
			if res := c.regenerate(ctx, r, fb, logger, reason); res != nil {
				return res
			}
			continue
		}

		if err := r.transition(StateRevising, fb, ""); err != nil {
			return c.fail(r, logger, err, "state machine")
		}
		logger.Info("Revising artifact",
			"cycle", r.cycles+1,
			"revision", r.artifact.Revision,
			"source", fb.Source,
			"criteria", fb.Criteria())

		next, err := c.generator.Revise(ctx, r.artifact, fb)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, ErrMalformedArtifact) && c.canRegenerate(r) {
				logger.Warn("Revision malformed", "error", err)
				if res := c.regenerate(ctx, r, fb, logger, "revision malformed"); res != nil {
					return res
				}
				continue
			}
			return c.fail(r, logger, c.generationErr(ctx, err), "revision failed")
		}
		if next == nil || next.Revision != r.artifact.Revision+1 || len(next.Provenance) != next.Revision {
			if c.canRegenerate(r) {
				if res := c.regenerate(ctx, r, fb, logger, "revision did not advance the lineage"); res != nil {
					return res
				}
				continue
			}
			return c.fail(r, logger, ErrMalformedArtifact, "revision did not advance the lineage")
		}
		r.cycles++
		r.artifact = next
	}
}

func (c *Controller) canRegenerate(r *run) bool {
	return r.regenerations < c.cfg.MaxRegenerations
}

// regenerate discards the current lineage and drafts again from the run's
// seed, spending one cycle. A nil return means the run goes on with the new
// draft.
func (c *Controller) regenerate(ctx context.Context, r *run, fb *vignette.Feedback, logger *slog.Logger, reason string) *Result {
	if err := ctx.Err(); err != nil {
		return c.fail(r, logger, cancelled(err), "cancelled before regenerating")
	}
	if err := r.transition(StateRegenerating, fb, reason); err != nil {
		return c.fail(r, logger, err, "state machine")
	}
	logger.Info("Regenerating from seed",
		"cycle", r.cycles+1,
		"discarded_revision", r.artifact.Revision,
		"reason", reason)

	draft, err := c.generator.Draft(ctx, r.seed)
	if err != nil {
		return c.fail(r, logger, c.generationErr(ctx, err), "regeneration failed")
	}
	if draft == nil || draft.Revision != 0 || len(draft.Provenance) != 0 {
		return c.fail(r, logger, ErrMalformedArtifact, "regeneration did not start a new lineage")
	}
	r.cycles++
	r.regenerations++
	r.failing, r.streak = "", 0
	r.artifact = draft
	return nil
}

// Evaluate judges a caller-supplied artifact once, without revising it. The
// run ends ACCEPTED, with the artifact appended to the corpus, or REJECTED
// with the feedback that blocked it.
func (c *Controller) Evaluate(ctx context.Context, a *vignette.Artifact) (*Result, error) {
	if a == nil {
		return nil, errors.New("evaluate: nil artifact")
	}

	r := c.newRun()
	r.artifact = a.Clone()
	ctx = llm.WithRunID(ctx, r.id)
	logger := c.logger.With("run_id", r.id, "mode", "evaluate")

	fb, res := c.evaluate(ctx, r, logger)
	if res != nil {
		return res, nil
	}
	if fb.Passed {
		res, stale := c.accept(ctx, r, logger)
		if res != nil {
			return res, nil
		}
		fb = stale
	}
	if err := r.transition(StateRejected, fb, ""); err != nil {
		return c.fail(r, logger, err, "state machine"), nil
	}
	res = c.result(r)
	res.Reason = fmt.Sprintf("rejected on %v", fb.Criteria())
	logger.Info("Artifact rejected", "criteria", fb.Criteria())
	c.metrics.ObserveRun(res.Status, res.Cycles)
	return res, nil
}

// evaluate runs VALIDATING and, if the structure holds, CRITIQUING with the
// novelty check. It returns the feedback for the current artifact, or a
// finished Result when the run had to stop.
func (c *Controller) evaluate(ctx context.Context, r *run, logger *slog.Logger) (*vignette.Feedback, *Result) {
	if err := ctx.Err(); err != nil {
		return nil, c.fail(r, logger, cancelled(err), "cancelled before validating")
	}
	if err := r.transition(StateValidating, nil, ""); err != nil {
		return nil, c.fail(r, logger, err, "state machine")
	}

	results := c.validator.Validate(r.artifact)
	if !validation.AllPass(results) {
		fb := vignette.FeedbackFromResults(results)
		logger.Info("Structural validation failed",
			"revision", r.artifact.Revision,
			"criteria", fb.Criteria())
		return fb, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, c.fail(r, logger, cancelled(err), "cancelled before critique")
	}
	if err := r.transition(StateCritiquing, nil, ""); err != nil {
		return nil, c.fail(r, logger, err, "state machine")
	}

	fb, err := c.critic.Critique(ctx, r.artifact)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.fail(r, logger, cancelled(ctx.Err()), "cancelled during critique")
		}
		return nil, c.fail(r, logger, err, "critique failed")
	}

	verdict := c.guard.CheckEntries(r.artifact, corpusEntries(c.corpus.Records()))
	if !verdict.Novel {
		c.metrics.ObserveNoveltyRejection()
		fb.Add(verdict.FeedbackItem())
		logger.Info("Candidate is not novel",
			"closest_id", verdict.ClosestID,
			"similarity", verdict.Similarity)
	}

	logger.Info("Critique complete",
		"revision", r.artifact.Revision,
		"passed", fb.Passed,
		"criteria", fb.Criteria())
	return fb, nil
}

// accept re-validates the artifact, appends it to the corpus and ends the
// run. If the artifact no longer passes the structural checks, which happens
// when the forbidden lexicon is reloaded during critique, it returns the
// structural feedback instead and the run continues.
func (c *Controller) accept(ctx context.Context, r *run, logger *slog.Logger) (*Result, *vignette.Feedback) {
	if results := c.validator.Validate(r.artifact); !validation.AllPass(results) {
		fb := vignette.FeedbackFromResults(results)
		logger.Warn("Artifact failed re-validation before acceptance",
			"revision", r.artifact.Revision,
			"criteria", fb.Criteria())
		return nil, fb
	}

	rec, err := c.corpus.Append(ctx, r.artifact)
	if err != nil {
		return c.fail(r, logger, fmt.Errorf("%w: %w", ErrCorpusAppend, err), "corpus append failed"), nil
	}
	if err := r.transition(StateAccepted, nil, fmt.Sprintf("corpus seq %d", rec.Seq)); err != nil {
		return c.fail(r, logger, err, "state machine"), nil
	}

	res := c.result(r)
	res.Artifact = r.artifact.Clone()
	res.Record = &rec
	res.Reason = fmt.Sprintf("accepted after %d cycles", r.cycles)
	logger.Info("Run accepted",
		"artifact_id", r.artifact.ID,
		"revision", r.artifact.Revision,
		"seq", rec.Seq)
	c.metrics.ObserveRun(res.Status, res.Cycles)
	return res, nil
}

// fail moves the run to FAILED. Every non-terminal state may fail.
func (c *Controller) fail(r *run, logger *slog.Logger, err error, reason string) *Result {
	if !r.state.IsTerminal() {
		_ = r.transition(StateFailed, nil, reason)
	}
	res := c.result(r)
	res.Err = err
	res.Reason = reason
	logger.Warn("Run failed",
		"state", r.state,
		"cycle", r.cycles,
		"reason", reason,
		"error", err)
	c.metrics.ObserveRun(res.Status, res.Cycles)
	return res
}

func (c *Controller) result(r *run) *Result {
	return &Result{
		RunID:         r.id,
		Status:        statusFor(r.state),
		State:         r.state,
		LastCandidate: r.artifact.Clone(),
		Feedback:      r.feedback,
		Cycles:        r.cycles,
		Regenerations: r.regenerations,
		History:       r.history,
	}
}

// generationErr maps an engine error to the run's failure cause.
func (c *Controller) generationErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	return err
}

func corpusEntries(records []corpus.Record) []novelty.Entry {
	out := make([]novelty.Entry, len(records))
	for i, rec := range records {
		out[i] = novelty.Entry{Seq: rec.Seq, Artifact: rec.Artifact}
	}
	return out
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
