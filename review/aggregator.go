package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/vignette"
)

// DefaultReviewerTimeout bounds a single reviewer call.
const DefaultReviewerTimeout = 90 * time.Second

// indeterminateEdit is the edit attached to criteria no reviewer could judge.
const indeterminateEdit = "No verdict was obtained for this criterion. Leave the aspects it covers unchanged unless another item requires editing them."

// Aggregator fans an artifact out to every reviewer and merges the verdicts.
type Aggregator struct {
	reviewers []Reviewer
	timeout   time.Duration
	logger    *slog.Logger
	onVerdict func(reviewer string, result vignette.CriterionResult)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithReviewerTimeout bounds each reviewer call.
func WithReviewerTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithVerdictHook registers fn to receive every resolved per-reviewer verdict,
// indeterminate ones included.
func WithVerdictHook(fn func(reviewer string, result vignette.CriterionResult)) AggregatorOption {
	return func(a *Aggregator) {
		a.onVerdict = fn
	}
}

// NewAggregator creates an aggregator over reviewers. Reviewers are consulted
// concurrently; their order only breaks ties between equal roles.
func NewAggregator(reviewers []Reviewer, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		reviewers: slices.Clone(reviewers),
		timeout:   DefaultReviewerTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	sort.SliceStable(a.reviewers, func(i, j int) bool {
		return a.reviewers[i].Role().Outranks(a.reviewers[j].Role())
	})
	return a
}

// Reviewers returns the reviewers in precedence order.
func (ag *Aggregator) Reviewers() []Reviewer {
	return slices.Clone(ag.reviewers)
}

type outcome struct {
	reviewer Reviewer
	criteria []Criterion
	results  []vignette.CriterionResult
	err      error
}

// Critique runs every reviewer against a and merges their verdicts. Reviewer
// failures never surface as errors: the affected criteria fail as
// indeterminate. Only cancellation of ctx is returned.
func (ag *Aggregator) Critique(ctx context.Context, a *vignette.Artifact) (*vignette.Feedback, error) {
	if a == nil {
		return nil, errors.New("critique: nil artifact")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(ag.reviewers))
	var g errgroup.Group
	for i, r := range ag.reviewers {
		criteria := r.Criteria(a)
		outcomes[i] = outcome{reviewer: r, criteria: criteria}
		snapshot := a.Clone()
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, ag.timeout)
			defer cancel()

			// A reviewer that ignores ctx must not hold up the fan-in.
			done := make(chan outcome, 1)
			go func() {
				results, err := r.Review(rctx, snapshot, criteria)
				done <- outcome{results: results, err: err}
			}()
			select {
			case res := <-done:
				outcomes[i].results, outcomes[i].err = res.results, res.err
			case <-rctx.Done():
				outcomes[i].err = rctx.Err()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ag.merge(ctx, outcomes), nil
}

// resolve turns one reviewer's raw output into exactly one verdict per
// requested criterion.
func (ag *Aggregator) resolve(ctx context.Context, o outcome) []vignette.CriterionResult {
	name, role := o.reviewer.Name(), o.reviewer.Role()
	indeterminate := func(c Criterion, why string) vignette.CriterionResult {
		return vignette.CriterionResult{
			Criterion:     c.ID,
			Role:          role,
			Reviewer:      name,
			Rationale:     fmt.Sprintf("%s gave no usable verdict: %s", name, why),
			SuggestedEdit: indeterminateEdit,
			Indeterminate: true,
		}
	}

	out := make([]vignette.CriterionResult, 0, len(o.criteria))
	if o.err != nil {
		why := o.err.Error()
		if errors.Is(o.err, context.DeadlineExceeded) {
			why = "timed out"
		}
		ag.logger.Warn("Reviewer failed, failing its criteria closed",
			"reviewer", name,
			"run_id", llm.RunIDFromContext(ctx),
			"error", o.err)
		for _, c := range o.criteria {
			out = append(out, indeterminate(c, why))
		}
		return out
	}

	byCriterion := make(map[vignette.CriterionID][]vignette.CriterionResult, len(o.results))
	for _, r := range o.results {
		byCriterion[r.Criterion] = append(byCriterion[r.Criterion], r)
	}
	for _, c := range o.criteria {
		got := byCriterion[c.ID]
		switch {
		case len(got) == 0:
			out = append(out, indeterminate(c, "verdict missing"))
		case len(got) > 1:
			out = append(out, indeterminate(c, fmt.Sprintf("%d conflicting verdicts", len(got))))
		case !got[0].Pass && got[0].SuggestedEdit == "":
			out = append(out, indeterminate(c, "failing verdict without a suggested edit"))
		default:
			v := got[0]
			v.Criterion, v.Role, v.Reviewer, v.Indeterminate = c.ID, role, name, false
			out = append(out, v)
		}
		delete(byCriterion, c.ID)
	}
	for id := range byCriterion {
		ag.logger.Debug("Ignoring verdict for unrequested criterion", "reviewer", name, "criterion", id)
	}
	return out
}

func (ag *Aggregator) merge(ctx context.Context, outcomes []outcome) *vignette.Feedback {
	var order []vignette.CriterionID
	verdicts := make(map[vignette.CriterionID][]vignette.CriterionResult)
	for _, o := range outcomes {
		for _, v := range ag.resolve(ctx, o) {
			if ag.onVerdict != nil {
				ag.onVerdict(o.reviewer.Name(), v)
			}
			if _, seen := verdicts[v.Criterion]; !seen {
				order = append(order, v.Criterion)
			}
			verdicts[v.Criterion] = append(verdicts[v.Criterion], v)
		}
	}

	fb := &vignette.Feedback{Source: vignette.SourceRubric, Passed: true}
	for _, id := range order {
		if item, failed := mergeCriterion(verdicts[id]); failed {
			fb.Add(item)
		}
	}

	// Items sort by surfaced role, then by first appearance in the rubric catalogue.
	rank := make(map[vignette.CriterionID]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	sort.SliceStable(fb.Items, func(i, j int) bool {
		a, b := fb.Items[i], fb.Items[j]
		if a.Role != b.Role {
			return a.Role.Outranks(b.Role)
		}
		return rank[a.Criterion] < rank[b.Criterion]
	})
	return fb
}

// mergeCriterion combines every reviewer's verdict on one criterion. Any
// failure fails the criterion. A determinate failure from the highest ranked
// role is surfaced; indeterminate verdicts surface only when no reviewer gave
// a determinate failure. Every other verdict is kept as a note.
func mergeCriterion(verdicts []vignette.CriterionResult) (vignette.FeedbackItem, bool) {
	surfaced := -1
	for i, v := range verdicts {
		if v.Pass {
			continue
		}
		if surfaced < 0 || outranks(v, verdicts[surfaced]) {
			surfaced = i
		}
	}
	if surfaced < 0 {
		return vignette.FeedbackItem{}, false
	}

	s := verdicts[surfaced]
	item := vignette.FeedbackItem{
		Criterion:     s.Criterion,
		Role:          s.Role,
		Rationale:     s.Rationale,
		SuggestedEdit: s.SuggestedEdit,
		Indeterminate: s.Indeterminate,
	}
	for i, v := range verdicts {
		if i == surfaced {
			continue
		}
		item.Notes = append(item.Notes, vignette.Note{
			Role:      v.Role,
			Reviewer:  v.Reviewer,
			Pass:      v.Pass,
			Rationale: v.Rationale,
		})
	}
	sort.SliceStable(item.Notes, func(i, j int) bool {
		return item.Notes[i].Role.Outranks(item.Notes[j].Role)
	})
	return item, true
}

func outranks(a, b vignette.CriterionResult) bool {
	if a.Indeterminate != b.Indeterminate {
		return !a.Indeterminate
	}
	return a.Role.Outranks(b.Role)
}
