package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one seed in a batch.
type BatchResult struct {
	Index  int
	Seed   string
	Result *Result
}

// Batch runs many seeds through one controller with bounded concurrency.
// Runs share the controller's corpus, so a later run sees every artifact
// accepted before its novelty check.
type Batch struct {
	controller  *Controller
	concurrency int
}

// NewBatch creates a batch runner. A concurrency below 1 uses GOMAXPROCS.
func NewBatch(c *Controller, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Batch{controller: c, concurrency: concurrency}
}

// Run processes every seed and returns results in seed order. A failed run
// never stops the others; cancelling ctx fails the runs still in flight.
func (b *Batch) Run(ctx context.Context, seeds []string) []BatchResult {
	results := make([]BatchResult, len(seeds))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			results[i] = BatchResult{Index: i, Seed: seed, Result: b.controller.Run(ctx, seed)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Summary counts batch outcomes by status.
func Summary(results []BatchResult) map[Status]int {
	out := make(map[Status]int)
	for _, r := range results {
		if r.Result == nil {
			out[StatusFailed]++
			continue
		}
		out[r.Result.Status]++
	}
	return out
}
