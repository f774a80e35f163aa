// Package corpus holds the append-only set of accepted vignettes.
//
// Readers take immutable snapshots without locking. Writers persist the new
// record first and then publish a copied slice with compare-and-swap, so a
// reader never sees a record the store does not hold.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/vignette"
)

// Record is one accepted artifact.
type Record struct {
	Seq        uint64             `json:"seq"`
	AcceptedAt time.Time          `json:"accepted_at"`
	RunID      string             `json:"run_id,omitempty"`
	Artifact   *vignette.Artifact `json:"artifact"`
}

func (r Record) clone() Record {
	r.Artifact = r.Artifact.Clone()
	return r
}

// Corpus is safe for concurrent use.
type Corpus struct {
	snap   atomic.Pointer[[]Record]
	seq    atomic.Uint64
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Corpus.
type Option func(*Corpus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Corpus) {
		c.logger = logger
	}
}

// WithClock overrides the acceptance timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Corpus) {
		c.now = now
	}
}

// New creates an empty corpus backed by store. A nil store keeps records in memory.
func New(store Store, opts ...Option) *Corpus {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Corpus{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	empty := []Record{}
	c.snap.Store(&empty)
	return c
}

// Load replaces the in-memory view with the store's contents and continues
// sequence numbering after the highest stored record. Records without an
// artifact are skipped but their sequence numbers stay used.
func (c *Corpus) Load(ctx context.Context) error {
	stored, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	slices.SortFunc(stored, func(a, b Record) int {
		return compareSeq(a.Seq, b.Seq)
	})
	for {
		cur := c.seq.Load()
		top := cur
		if n := len(stored); n > 0 {
			top = max(top, stored[n-1].Seq)
		}
		if c.seq.CompareAndSwap(cur, top) {
			break
		}
	}

	records := make([]Record, 0, len(stored))
	for _, r := range stored {
		if r.Artifact == nil {
			c.logger.Warn("Skipping corpus record without an artifact", "seq", r.Seq)
			continue
		}
		records = append(records, r)
	}
	c.snap.Store(&records)
	c.logger.Debug("Corpus loaded", "records", len(records))
	return nil
}

// Append persists a copy of a and publishes it. The artifact is stamped with
// the run ID carried by ctx, if any.
func (c *Corpus) Append(ctx context.Context, a *vignette.Artifact) (Record, error) {
	if a == nil {
		return Record{}, errors.New("append: nil artifact")
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	rec := Record{
		Seq:        c.seq.Add(1),
		AcceptedAt: c.now().UTC(),
		RunID:      llm.RunIDFromContext(ctx),
		Artifact:   a.Clone(),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("persist record %d: %w", rec.Seq, err)
	}

	for {
		old := c.snap.Load()
		next := make([]Record, 0, len(*old)+1)
		next = append(next, *old...)
		// Concurrent appends may publish out of sequence order.
		i, _ := slices.BinarySearchFunc(next, rec.Seq, func(r Record, seq uint64) int {
			return compareSeq(r.Seq, seq)
		})
		next = slices.Insert(next, i, rec)
		if c.snap.CompareAndSwap(old, &next) {
			break
		}
	}

	c.logger.Info("Artifact accepted into corpus",
		"seq", rec.Seq,
		"artifact_id", a.ID,
		"run_id", rec.RunID)
	return rec.clone(), nil
}

// Snapshot returns copies of every accepted artifact in sequence order.
func (c *Corpus) Snapshot() []vignette.Artifact {
	records := *c.snap.Load()
	out := make([]vignette.Artifact, len(records))
	for i, r := range records {
		out[i] = *r.Artifact.Clone()
	}
	return out
}

// Records returns copies of every record in sequence order.
func (c *Corpus) Records() []Record {
	records := *c.snap.Load()
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.clone()
	}
	return out
}

// Len returns the number of accepted artifacts.
func (c *Corpus) Len() int {
	return len(*c.snap.Load())
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
