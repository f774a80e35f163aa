// Package novelty rejects candidates that duplicate vignettes already in the
// accepted corpus.
package novelty

import (
	"fmt"
	"strings"

	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

// Criterion is the synthetic criterion attached to non-novel candidates.
const Criterion vignette.CriterionID = "novelty"

// Defaults.
const (
	DefaultThreshold      = 0.75
	DefaultLexicalCeiling = 0.9
)

// Score weights. They sum to 1.
const (
	domainWeight  = 0.25
	valuesWeight  = 0.25
	lexicalWeight = 0.5
)

// Verdict is the outcome of one novelty check.
type Verdict struct {
	Novel bool

	// ClosestID and ClosestSeq identify the most similar corpus entry.
	// ClosestSeq is 0 when the corpus is empty.
	ClosestID  string
	ClosestSeq uint64

	// Similarity is the weighted score against the closest entry, Lexical its
	// content-word overlap alone.
	Similarity float64
	Lexical    float64

	Reason string
}

// FeedbackItem renders a failed verdict as a feedback item for the reviser.
func (v Verdict) FeedbackItem() vignette.FeedbackItem {
	return vignette.FeedbackItem{
		Criterion: Criterion,
		Role:      vignette.RoleNovelty,
		Rationale: v.Reason,
		SuggestedEdit: "Move the dilemma to a different clinical setting and change the specific " +
			"decision, while keeping each choice mapped to its current value.",
	}
}

// Guard scores candidates against the corpus.
type Guard struct {
	threshold      float64
	lexicalCeiling float64
}

// Option configures a Guard.
type Option func(*Guard)

// WithThreshold sets the weighted score at or above which a candidate is a duplicate.
func WithThreshold(t float64) Option {
	return func(g *Guard) {
		if t > 0 {
			g.threshold = t
		}
	}
}

// WithLexicalCeiling sets the content overlap at or above which a candidate
// is a duplicate regardless of domain and values.
func WithLexicalCeiling(c float64) Option {
	return func(g *Guard) {
		if c > 0 {
			g.lexicalCeiling = c
		}
	}
}

// NewGuard creates a guard.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{threshold: DefaultThreshold, lexicalCeiling: DefaultLexicalCeiling}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the configured score threshold.
func (g *Guard) Threshold() float64 { return g.threshold }

// Score compares two artifacts. It returns the weighted score and the
// lexical component.
func Score(a, b *vignette.Artifact) (score, lexical float64) {
	if a == nil || b == nil {
		return 0, 0
	}
	if d := strings.ToLower(strings.TrimSpace(a.Domain)); d != "" && d == strings.ToLower(strings.TrimSpace(b.Domain)) {
		score += domainWeight
	}
	if a.Values() == b.Values() {
		score += valuesWeight
	}
	lexical = validation.Jaccard(validation.TokenSet(text(a)), validation.TokenSet(text(b)))
	score += lexicalWeight * lexical
	return score, lexical
}

func text(a *vignette.Artifact) string {
	return a.Narrative + " " + a.Choice1.Description + " " + a.Choice2.Description
}

// Entry is a corpus artifact with its corpus sequence number.
type Entry struct {
	Seq      uint64
	Artifact *vignette.Artifact
}

// Check compares a against corpus, numbering the artifacts from 1 in order.
func (g *Guard) Check(a *vignette.Artifact, corpus []vignette.Artifact) Verdict {
	entries := make([]Entry, len(corpus))
	for i := range corpus {
		entries[i] = Entry{Seq: uint64(i + 1), Artifact: &corpus[i]}
	}
	return g.CheckEntries(a, entries)
}

// CheckEntries compares a against every entry and reports the closest one by
// its Seq.
func (g *Guard) CheckEntries(a *vignette.Artifact, entries []Entry) Verdict {
	var byScore, byLexical Verdict
	byScore.Similarity, byLexical.Lexical = -1, -1
	for _, e := range entries {
		if e.Artifact == nil {
			continue
		}
		score, lexical := Score(a, e.Artifact)
		v := Verdict{ClosestID: e.Artifact.ID, ClosestSeq: e.Seq, Similarity: score, Lexical: lexical}
		if score > byScore.Similarity {
			byScore = v
		}
		if lexical > byLexical.Lexical {
			byLexical = v
		}
	}
	if byScore.Similarity < 0 {
		return Verdict{Novel: true, Reason: "corpus is empty"}
	}

	switch {
	case byScore.Similarity >= g.threshold:
		byScore.Reason = fmt.Sprintf("too similar to artifact #%d (similarity %.2f)", byScore.ClosestSeq, byScore.Similarity)
		return byScore
	case byLexical.Lexical >= g.lexicalCeiling:
		// Near-identical wording decides on its own.
		byLexical.Reason = fmt.Sprintf("too similar to artifact #%d (wording overlap %.2f)", byLexical.ClosestSeq, byLexical.Lexical)
		return byLexical
	default:
		byScore.Novel = true
		byScore.Reason = fmt.Sprintf("closest is artifact #%d (similarity %.2f)", byScore.ClosestSeq, byScore.Similarity)
		return byScore
	}
}

// IsNovel reports whether a is novel against corpus.
func (g *Guard) IsNovel(a *vignette.Artifact, corpus []vignette.Artifact) bool {
	return g.Check(a, corpus).Novel
}
