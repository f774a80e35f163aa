package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semdilemma/novelty"
	"github.com/c360studio/semdilemma/review"
	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

// Config holds the per-run limits of the controller.
type Config struct {
	// MaxCycles is the number of revisions and regenerations allowed before
	// a run fails.
	MaxCycles int
	// MaxRegenerations bounds how often a run discards its lineage and drafts
	// again from the seed. Each regeneration spends one cycle.
	MaxRegenerations int
	// RegenerateAfter triggers a regeneration once the same criteria fail this
	// many evaluations in a row. Zero leaves regeneration to malformed revisions.
	RegenerateAfter int
	// ReviewerTimeout bounds each reviewer call.
	ReviewerTimeout time.Duration
	// NoveltyThreshold is the similarity at or above which a candidate is a duplicate.
	NoveltyThreshold float64
	// ForbiddenLexicon extends the built-in value-name lexicon.
	ForbiddenLexicon []string
	WordCeiling      int
	WordFloor        int
	// Values is the value framework. Only the four principlist values are accepted.
	Values []vignette.Value
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	v := validation.DefaultConfig()
	return Config{
		MaxCycles:        5,
		MaxRegenerations: 1,
		ReviewerTimeout:  review.DefaultReviewerTimeout,
		NoveltyThreshold: novelty.DefaultThreshold,
		WordCeiling:      v.WordCeiling,
		WordFloor:        v.WordFloor,
		Values:           vignette.Values(),
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.MaxCycles < 1 {
		errs = append(errs, fmt.Errorf("max_cycles must be at least 1, got %d", c.MaxCycles))
	}
	if c.MaxRegenerations < 0 {
		errs = append(errs, fmt.Errorf("max_regenerations must not be negative, got %d", c.MaxRegenerations))
	}
	if c.RegenerateAfter < 0 || c.RegenerateAfter == 1 {
		errs = append(errs, fmt.Errorf("regenerate_after must be 0 or at least 2, got %d", c.RegenerateAfter))
	}
	if c.ReviewerTimeout <= 0 {
		errs = append(errs, errors.New("reviewer_timeout must be positive"))
	}
	if c.NoveltyThreshold <= 0 || c.NoveltyThreshold > 1 {
		errs = append(errs, fmt.Errorf("novelty_threshold must be in (0, 1], got %v", c.NoveltyThreshold))
	}
	if c.WordFloor < 0 || c.WordCeiling <= c.WordFloor {
		errs = append(errs, fmt.Errorf("word_ceiling %d must exceed word_floor %d", c.WordCeiling, c.WordFloor))
	}
	if !vignette.SameValueSet(c.Values) {
		errs = append(errs, fmt.Errorf("value set must be exactly %v, got %v", vignette.Values(), c.Values))
	}
	return errors.Join(errs...)
}

func (c Config) validatorConfig() validation.Config {
	v := validation.DefaultConfig()
	v.WordCeiling = c.WordCeiling
	v.WordFloor = c.WordFloor
	return v
}
