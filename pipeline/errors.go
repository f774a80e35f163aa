package pipeline

import (
	"errors"

	"github.com/c360studio/semdilemma/revision"
)

var (
	// ErrIterationExhausted means the last allowed revision still failed evaluation.
	ErrIterationExhausted = errors.New("iteration limit reached without acceptance")

	// ErrCancelled means the run's context was cancelled between states.
	ErrCancelled = errors.New("run cancelled")

	// ErrCorpusAppend means an accepted artifact could not be persisted.
	ErrCorpusAppend = errors.New("corpus append failed")

	// ErrGenerationUnavailable and ErrMalformedArtifact come from the revision
	// engine after its retries are spent.
	ErrGenerationUnavailable = revision.ErrGenerationUnavailable
	ErrMalformedArtifact     = revision.ErrMalformedArtifact
)
