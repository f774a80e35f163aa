package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/c360studio/semdilemma/vignette"
)

// State is a step of the generation state machine.
type State string

// Pipeline states.
const (
	StateDrafted      State = "DRAFTED"
	StateValidating   State = "VALIDATING"
	StateCritiquing   State = "CRITIQUING"
	StateRevising     State = "REVISING"
	StateRegenerating State = "REGENERATING"
	StateAccepted     State = "ACCEPTED"
	StateFailed       State = "FAILED"
	StateRejected     State = "REJECTED"
)

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// transitions lists the allowed successors of each state. REJECTED is only
// reachable from a single-pass evaluation. REGENERATING discards the lineage
// and drafts again from the seed.
var transitions = map[State][]State{
	StateDrafted:      {StateValidating, StateFailed},
	StateValidating:   {StateCritiquing, StateRevising, StateRegenerating, StateRejected, StateFailed},
	StateCritiquing:   {StateAccepted, StateRevising, StateRegenerating, StateRejected, StateFailed},
	StateRevising:     {StateValidating, StateRegenerating, StateFailed},
	StateRegenerating: {StateValidating, StateFailed},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Status is the outcome of a run.
type Status string

// Run statuses.
const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
)

func statusFor(s State) Status {
	switch s {
	case StateAccepted:
		return StatusAccepted
	case StateRejected:
		return StatusRejected
	case StateFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// HistoryEntry records one state transition.
type HistoryEntry struct {
	Cycle      int                `json:"cycle"`
	From       State              `json:"from"`
	To         State              `json:"to"`
	At         time.Time          `json:"at"`
	ArtifactID string             `json:"artifact_id,omitempty"`
	Revision   int                `json:"revision"`
	Feedback   *vignette.Feedback `json:"feedback,omitempty"`
	Note       string             `json:"note,omitempty"`
}

// run is the mutable state of one pipeline execution. It is owned by a
// single goroutine.
type run struct {
	id            string
	seed          string
	state         State
	cycles        int
	regenerations int
	artifact      *vignette.Artifact
	feedback      *vignette.Feedback
	history       []HistoryEntry
	now           func() time.Time
	observe       func(from, to State)

	// failing and streak count consecutive evaluations that failed on the
	// same criteria.
	failing string
	streak  int
}

// noteFailure records a failing evaluation and returns how many evaluations
// in a row have failed on exactly these criteria.
func (r *run) noteFailure(fb *vignette.Feedback) int {
	key := fmt.Sprint(fb.Criteria())
	if key == r.failing {
		r.streak++
	} else {
		r.failing = key
		r.streak = 1
	}
	return r.streak
}

func (r *run) transition(to State, fb *vignette.Feedback, note string) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", r.state, to)
	}
	entry := HistoryEntry{
		Cycle:    r.cycles,
		From:     r.state,
		To:       to,
		At:       r.now(),
		Feedback: fb,
		Note:     note,
	}
	if r.artifact != nil {
		entry.ArtifactID = r.artifact.ID
		entry.Revision = r.artifact.Revision
	}
	r.history = append(r.history, entry)
	if r.observe != nil {
		r.observe(r.state, to)
	}
	r.state = to
	if fb != nil {
		r.feedback = fb
	}
	return nil
}
