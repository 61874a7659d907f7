package pipeline

import (
	"errors"
	"time"
)

// State is a step of the pipeline state machine.
type State string

const (
	// StateQueued is a run waiting for a concurrency slot. It precedes the
	// state machine: no session exists yet and it has no transitions.
	StateQueued State = "QUEUED"
	// StateAcquiring materializes the source video into the session.
	StateAcquiring State = "ACQUIRING"
	// StateProbing reads the source resolution.
	StateProbing State = "PROBING"
	// StateSelectingOutro picks the outro for the probed resolution.
	StateSelectingOutro State = "SELECTING_OUTRO"
	// StateFetchingOutro downloads the selected outro.
	StateFetchingOutro State = "FETCHING_OUTRO"
	// StateExtractingThumbnail pulls the cover frame from the source.
	StateExtractingThumbnail State = "EXTRACTING_THUMBNAIL"
	// StateConcatenating joins source and outro.
	StateConcatenating State = "CONCATENATING"
	// StateEmbeddingThumbnail muxes the cover frame; its failures are absorbed.
	StateEmbeddingThumbnail State = "EMBEDDING_THUMBNAIL"
	// StateFinalizing reads the finished video into memory.
	StateFinalizing State = "FINALIZING"
	// StateCompleted is the terminal success state.
	StateCompleted State = "COMPLETED"
	// StateFailed is the terminal failure state.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// EMBEDDING_THUMBNAIL has no edge to FAILED: the embed step cannot fail the run.
var validTransitions = map[State][]State{
	StateAcquiring:           {StateProbing, StateFailed},
	StateProbing:             {StateSelectingOutro, StateFailed},
	StateSelectingOutro:      {StateFetchingOutro, StateFailed},
	StateFetchingOutro:       {StateExtractingThumbnail, StateFailed},
	StateExtractingThumbnail: {StateConcatenating, StateFailed},
	StateConcatenating:       {StateEmbeddingThumbnail, StateFailed},
	StateEmbeddingThumbnail:  {StateFinalizing},
	StateFinalizing:          {StateCompleted, StateFailed},
	StateCompleted:           {},
	StateFailed:              {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition records one state change of a run.
type Transition struct {
	From State
	To   State
	At   time.Time
}
