package transcript

import "fmt"

// State is the lifecycle state of one speaker's current utterance.
//
// State transitions:
//
//	IDLE → ACCUMULATING → COMMITTED → IDLE
//	  │          │
//	  │          └── partial events keep accumulating
//	  │
//	  └── a final event may commit directly from IDLE
//
// COMMITTED is momentary: committing an utterance appends a transcript
// entry and immediately resets the speaker to IDLE.
type State int

const (
	// StateIdle - no utterance in flight for this speaker.
	StateIdle State = iota
	// StateAccumulating - partials buffered, nothing committed yet.
	StateAccumulating
	// StateCommitted - final received, entry appended.
	StateCommitted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateCommitted:
		return "COMMITTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}
