package upload

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of an upload session.
type State string

const (
	// StatePending means the session is created and waiting for a scheduler slot.
	StatePending State = "pending"
	// StateUploading means parts are actively being transferred.
	StateUploading State = "uploading"
	// StatePaused means the user suspended the session; progress is preserved.
	StatePaused State = "paused"
	// StateValidating means all bytes are sent and finalize is in flight.
	StateValidating State = "validating"
	// StateCompleted means the coordinator confirmed the upload.
	StateCompleted State = "completed"
	// StateError means the session failed; it can be retried from pending.
	StateError State = "error"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid session state transition")

// ValidTransitions defines the allowed session state changes. Completion is
// only reachable through validating, so a session never reports completed
// before the coordinator confirmed the stored object.
var ValidTransitions = map[State][]State{
	StatePending:    {StateUploading},
	StateUploading:  {StatePaused, StateValidating, StateError},
	StatePaused:     {StateUploading},
	StateValidating: {StateCompleted, StateError},
	StateError:      {StatePending},
	StateCompleted:  {},
}

// IsValid checks if the state is a known state.
func (s State) IsValid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// CanTransitionTo checks if a transition to the target state is allowed.
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := ValidTransitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo returns the target state if the transition is allowed,
// otherwise it returns the current state and ErrInvalidTransition.
func (s State) TransitionTo(target State) (State, error) {
	if !s.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, target)
	}
	return target, nil
}

// IsTerminal checks if the session reached a final state. Error is not
// terminal: a failed session keeps its uploaded parts and can be retried.
func (s State) IsTerminal() bool {
	return s == StateCompleted
}

// IsRetryable checks if the session can be re-armed for another attempt.
func (s State) IsRetryable() bool {
	return s == StateError
}

// IsActive checks if the session currently occupies a scheduler slot.
func (s State) IsActive() bool {
	return s == StateUploading || s == StateValidating
}

// String returns the state as a string.
func (s State) String() string {
	return string(s)
}
