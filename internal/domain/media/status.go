package media

import (
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a media record.
type Status string

const (
	// StatusUploading means the record exists and bytes may still be in flight.
	StatusUploading Status = "uploading"
	// StatusUploaded means storage holds the object and finalize verified it.
	StatusUploaded Status = "uploaded"
	// StatusProcessing means the analysis trigger was handed off downstream.
	StatusProcessing Status = "processing"
	// StatusCompleted means analysis finished and results are attached.
	StatusCompleted Status = "completed"
	// StatusFailed means the upload or its analysis failed permanently.
	StatusFailed Status = "failed"
)

// ErrInvalidStatusTransition is returned when a status change is not allowed.
var ErrInvalidStatusTransition = errors.New("invalid media status transition")

// ValidTransitions defines the allowed media status changes. A record only
// reaches uploaded after server-side verification, and every stage can fail
// directly into failed.
var ValidTransitions = map[Status][]Status{
	StatusUploading:  {StatusUploaded, StatusFailed},
	StatusUploaded:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// IsValid checks if the status is a known status value.
func (s Status) IsValid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// CanTransitionTo checks if a transition to the target status is allowed.
func (s Status) CanTransitionTo(target Status) bool {
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

// TransitionTo returns the target status if the transition is allowed,
// otherwise it returns the current status and ErrInvalidStatusTransition.
func (s Status) TransitionTo(target Status) (Status, error) {
	if !s.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, s, target)
	}
	return target, nil
}

// IsTerminal checks if the record reached a final status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Downloadable checks if the stored object is safe to hand out. Before
// verification the object may be partial, so uploading records are excluded.
func (s Status) Downloadable() bool {
	return s == StatusUploaded || s == StatusProcessing || s == StatusCompleted
}

// String returns the status as a string.
func (s Status) String() string {
	return string(s)
}
