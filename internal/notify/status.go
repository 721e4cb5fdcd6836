package notify

import "fmt"

// Status is the queue row lifecycle state.
//
// Transitions are explicit: a row leaves "queued" at most once per delivery
// attempt, "processing" is a transient claim state owned by exactly one
// worker, and snoozing never resurrects the original row (redelivery goes
// through a fresh queued row).
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRead       Status = "read"
	StatusDismissed  Status = "dismissed"
	StatusSnoozed    Status = "snoozed"
)

var statusTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusSent, StatusFailed},
	StatusSent:       {StatusRead, StatusDismissed, StatusSnoozed},
	StatusRead:       {StatusDismissed, StatusSnoozed},
	// failed, cancelled, dismissed and snoozed are terminal.
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a lifecycle step.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("illegal status transition %q -> %q", from, to)
	}
	return to, nil
}

// Terminal reports whether no further transitions are defined for s.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0
}
