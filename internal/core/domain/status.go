package domain

import "fmt"

// Status represents the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// validTransitions defines the allowed state machine transitions.
// Rejected and cancelled have no way out.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusCancelled},
}

// ParseStatus converts s into a known Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from current status to next is valid.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether a reservation in this status blocks the
// provider's calendar.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusAccepted
}

// IsTerminal reports whether no further transition is defined.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// ActiveStatuses lists the statuses that count toward conflict detection.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusAccepted}
}
