package domain

import (
	"fmt"
	"time"
)

// MaxNoteLength bounds the free-text note attached to a reservation.
const MaxNoteLength = 1000

// Reservation is the core aggregate root: one appointment between a client
// and a provider.
type Reservation struct {
	ID              string    `json:"id" bson:"_id"`
	ProviderID      string    `json:"provider_id" bson:"provider_id"`
	ClientID        string    `json:"client_id" bson:"client_id"`
	Start           time.Time `json:"start" bson:"start"`
	End             time.Time `json:"end" bson:"end"`
	DurationMinutes int       `json:"duration_minutes" bson:"duration_minutes"`
	Status          Status    `json:"status" bson:"status"`
	Note            string    `json:"note,omitempty" bson:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

// Interval returns [Start, Start+DurationMinutes).
func (r *Reservation) Interval() Interval {
	return NewInterval(r.Start, r.DurationMinutes)
}

// Reschedule sets Start, DurationMinutes and the denormalised End together.
func (r *Reservation) Reschedule(start time.Time, minutes int) {
	iv := NewInterval(start, minutes)
	r.Start = iv.Start
	r.End = iv.End
	r.DurationMinutes = minutes
}

// CanEditSchedule reports whether start, duration and note may change.
func (r *Reservation) CanEditSchedule() bool {
	return r.Status == StatusPending
}

// TransitionTo moves the reservation to next or returns ErrInvalidTransition.
func (r *Reservation) TransitionTo(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w (from %s to %s)", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// ValidateSchedule checks the user-supplied schedule fields.
func ValidateSchedule(start time.Time, minutes int) error {
	if start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrValidation)
	}
	if minutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be greater than 0", ErrValidation)
	}
	return nil
}

// ValidateNote checks the optional note.
func ValidateNote(note string) error {
	if len([]rune(note)) > MaxNoteLength {
		return fmt.Errorf("%w: note must be at most %d characters", ErrValidation, MaxNoteLength)
	}
	return nil
}
