package domain

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the reservation core. Callers match them
// with errors.Is; adapters and services wrap them with context.
var (
	ErrValidation          = errors.New("validation failed")
	ErrForbidden           = errors.New("access forbidden")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrBookingConflict     = errors.New("provider is already booked at this time")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotPending          = errors.New("reservation is no longer pending")
	ErrStorage             = errors.New("storage unavailable")
	ErrUserNotFound        = errors.New("user not found")
)

// ConflictError carries the active reservations that overlap a requested
// interval. It matches ErrBookingConflict.
type ConflictError struct {
	ProviderID string
	Requested  Interval
	Conflicts  []Reservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: provider %s has %d overlapping reservation(s) between %s and %s",
		ErrBookingConflict, e.ProviderID, len(e.Conflicts),
		e.Requested.Start.Format("2006-01-02T15:04:05Z07:00"),
		e.Requested.End.Format("2006-01-02T15:04:05Z07:00"))
}

func (e *ConflictError) Unwrap() error { return ErrBookingConflict }

// IsStateError reports whether err is a lifecycle violation.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotPending)
}

// IsKnown reports whether err already belongs to one of the categories above.
func IsKnown(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrForbidden, ErrReservationNotFound, ErrBookingConflict,
		ErrInvalidTransition, ErrNotPending, ErrStorage, ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
