package ports

import (
	"context"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

// ListReservationsFilter carries the query parameters for listing
// reservations. Scope is always set by the service layer from the policy.
type ListReservationsFilter struct {
	Scope  domain.ReservationScope
	Status domain.Status // optional
}

// ReservationRepository defines persistence operations for reservations.
// Implementations return domain.ErrReservationNotFound for missing ids and
// results of List/FindActiveByProvider ordered by start, then id.
type ReservationRepository interface {
	Create(ctx context.Context, r *domain.Reservation) error
	FindByID(ctx context.Context, id string) (*domain.Reservation, error)
	// Update replaces the stored record with r (matched by r.ID).
	Update(ctx context.Context, r *domain.Reservation) error
	// Delete removes the record outright.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListReservationsFilter) ([]domain.Reservation, error)
	// FindActiveByProvider returns the provider's pending/accepted
	// reservations whose interval intersects window.
	FindActiveByProvider(ctx context.Context, providerID string, window domain.Interval) ([]domain.Reservation, error)
}
