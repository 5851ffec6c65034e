package ports

import (
	"context"
	"time"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

// CreateReservationInput is the DTO passed from the transport layer to
// ReservationService.Create. Start stays a string so parsing errors are
// reported by the service as validation failures.
type CreateReservationInput struct {
	ProviderID      string
	Start           string
	DurationMinutes int
	Note            string
	IdempotencyKey  string
}

// CreateResult is returned by Create.
type CreateResult struct {
	Reservation *domain.Reservation
	// AlreadyExisted is true when the Idempotency-Key matched an earlier create.
	AlreadyExisted bool
}

// ListReservationsInput carries the optional list filters.
type ListReservationsInput struct {
	Status string
	// As narrows the listing to the caller acting as "client" or "provider".
	As string
}

// UpdateReservationInput is a partial update; nil fields stay unchanged.
type UpdateReservationInput struct {
	Start           *string
	DurationMinutes *int
	Note            *string
	Status          *string
}

// ReservationService defines use-case operations for reservations.
type ReservationService interface {
	Create(ctx context.Context, input CreateReservationInput, caller domain.Identity) (*CreateResult, error)
	List(ctx context.Context, input ListReservationsInput, caller domain.Identity) ([]domain.Reservation, error)
	Get(ctx context.Context, id string, caller domain.Identity) (*domain.Reservation, error)
	Update(ctx context.Context, id string, input UpdateReservationInput, caller domain.Identity) (*domain.Reservation, error)
	Decide(ctx context.Context, id string, decision domain.Status, caller domain.Identity) (*domain.Reservation, error)
	Cancel(ctx context.Context, id string, caller domain.Identity) (*domain.Reservation, error)
	Delete(ctx context.Context, id string, caller domain.Identity) error
	History(ctx context.Context, id string, caller domain.Identity) ([]domain.ReservationEvent, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}
