package ports

import (
	"context"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

// EventRepository persists the reservation audit trail.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *domain.ReservationEvent) error
	// ListByReservation returns events oldest first.
	ListByReservation(ctx context.Context, reservationID string) ([]domain.ReservationEvent, error)
}

// EventPublisher hands lifecycle events to asynchronous processing. It
// must not block the caller on downstream I/O.
type EventPublisher interface {
	Publish(event domain.ReservationEvent)
}

// EventSink forwards processed events to an external system (e.g. Kafka).
type EventSink interface {
	Send(ctx context.Context, event domain.ReservationEvent) error
}

// EventService processes a single lifecycle event.
type EventService interface {
	Process(ctx context.Context, event domain.ReservationEvent) error
}
