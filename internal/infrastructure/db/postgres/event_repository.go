package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

type EventRepository struct {
	pool *pgxpool.Pool
}

var _ ports.EventRepository = (*EventRepository)(nil)

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// InsertEvent appends to the audit table; redelivered ids are ignored.
func (r *EventRepository) InsertEvent(ctx context.Context, e *domain.ReservationEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reservation_events
			(id, type, reservation_id, provider_id, client_id, actor_id, status, start_at, duration_minutes, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Type), e.ReservationID, e.ProviderID, e.ClientID, e.ActorID,
		string(e.Status), e.Start, e.DurationMinutes, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepository) ListByReservation(ctx context.Context, reservationID string) ([]domain.ReservationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, type, reservation_id, provider_id, client_id, actor_id, status, start_at, duration_minutes, occurred_at
		FROM reservation_events
		WHERE reservation_id=$1
		ORDER BY occurred_at, id`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ReservationEvent, error) {
		var (
			e            domain.ReservationEvent
			kind, status string
		)
		err := row.Scan(&e.ID, &kind, &e.ReservationID, &e.ProviderID, &e.ClientID, &e.ActorID,
			&status, &e.Start, &e.DurationMinutes, &e.OccurredAt)
		e.Type, e.Status = domain.EventType(kind), domain.Status(status)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	if events == nil {
		events = []domain.ReservationEvent{}
	}
	return events, nil
}
