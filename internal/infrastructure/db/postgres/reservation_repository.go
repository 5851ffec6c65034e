package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

const reservationColumns = `id, provider_id, client_id, start_at, end_at, duration_minutes, status, note, created_at, updated_at`

type ReservationRepository struct {
	pool *pgxpool.Pool
}

var _ ports.ReservationRepository = (*ReservationRepository)(nil)

func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		res.ID, res.ProviderID, res.ClientID, res.Start, res.End, res.DurationMinutes,
		string(res.Status), res.Note, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr("insert reservation", err)
	}
	return nil
}

func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id)
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	res, err := pgx.CollectExactlyOneRow(rows, scanReservation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return &res, nil
}

func (r *ReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE reservations
		SET start_at=$2, end_at=$3, duration_minutes=$4, status=$5, note=$6, updated_at=$7
		WHERE id=$1`,
		res.ID, res.Start, res.End, res.DurationMinutes, string(res.Status), res.Note, res.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr("update reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM reservations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepository) List(ctx context.Context, f ports.ListReservationsFilter) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where, args := listWhere(f)
	return r.query(ctx, `SELECT `+reservationColumns+` FROM reservations`+where+` ORDER BY start_at, id`, args...)
}

func (r *ReservationRepository) FindActiveByProvider(ctx context.Context, providerID string, window domain.Interval) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql, args := activeByProvider(providerID, window)
	return r.query(ctx, sql, args...)
}

// activeByProvider selects pending and accepted rows whose half-open interval
// overlaps window: start_at < window.End AND end_at > window.Start.
func activeByProvider(providerID string, window domain.Interval) (string, []any) {
	return `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE provider_id=$1
		  AND status IN ('pending', 'accepted')
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at, id`,
		[]any{providerID, window.Start, window.End}
}

func (r *ReservationRepository) query(ctx context.Context, sql string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanReservation)
	if err != nil {
		return nil, fmt.Errorf("scan reservations: %w", err)
	}
	if out == nil {
		out = []domain.Reservation{}
	}
	return out, nil
}

func scanReservation(row pgx.CollectableRow) (domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.ProviderID, &res.ClientID, &res.Start, &res.End,
		&res.DurationMinutes, &status, &res.Note, &res.CreatedAt, &res.UpdatedAt)
	res.Status = domain.Status(status)
	res.Start, res.End = res.Start.UTC(), res.End.UTC()
	return res, err
}

// listWhere renders the scope and status filter as a WHERE clause.
func listWhere(f ports.ListReservationsFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.Scope.All {
		var or []string
		if f.Scope.ClientID != "" {
			args = append(args, f.Scope.ClientID)
			or = append(or, fmt.Sprintf("client_id=$%d", len(args)))
		}
		if f.Scope.ProviderID != "" {
			args = append(args, f.Scope.ProviderID)
			or = append(or, fmt.Sprintf("provider_id=$%d", len(args)))
		}
		if len(or) == 0 {
			or = append(or, "FALSE")
		}
		conds = append(conds, "("+strings.Join(or, " OR ")+")")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
