// Package postgres holds the pgx-backed reservation store, user directory,
// audit trail and advisory provider lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

const (
	queryTimeout = 10 * time.Second

	sqlstateExclusionViolation = "23P01"
	sqlstateUniqueViolation    = "23505"
)

// Connect opens a pool and verifies connectivity with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Pinger adapts a pool to the readiness check.
type Pinger struct {
	Pool *pgxpool.Pool
}

func (p Pinger) Name() string { return "postgres" }

func (p Pinger) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// sqlState returns the SQLSTATE of a server error, or "".
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapWriteErr turns constraint violations into domain errors.
func mapWriteErr(op string, err error) error {
	switch sqlState(err) {
	case sqlstateExclusionViolation:
		return fmt.Errorf("%s: %w", op, domain.ErrBookingConflict)
	case sqlstateUniqueViolation:
		return fmt.Errorf("%s: %w: duplicate key", op, domain.ErrValidation)
	}
	return fmt.Errorf("%s: %w", op, err)
}
