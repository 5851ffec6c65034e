package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The exclusion constraint backs the provider lock: two active rows of one
// provider can never hold intersecting [start_at, end_at) ranges.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	roles         TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reservations (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL,
	client_id        TEXT NOT NULL,
	start_at         TIMESTAMPTZ NOT NULL,
	end_at           TIMESTAMPTZ NOT NULL,
	duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
	status           TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected', 'cancelled')),
	note             TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (provider_id <> client_id),
	CHECK (end_at > start_at),
	CONSTRAINT reservations_provider_no_overlap EXCLUDE USING gist (
		provider_id WITH =,
		tstzrange(start_at, end_at, '[)') WITH &&
	) WHERE (status IN ('pending', 'accepted'))
);

CREATE INDEX IF NOT EXISTS idx_reservations_provider_start ON reservations(provider_id, start_at);
CREATE INDEX IF NOT EXISTS idx_reservations_client_start ON reservations(client_id, start_at);

CREATE TABLE IF NOT EXISTS reservation_events (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	reservation_id   TEXT NOT NULL,
	provider_id      TEXT NOT NULL,
	client_id        TEXT NOT NULL,
	actor_id         TEXT NOT NULL,
	status           TEXT NOT NULL,
	start_at         TIMESTAMPTZ NOT NULL,
	duration_minutes INTEGER NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservation_events_reservation ON reservation_events(reservation_id, occurred_at);
`

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
