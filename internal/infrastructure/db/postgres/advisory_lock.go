package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker serialises bookings per provider with session-level
// advisory locks. Each held lock pins one pool connection until released.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// Lock takes a session advisory lock. The lease ends at unlock; the lock
// itself lives as long as the pinned session.
func (l *AdvisoryLocker) Lock(ctx context.Context, providerID string) (context.Context, func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("lock provider %s: acquire conn: %w", providerID, err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, providerID); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("lock provider %s: %w", providerID, err)
	}

	lease, cancel := context.WithCancel(ctx)
	var once sync.Once
	return lease, func() {
		once.Do(func() {
			cancel()
			uctx, ucancel := context.WithTimeout(context.Background(), queryTimeout)
			defer ucancel()
			if _, err := conn.Exec(uctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, providerID); err != nil {
				// Closing the session drops every lock it holds.
				_ = conn.Conn().Close(uctx)
			}
			conn.Release()
		})
	}, nil
}
