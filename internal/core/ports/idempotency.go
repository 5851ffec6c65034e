package ports

import "context"

// IdempotencyStore remembers which reservation a client-supplied
// Idempotency-Key produced.
type IdempotencyStore interface {
	// Lookup returns the reservation id recorded for key, or "" when unseen.
	Lookup(ctx context.Context, key string) (string, error)
	Remember(ctx context.Context, key, reservationID string) error
}
