package ports

import "context"

// ProviderLocker serialises check-and-write sequences per provider.
// Lock blocks until the lock is held or ctx is done. Work done under the
// lock must use the returned lease: it is cancelled once ownership can no
// longer be guaranteed (expiry, lost connection) and after unlock. unlock
// releases the lock and is safe to call more than once.
type ProviderLocker interface {
	Lock(ctx context.Context, providerID string) (lease context.Context, unlock func(), err error)
}
