package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

// ErrLockLost is the cause of a lease cancelled because the lock key expired
// or changed owner, or could not be renewed in time.
var ErrLockLost = errors.New("provider lock lost")

// releaseScript deletes the lock only if it still carries our token, so an
// expired holder cannot free a lock that another instance now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the expiry forward while the key still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ProviderLock is a distributed per-provider mutex for multi-instance
// deployments. The key carries a TTL so a crashed holder cannot block
// others forever; a live holder renews it every ttl/3 and its lease is
// cancelled before the key could expire unnoticed.
type ProviderLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProviderLock(client *redis.Client, ttl time.Duration) *ProviderLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &ProviderLock{client: client, ttl: ttl}
}

func lockKey(providerID string) string {
	return keyPrefix + "lock:provider:" + providerID
}

// Lock polls SET NX until it wins or ctx is done.
func (l *ProviderLock) Lock(ctx context.Context, providerID string) (context.Context, func(), error) {
	key := lockKey(providerID)
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		sent := time.Now()
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("lock provider %s: %w", providerID, err)
		}
		if ok {
			return l.hold(ctx, key, token, sent)
		}

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("lock provider %s: %w", providerID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// hold starts the renewal loop for an acquired key and returns the lease
// and the release function.
func (l *ProviderLock) hold(ctx context.Context, key, token string, acquired time.Time) (context.Context, func(), error) {
	lease, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		l.renew(lease, cancel, stop, key, token, acquired)
	}()

	var once sync.Once
	return lease, func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(context.Canceled)
			// Detached from the request: the lock must be freed even if the
			// caller's context was cancelled mid-write.
			rctx, rcancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer rcancel()
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// renew extends the key every ttl/3. The lease is cancelled when the key no
// longer carries token, or when renewals keep failing for 2/3 of the TTL.
// The expiry is set from the moment a renewal is sent, so the lease always
// ends before the key can expire.
func (l *ProviderLock) renew(lease context.Context, cancel context.CancelCauseFunc, stop <-chan struct{}, key, token string, lastRenewed time.Time) {
	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-lease.Done():
			return
		case <-ticker.C:
		}

		sent := time.Now()
		rctx, rcancel := context.WithTimeout(context.Background(), interval/2)
		n, err := renewScript.Run(rctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		rcancel()

		switch {
		case err == nil && n == 1:
			lastRenewed = sent
		case err == nil:
			cancel(fmt.Errorf("%w: %s changed owner or expired", ErrLockLost, key))
			return
		case time.Since(lastRenewed) >= l.ttl-interval:
			cancel(fmt.Errorf("%w: renew %s: %w", ErrLockLost, key, err))
			return
		}
	}
}
