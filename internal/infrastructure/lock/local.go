// Package lock provides the in-process provider lock used when a single
// instance owns the reservation store.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Local is a keyed mutex. Waiters give up when their context is done.
// Entries are dropped once no goroutine holds or waits for them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until providerID is free or ctx is done. The lease ends with
// ctx or at unlock; an in-process lock cannot be lost otherwise.
func (l *Local) Lock(ctx context.Context, providerID string) (context.Context, func(), error) {
	l.mu.Lock()
	s, ok := l.slots[providerID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[providerID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(providerID, s)
		return nil, nil, fmt.Errorf("lock provider %s: %w", providerID, ctx.Err())
	}

	lease, cancel := context.WithCancel(ctx)
	var once sync.Once
	return lease, func() {
		once.Do(func() {
			cancel()
			<-s.ch
			l.release(providerID, s)
		})
	}, nil
}

func (l *Local) release(providerID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, providerID)
	}
}

// held reports how many keys are currently tracked.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
