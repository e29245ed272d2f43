package payouts

import (
	"context"
	"sync"
)

// AccountLocks serializes ledger submissions per source account. Waiters
// blocked on the same account are released in arrival order, so sequence
// numbers are consumed in the order requests reached the lock.
type AccountLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{slots: make(map[string]chan struct{})}
}

// Acquire blocks until the account's slot is free or the context ends. The
// returned release function must be called exactly once.
func (l *AccountLocks) Acquire(ctx context.Context, account string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[account]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[account] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-slot })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
