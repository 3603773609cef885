package scheduling

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MutexLocker serializes bookings per provider inside a single process.
// Tests and single-node deployments use it; multi-node deployments use the
// redis locker instead.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *MutexLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[providerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[providerID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
