package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TTLRegistrationLock bounds how long a crashed process can block a user
// from registering again.
const TTLRegistrationLock = 5 * time.Minute

// lockStore is the subset of Cache used by RegistrationLocker.
type lockStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

// RegistrationLocker holds one lock per user while a registration
// conversation is running, across every bot replica sharing the Redis.
type RegistrationLocker struct {
	store lockStore
	ttl   time.Duration
}

// NewRegistrationLocker creates a locker backed by cache.
func NewRegistrationLocker(cache *Cache, ttl time.Duration) *RegistrationLocker {
	return newRegistrationLocker(cache, ttl)
}

func newRegistrationLocker(store lockStore, ttl time.Duration) *RegistrationLocker {
	if ttl <= 0 {
		ttl = TTLRegistrationLock
	}
	return &RegistrationLocker{store: store, ttl: ttl}
}

// TryLock acquires the lock for userID. When acquired, the returned function
// releases it; releasing twice is harmless.
func (l *RegistrationLocker) TryLock(ctx context.Context, userID string) (func(context.Context) error, bool, error) {
	key := LockKey("register:" + userID)
	owner := uuid.NewString()

	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	return func(ctx context.Context) error {
		_, err := l.store.DeleteIfEquals(ctx, key, owner)
		return err
	}, true, nil
}
