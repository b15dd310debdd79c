package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ILocker serializes one charge-and-persist sequence per subscription id.
// Acquire returns a release func, or an error if the lock is already held
// (another worker or an overlapping run is processing the same subscription).
type ILocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedsyncLocker implements ILocker with a Redis-backed distributed mutex.
type RedsyncLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

// NewRedsyncLocker creates a Redis-backed locker. ttl bounds how long a lock
// can be held if the holder dies mid-sequence.
func NewRedsyncLocker(client *redis.Client, ttl time.Duration) *RedsyncLocker {
	pool := goredis.NewPool(client)
	return &RedsyncLocker{
		rs:  redsync.New(pool),
		ttl: ttl,
	}
}

func (l *RedsyncLocker) Acquire(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		fmt.Sprintf("billing_lock:%s", key),
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1), // a held lock means already processing; do not wait
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", key, err)
	}
	release := func() {
		// Unlock failure is non-fatal: the expiry reclaims the lock.
		_, _ = mutex.Unlock()
	}
	return release, nil
}
