package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

var (
	ErrLockNotHeld    = errors.New("lock was not held or already expired")
	ErrEmptyLockKey   = errors.New("lock key cannot be empty")
	ErrNilLockFn      = errors.New("lock function is nil")
	ErrLockNotAcquire = errors.New("could not acquire lock")
)

// LockOptions tunes the RedLock mutex used by LockManager.
type LockOptions struct {
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:      10 * time.Second,
		Tries:       32,
		RetryDelay:  50 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// LockManager hands out distributed mutexes backed by the adapter's client.
type LockManager struct {
	rs     *redsync.Redsync
	prefix string
	opts   LockOptions
}

func NewLockManager(adapter RedisAdapter, prefix string, opts LockOptions) *LockManager {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultLockOptions().Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = DefaultLockOptions().Tries
	}
	return &LockManager{
		rs:     redsync.New(goredis.NewPool(adapter.Client())),
		prefix: prefix,
		opts:   opts,
	}
}

// WithLock runs fn while holding the mutex named key.
func (m *LockManager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return ErrEmptyLockKey
	}
	if fn == nil {
		return ErrNilLockFn
	}

	mutex := m.rs.NewMutex(m.prefix+key,
		redsync.WithExpiry(m.opts.Expiry),
		redsync.WithTries(m.opts.Tries),
		redsync.WithRetryDelay(m.opts.RetryDelay),
		redsync.WithDriftFactor(m.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w %s: %v", ErrLockNotAcquire, key, err)
	}

	fnErr := fn(ctx)

	ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}
