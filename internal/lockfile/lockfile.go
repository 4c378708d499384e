// Package lockfile provides an advisory exclusive lock on a filesystem path.
// Platform branching lives inside the flock dependency; callers only see
// Lock/TryLock/Unlock.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const (
	// DefaultRetryDelay is the initial delay between acquisition retries.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultMaxRetries is the default maximum number of acquisition retries.
	DefaultMaxRetries = 10

	// maxRetryDelay caps the exponential growth of the retry delay.
	maxRetryDelay = 5 * time.Second
)

// ErrLockNotAcquired is returned when the lock cannot be acquired within the
// configured retry budget.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Config holds lock acquisition configuration.
type Config struct {
	RetryDelay time.Duration // initial delay between retries
	MaxRetries int           // maximum acquisition retries
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryDelay: DefaultRetryDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Lock is an advisory exclusive lock on a path.
type Lock struct {
	fl         *flock.Flock
	retryDelay time.Duration
	maxRetries int
}

// New creates a lock for the given path. The lock file is created if absent
// and never removed; only the advisory lock state matters.
func New(path string, cfg Config) *Lock {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Lock{
		fl:         flock.New(path),
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
	}
}

// Lock acquires the lock, retrying with exponential backoff until acquired,
// retries are exhausted, or the context is cancelled.
func (l *Lock) Lock(ctx context.Context) error {
	delay := l.retryDelay
	for i := range l.maxRetries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		acquired, err := l.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if i < l.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}

	return ErrLockNotAcquired
}

// TryLock attempts to acquire the lock without blocking.
func (l *Lock) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// WithLock runs fn while holding an exclusive lock on path. The lock covers
// the full read-modify-write span of fn.
func WithLock(ctx context.Context, path string, cfg Config, fn func() error) error {
	lock := New(path, cfg)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}
