// Package lock serializes generation runs for the same project and
// platform, so two runs never read the same weekly mix counts.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrLocked is returned when the key is held by another run.
var ErrLocked = errors.New("lock held by another run")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks with a TTL. Acquire returns ErrLocked
// immediately when the key is held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Observer counts lock contention.
type Observer interface {
	RecordLockContention()
}

// RunKey names the lock for one project and platform.
func RunKey(projectID, platform string) string {
	return fmt.Sprintf("run:%s:%s", projectID, platform)
}

// WaitOptions bound AcquireWait.
type WaitOptions struct {
	TTL      time.Duration
	MaxWait  time.Duration
	Interval time.Duration
	Observer Observer
}

// AcquireWait polls until the lock is free, MaxWait passes or ctx ends.
// Each failed attempt counts as contention.
func AcquireWait(ctx context.Context, l Locker, key string, opts WaitOptions) (Lease, error) {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Minute
	}

	b := retry.WithMaxDuration(opts.MaxWait, retry.WithJitterPercent(10, retry.NewConstant(opts.Interval)))
	var lease Lease
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		l2, err := l.Acquire(ctx, key, opts.TTL)
		if errors.Is(err, ErrLocked) {
			if opts.Observer != nil {
				opts.Observer.RecordLockContention()
			}
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		lease = l2
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	return lease, nil
}
