package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/contentloom/internal/database"
)

type contention struct{ n atomic.Int32 }

func (c *contention) RecordLockContention() { c.n.Add(1) }

func TestRunKey(t *testing.T) {
	assert.Equal(t, "run:acme:instagram", RunKey("acme", "instagram"))
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	lease, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.clock = func() time.Time { return now }

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, fresh.Release(ctx))
}

func TestAcquireWait_Serializes(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	obs := &contention{}

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := AcquireWait(ctx, l, RunKey("p", "x"), WaitOptions{
				TTL: time.Minute, MaxWait: 5 * time.Second, Interval: 5 * time.Millisecond, Observer: obs,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, lease.Release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Positive(t, obs.n.Load())
}

func TestAcquireWait_GivesUp(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	held, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = AcquireWait(ctx, l, "k", WaitOptions{MaxWait: 30 * time.Millisecond, Interval: 5 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestDatabaseLocker(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	defer db.Close()

	l := NewDatabaseLocker(db)
	lease, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	lease, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("CONTENTLOOM_TEST_REDIS")
	if addr == "" {
		t.Skip("CONTENTLOOM_TEST_REDIS not set")
	}
	ctx := context.Background()
	r, err := NewRedisLocker(ctx, RedisOptions{Address: addr, Prefix: "contentloom:test:" + t.Name() + ":"})
	require.NoError(t, err)
	defer r.Close()

	lease, err := r.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.(*RedisLease).Extend(ctx, time.Minute))
	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.(*RedisLease).Extend(ctx, time.Minute), ErrLocked)

	lease, err = r.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}
