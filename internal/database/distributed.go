package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockHeld is returned when another instance holds a lock.
var ErrLockHeld = errors.New("lock held by another instance")

// DistributedLock is a row-based mutual-exclusion lock with a TTL that a
// background heartbeat keeps extending until Release.
type DistributedLock struct {
	db         *Database
	lockName   string
	instanceID string
	ttl        time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

// AcquireLock attempts to take lockName. Expired locks are stolen.
func (d *Database) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (*DistributedLock, error) {
	instanceID := uuid.New().String()
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	query := `
		INSERT INTO distributed_locks (lock_name, instance_id, acquired_at, expires_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (lock_name) DO NOTHING
	`
	result, err := d.db.ExecContext(ctx, d.q(query), lockName, instanceID, now, expiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check lock acquisition: %w", err)
	}

	if rows == 0 {
		// Held; steal it only if expired.
		query = `
			UPDATE distributed_locks
			SET instance_id = ?, expires_at = ?, heartbeat_at = ?, acquired_at = ?
			WHERE lock_name = ? AND expires_at < ?
		`
		result, err = d.db.ExecContext(ctx, d.q(query), instanceID, expiresAt, now, now, lockName, now)
		if err != nil {
			return nil, fmt.Errorf("failed to steal expired lock: %w", err)
		}
		if rows, _ = result.RowsAffected(); rows == 0 {
			return nil, fmt.Errorf("%s: %w", lockName, ErrLockHeld)
		}
	}

	lock := &DistributedLock{
		db:         d,
		lockName:   lockName,
		instanceID: instanceID,
		ttl:        ttl,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go lock.heartbeat()
	return lock, nil
}

// heartbeat refreshes the lock at a third of its TTL.
func (dl *DistributedLock) heartbeat() {
	defer close(dl.done)
	interval := dl.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			now := time.Now().UTC()
			query := `
				UPDATE distributed_locks
				SET heartbeat_at = ?, expires_at = ?
				WHERE lock_name = ? AND instance_id = ?
			`
			res, err := dl.db.db.ExecContext(ctx, dl.db.q(query), now, now.Add(dl.ttl), dl.lockName, dl.instanceID)
			cancel()
			if err != nil {
				return
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Lost the lock.
				return
			}
		case <-dl.stopCh:
			return
		}
	}
}

// Release stops the heartbeat and deletes the lock if still owned.
func (dl *DistributedLock) Release(ctx context.Context) error {
	dl.stopOnce.Do(func() { close(dl.stopCh) })
	<-dl.done

	query := `DELETE FROM distributed_locks WHERE lock_name = ? AND instance_id = ?`
	if _, err := dl.db.db.ExecContext(ctx, dl.db.q(query), dl.lockName, dl.instanceID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
