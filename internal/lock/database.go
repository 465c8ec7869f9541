package lock

import (
	"context"
	"errors"
	"time"

	"github.com/jordanhubbard/contentloom/internal/database"
)

// DatabaseLocker adapts the persistence layer's row lock, for clustered
// deployments that share PostgreSQL but run no Redis.
type DatabaseLocker struct {
	db *database.Database
}

// NewDatabaseLocker wraps db.
func NewDatabaseLocker(db *database.Database) *DatabaseLocker {
	return &DatabaseLocker{db: db}
}

// Acquire takes the row lock, mapping a held lock to ErrLocked.
func (d *DatabaseLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l, err := d.db.AcquireLock(ctx, key, ttl)
	if errors.Is(err, database.ErrLockHeld) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}
