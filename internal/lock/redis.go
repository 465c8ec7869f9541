package lock

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configure the Redis connection.
type RedisOptions struct {
	Address   string      `yaml:"address"`
	Password  string      `yaml:"password"`
	DB        int         `yaml:"db"`
	Prefix    string      `yaml:"prefix"`
	TLSConfig *tls.Config `yaml:"-"`
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only when the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker backed by SET NX PX with token-checked release,
// shared by every worker pointed at the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, opts RedisOptions) (*RedisLocker, error) {
	if opts.Address == "" {
		opts.Address = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Address,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Address, err)
	}
	return NewRedisLockerFromClient(client, opts.Prefix), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "contentloom:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire sets the key with a fresh token if it is absent.
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to set lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &RedisLease{client: r.client, key: full, token: token}, nil
}

// Close closes the Redis client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

// RedisLease is a held Redis lock.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Extend pushes the expiry out by ttl. It returns ErrLocked when the lease
// was lost to expiry.
func (l *RedisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}

// Release deletes the key if it still holds this lease's token.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
