package store

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisTTLStore implements TTLStore using a Redis backend. SET NX and SET XX
// provide the atomic conditional writes; expiry is enforced server-side.
type RedisTTLStore struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisTTLStore.
type RedisOption func(*redisTTLOptions)

type redisTTLOptions struct {
	timeout time.Duration
}

// WithRedisTimeout sets the operation timeout for Redis calls.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(o *redisTTLOptions) {
		o.timeout = d
	}
}

// NewRedisTTLStore returns a new RedisTTLStore using the provided client.
func NewRedisTTLStore(client *redis.Client, opts ...RedisOption) *RedisTTLStore {
	o := redisTTLOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisTTLStore{client: client, timeout: o.timeout}
}

// SetIfAbsent implements TTLStore.SetIfAbsent.
func (s *RedisTTLStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, mapRedisErr(err)
	}
	return ok, nil
}

// SetIfPresent implements TTLStore.SetIfPresent. It refreshes the expiry only
// when the key still exists, so it never resurrects an expired lock.
func (s *RedisTTLStore) SetIfPresent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetXX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, mapRedisErr(err)
	}
	return ok, nil
}

// Get implements TTLStore.Get.
func (s *RedisTTLStore) Get(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.client.Get(cctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapRedisErr(err)
	}
	return v, true, nil
}

// Delete implements TTLStore.Delete.
func (s *RedisTTLStore) Delete(ctx context.Context, key string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, key).Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

func mapRedisErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return dlockerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return dlockerrors.ErrConnectionClosed
	}
	return err
}
