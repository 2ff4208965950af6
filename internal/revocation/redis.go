package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production denylist backend. Revoked jtis are stored as
// plain keys with an expiry, so Redis drops them once the underlying token
// would have expired anyway.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedisStore(addr, password string, db int, timeout time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		timeout: timeout,
	}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Set(ctx, jti, "", ttl).Err()
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
