package revocation

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps the denylist in process memory. Useful for development
// and tests; a multi-instance deployment needs the Redis backend.
type MemoryStore struct {
	entries *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: cache.New(cache.NoExpiration, time.Minute)}
}

func (s *MemoryStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.entries.Set(jti, struct{}{}, ttl)
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, found := s.entries.Get(jti)
	return found, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
