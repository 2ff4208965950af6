// Package revocation implements the token denylist: a set-membership store
// keyed by jti where entries carry a TTL equal to the revoked token's
// remaining lifetime, so the store self-trims as tokens expire.
package revocation

import (
	"context"
	"time"
)

// Store records revoked token identifiers until their natural expiry.
// Implementations must make the set-with-TTL write atomic.
type Store interface {
	// Revoke marks jti as revoked for the given ttl. A ttl <= 0 means the
	// token is already expired and the call is a no-op.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error

	// IsRevoked reports whether jti is currently on the denylist.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
