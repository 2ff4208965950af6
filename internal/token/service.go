// Package token issues, validates, refreshes, and revokes the signed JWTs
// this service uses as credentials. Tokens are self-contained; the only
// server-side state is the denylist of revoked jtis in the revocation store.
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/authsvc/internal/revocation"
)

// Service signs and verifies tokens with a process-wide HS256 secret. It is
// immutable after construction and safe for concurrent use.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      revocation.Store
	log        *slog.Logger
	now        func() time.Time
}

func NewService(secret []byte, accessTTL, refreshTTL time.Duration, store revocation.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		log:        log,
		now:        time.Now,
	}
}

// Lifetime returns the configured validity duration for a token type.
func (s *Service) Lifetime(typ Type) time.Duration {
	if typ == TypeRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// Issue mints a signed token for userID. Refresh tokens are never fresh,
// regardless of the flag.
func (s *Service) Issue(userID string, typ Type, fresh bool) (string, *Claims, error) {
	if typ == TypeRefresh {
		fresh = false
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Lifetime(typ))),
		},
		TokenType: typ,
		Fresh:     fresh,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// parse verifies the signature and decodes the claim set. Signature
// verification happens before anything else; unverified claims are never
// inspected. Expiry is checked by the parser against s.now.
func (s *Service) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrMalformed
		}
	}
	if claims.Subject == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}
	if claims.TokenType != TypeAccess && claims.TokenType != TypeRefresh {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Validate runs the full check sequence: signature, structure, expiry, token
// type, freshness, and finally the revocation-store lookup. The denylist is
// consulted last so trivially invalid tokens never cost a store round trip.
//
// A revocation-store failure rejects the token (fail closed): treating an
// unreachable denylist as "not revoked" would let logged-out tokens back in.
func (s *Service) Validate(ctx context.Context, tokenString string, required Type, requireFresh bool) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != required {
		return nil, ErrWrongTokenType
	}
	if requireFresh && !claims.Fresh {
		return nil, ErrNotFresh
	}
	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.log.Error("revocation lookup failed, rejecting token", "jti", claims.ID, "error", err)
		return nil, ErrRevoked
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Revoke denylists a token of either type for its remaining lifetime. An
// already-expired token is a successful no-op, and revoking the same token
// twice is harmless.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil
		}
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.store.Revoke(ctx, claims.ID, ttl)
}

// Refresh exchanges a valid refresh token for a new non-fresh access token.
// The refresh token itself is not rotated or revoked; it stays usable until
// it expires or is revoked through logout.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, *Claims, error) {
	claims, err := s.Validate(ctx, refreshToken, TypeRefresh, false)
	if err != nil {
		return "", nil, err
	}
	return s.Issue(claims.Subject, TypeAccess, false)
}
