package token

import "github.com/golang-jwt/jwt/v5"

// Type distinguishes short-lived access tokens from long-lived refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the fixed claim set carried by every token this service issues.
// Subject is the user id and ID (jti) is the revocation-store key. Fresh is
// true only on access tokens minted directly from a primary-credential login,
// never on tokens obtained through a refresh exchange.
type Claims struct {
	jwt.RegisteredClaims
	TokenType Type `json:"type"`
	Fresh     bool `json:"fresh"`
}

// UserID returns the subject the token was issued for.
func (c *Claims) UserID() string { return c.Subject }
