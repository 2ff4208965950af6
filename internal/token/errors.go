package token

import "errors"

// Validation failures. Callers at the API boundary collapse all of these into
// a uniform unauthorized response; the distinction exists for logging.
var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrMalformed        = errors.New("token is malformed")
	ErrExpired          = errors.New("token has expired")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrNotFresh         = errors.New("fresh token required")
	ErrRevoked          = errors.New("token has been revoked")
)
