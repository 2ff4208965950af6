package main

import "time"

// User is the credential-store record for an account. ID and Email are
// immutable once created; Username changes through the profile endpoint and
// Password through the dedicated change-password flow.
type User struct {
	ID           string
	Email        string
	Username     string
	Password     string // bcrypt hash, never the raw password
	ResetToken   string
	ResetExpires *time.Time
	CreatedAt    time.Time
}
