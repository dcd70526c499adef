package domain

import "time"

// TokenClaims are the verified contents of a bearer token. They are only ever
// produced by a successful signature and expiry check.
type TokenClaims struct {
	ID        string
	Subject   string
	UserID    string
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}
