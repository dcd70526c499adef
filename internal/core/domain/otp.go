package domain

import "time"

// OTPChallenge is the single live signup challenge for an email address.
// Only the SHA-256 of the code is kept.
type OTPChallenge struct {
	Email     string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero means the challenge never expires
}

// Expired reports whether the challenge is no longer consumable at now.
func (c OTPChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// SignupState is the progress of a single signup attempt, reported in logs.
// A rejected code leaves the attempt in SignupChallengeIssued.
type SignupState string

const (
	SignupNoChallenge     SignupState = "no_challenge"
	SignupChallengeIssued SignupState = "challenge_issued"
	SignupCompleted       SignupState = "completed"
)
