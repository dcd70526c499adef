package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("username already exists")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidOTP         = errors.New("invalid or expired OTP")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// ErrDeliveryFailed reports that the OTP mail could not be sent. The challenge
// stays live, so it is not a reason to undo anything.
var ErrDeliveryFailed = errors.New("OTP delivery failed")

// ErrUnavailable marks a store or transport fault. Repositories wrap driver
// errors with it so they are never mistaken for domain outcomes.
var ErrUnavailable = errors.New("dependency unavailable")
