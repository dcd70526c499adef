package ports

import (
	"context"
	"time"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// SignupInput starts a signup attempt.
type SignupInput struct {
	Username string
	Email    string
	Password string
}

// CompleteSignupInput finishes a signup attempt with the code that was mailed.
type CompleteSignupInput struct {
	Email    string
	Code     string
	Username string
	Password string
}

// LoginInput identifies the account by username, falling back to email.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// AuthResult is returned by every operation that issues a token.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.User
}

type AuthService interface {
	BeginSignup(ctx context.Context, in SignupInput) error
	CompleteSignup(ctx context.Context, in CompleteSignupInput) (*AuthResult, error)
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	VerifyBearerToken(ctx context.Context, token string) (*domain.TokenClaims, error)
	FindUser(ctx context.Context, username string) (*domain.User, error)
}
