package ports

import (
	"context"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// CredentialStore persists identities. Create must enforce username and email
// uniqueness atomically, returning domain.ErrUserExists or domain.ErrEmailExists.
type CredentialStore interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	// FindByUsernameOrEmail tries username first and falls back to email.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error)
}
