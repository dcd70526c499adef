package ports

import (
	"context"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// OTPStore holds at most one challenge per email.
type OTPStore interface {
	// Save replaces any existing challenge for challenge.Email in one write.
	Save(ctx context.Context, challenge domain.OTPChallenge) error
	// ConsumeIfMatch deletes the challenge for email only if its code hash
	// equals codeHash and it has not expired. The compare and the delete are a
	// single atomic step; ok is false when nothing was consumed.
	ConsumeIfMatch(ctx context.Context, email, codeHash string) (ok bool, err error)
}
