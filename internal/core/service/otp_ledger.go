package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/infrastructure/metrics"
)

const (
	otpMin    = 100000
	otpSpan   = 900000 // codes fall in [100000, 999999]
	otpDigits = 6

	// DefaultOTPTTL matches the validity promised in the OTP mail.
	DefaultOTPTTL = 5 * time.Minute
)

// CodeGenerator produces the numeric code mailed to the user.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws codes uniformly from crypto/rand.
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return strconv.FormatInt(otpMin+n.Int64(), 10), nil
}

// HashOTP returns the hex SHA-256 of code. Only hashes reach the store.
func HashOTP(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// OTPLedger keeps one live challenge per email: issuing overwrites, consuming
// deletes. Serialization per email is delegated to the store's atomic writes.
type OTPLedger struct {
	store ports.OTPStore
	gen   CodeGenerator
	ttl   time.Duration
	clock Clock
}

// NewOTPLedger builds a ledger. ttl <= 0 disables expiry; gen and clock default
// to crypto/rand and the system time.
func NewOTPLedger(store ports.OTPStore, gen CodeGenerator, ttl time.Duration, clock Clock) *OTPLedger {
	if gen == nil {
		gen = RandomCodeGenerator{}
	}
	if clock == nil {
		clock = systemClock{}
	}
	if ttl < 0 {
		ttl = 0
	}
	return &OTPLedger{store: store, gen: gen, ttl: ttl, clock: clock}
}

// TTL returns the challenge lifetime, zero when challenges never expire.
func (l *OTPLedger) TTL() time.Duration { return l.ttl }

// Issue generates a fresh code for email and replaces any earlier challenge.
// The plain code is returned for delivery and never stored.
func (l *OTPLedger) Issue(ctx context.Context, email string) (string, error) {
	code, err := l.gen.Generate()
	if err != nil {
		return "", err
	}

	now := l.clock.Now().UTC()
	challenge := domain.OTPChallenge{
		Email:    email,
		CodeHash: HashOTP(code),
		IssuedAt: now,
	}
	if l.ttl > 0 {
		challenge.ExpiresAt = now.Add(l.ttl)
	}

	if err := l.store.Save(ctx, challenge); err != nil {
		return "", fmt.Errorf("issue otp: %w", err)
	}
	metrics.OTPIssuedTotal.Inc()
	return code, nil
}

// Consume spends the challenge for email if code matches. Absent, wrong and
// expired challenges all return domain.ErrInvalidOTP.
func (l *OTPLedger) Consume(ctx context.Context, email, code string) error {
	if !wellFormedCode(code) {
		metrics.OTPConsumedTotal.WithLabelValues("rejected").Inc()
		return domain.ErrInvalidOTP
	}

	ok, err := l.store.ConsumeIfMatch(ctx, email, HashOTP(code))
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		metrics.OTPConsumedTotal.WithLabelValues("rejected").Inc()
		return domain.ErrInvalidOTP
	}
	metrics.OTPConsumedTotal.WithLabelValues("ok").Inc()
	return nil
}

func wellFormedCode(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
