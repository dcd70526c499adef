package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/infrastructure/metrics"
)

const otpMailSubject = "Your OTP for Signup"

// AuthService drives signup-by-OTP and password login.
type AuthService struct {
	users  ports.CredentialStore
	otps   *OTPLedger
	mailer ports.Mailer
	hasher PasswordHasher
	tokens *TokenCodec
	clock  Clock
	log    zerolog.Logger
}

func NewAuthService(
	users ports.CredentialStore,
	otps *OTPLedger,
	mailer ports.Mailer,
	hasher PasswordHasher,
	tokens *TokenCodec,
	clock Clock,
	log zerolog.Logger,
) *AuthService {
	if clock == nil {
		clock = systemClock{}
	}
	return &AuthService{
		users:  users,
		otps:   otps,
		mailer: mailer,
		hasher: hasher,
		tokens: tokens,
		clock:  clock,
		log:    log,
	}
}

// BeginSignup checks the username is free, issues a challenge for the email
// and mails the code. A mail failure returns domain.ErrDeliveryFailed but
// leaves the challenge consumable.
func (s *AuthService) BeginSignup(ctx context.Context, in ports.SignupInput) error {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" || email == "" || in.Password == "" {
		return domain.ErrInvalidInput
	}

	// 1. Username pre-check, before anything is issued.
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		metrics.SignupsTotal.WithLabelValues("begin", "username_exists").Inc()
		return domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		metrics.SignupsTotal.WithLabelValues("begin", "error").Inc()
		return fmt.Errorf("begin signup: %w", err)
	}

	// 2. Issue (or reissue) the challenge.
	code, err := s.otps.Issue(ctx, email)
	if err != nil {
		metrics.SignupsTotal.WithLabelValues("begin", "error").Inc()
		return fmt.Errorf("begin signup: %w", err)
	}

	// 3. Deliver. Issuance is not rolled back on failure.
	if err := s.mailer.Send(ctx, email, otpMailSubject, otpMailBody(code, s.otps.TTL())); err != nil {
		metrics.SignupsTotal.WithLabelValues("begin", "delivery_failed").Inc()
		s.log.Warn().Err(err).
			Str("username", username).
			Str("state", string(domain.SignupChallengeIssued)).
			Msg("otp delivery failed")
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}

	metrics.SignupsTotal.WithLabelValues("begin", "ok").Inc()
	s.log.Info().
		Str("username", username).
		Str("state", string(domain.SignupChallengeIssued)).
		Msg("signup challenge issued")
	return nil
}

// CompleteSignup spends the challenge and creates the identity with role USER.
// No identity is created unless the code is accepted.
func (s *AuthService) CompleteSignup(ctx context.Context, in ports.CompleteSignupInput) (*ports.AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" || email == "" || in.Password == "" {
		return nil, domain.ErrInvalidInput
	}

	// 1. Spend the code. A rejection leaves the attempt in challenge_issued.
	if err := s.otps.Consume(ctx, email, strings.TrimSpace(in.Code)); err != nil {
		if errors.Is(err, domain.ErrInvalidOTP) {
			metrics.SignupsTotal.WithLabelValues("complete", "invalid_otp").Inc()
			return nil, err
		}
		metrics.SignupsTotal.WithLabelValues("complete", "error").Inc()
		return nil, fmt.Errorf("complete signup: %w", err)
	}

	// 2. Hash.
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		metrics.SignupsTotal.WithLabelValues("complete", "error").Inc()
		return nil, fmt.Errorf("complete signup: hash password: %w", err)
	}

	// 3. Create. Uniqueness is enforced by the store.
	now := s.clock.Now().UTC()
	created, err := s.users.Create(ctx, &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserExists):
			metrics.SignupsTotal.WithLabelValues("complete", "username_exists").Inc()
			return nil, err
		case errors.Is(err, domain.ErrEmailExists):
			metrics.SignupsTotal.WithLabelValues("complete", "email_exists").Inc()
			return nil, err
		}
		metrics.SignupsTotal.WithLabelValues("complete", "error").Inc()
		return nil, fmt.Errorf("complete signup: %w", err)
	}

	// 4. Token.
	result, err := s.issue(created, "signup")
	if err != nil {
		metrics.SignupsTotal.WithLabelValues("complete", "error").Inc()
		return nil, fmt.Errorf("complete signup: %w", err)
	}

	metrics.SignupsTotal.WithLabelValues("complete", "ok").Inc()
	s.log.Info().
		Str("user_id", created.ID).
		Str("username", created.Username).
		Str("state", string(domain.SignupCompleted)).
		Msg("signup completed")
	return result, nil
}

// Login resolves the identity by username, then email, and checks the
// password. The two failure kinds stay distinct here; the transport layer
// collapses them.
func (s *AuthService) Login(ctx context.Context, in ports.LoginInput) (*ports.AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if (username == "" && email == "") || in.Password == "" {
		return nil, domain.ErrInvalidInput
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			metrics.LoginsTotal.WithLabelValues("user_not_found").Inc()
			return nil, domain.ErrUserNotFound
		}
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("login: %w", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, domain.ErrInvalidCredentials
	}

	result, err := s.issue(user, "login")
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("login: %w", err)
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	s.log.Debug().Str("user_id", user.ID).Msg("login succeeded")
	return result, nil
}

// VerifyBearerToken returns the verified claims of token.
func (s *AuthService) VerifyBearerToken(_ context.Context, token string) (*domain.TokenClaims, error) {
	claims, err := s.tokens.Verify(token)
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		metrics.TokenVerificationsTotal.WithLabelValues("expired").Inc()
		return nil, err
	case err != nil:
		metrics.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	metrics.TokenVerificationsTotal.WithLabelValues("valid").Inc()
	return claims, nil
}

// FindUser looks an identity up by username.
func (s *AuthService) FindUser(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.users.FindByUsername(ctx, username)
}

func (s *AuthService) issue(user *domain.User, reason string) (*ports.AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues(reason).Inc()
	return &ports.AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func otpMailBody(code string, ttl time.Duration) string {
	if ttl <= 0 {
		return fmt.Sprintf("Your OTP is: %s.", code)
	}
	return fmt.Sprintf("Your OTP is: %s. It is valid for %s.", code, validity(ttl))
}

// validity renders ttl in whole minutes when it divides evenly and in seconds
// otherwise, e.g. "5 minutes", "1 minute", "90 seconds".
func validity(ttl time.Duration) string {
	if ttl >= time.Minute && ttl%time.Minute == 0 {
		return plural(int(ttl/time.Minute), "minute")
	}
	return plural(int((ttl+time.Second-1)/time.Second), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
