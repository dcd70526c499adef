package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
)

const (
	defaultTokenTTL = 24 * time.Hour
	// HS256 keys shorter than the hash output weaken the MAC.
	minSigningKeyBytes = 32
)

var ErrSigningKeyTooShort = fmt.Errorf("signing key must decode to at least %d bytes", minSigningKeyBytes)

// tokenClaims is the JWT payload. user_id and email keep the names existing
// clients already decode.
type tokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens. It owns the signing key
// and TTL; rotating the key means building a new codec, which invalidates
// every token issued by the old one.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

// NewTokenCodec decodes a standard base64 secret and returns a codec issuing
// tokens valid for ttl. A nil clock uses the system time.
func NewTokenCodec(encodedSecret string, ttl time.Duration, clock Clock) (*TokenCodec, error) {
	secret, err := base64.StdEncoding.DecodeString(encodedSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(secret) < minSigningKeyBytes {
		return nil, ErrSigningKeyTooShort
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &TokenCodec{secret: secret, ttl: ttl, clock: clock}, nil
}

// TTL returns how long issued tokens stay valid.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue mints a token whose subject is the username.
func (c *TokenCodec) Issue(user *domain.User) (string, time.Time, error) {
	now := c.clock.Now()
	claims := tokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature first and the expiry second. Malformed or
// tampered tokens yield domain.ErrTokenInvalid; a genuine but stale token
// yields domain.ErrTokenExpired.
func (c *TokenCodec) Verify(token string) (*domain.TokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	if claims.Subject == "" || !domain.Role(claims.Role).Valid() {
		return nil, domain.ErrTokenInvalid
	}

	out := &domain.TokenClaims{
		ID:        claims.ID,
		Subject:   claims.Subject,
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      domain.Role(claims.Role),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
