package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// Key format: otp:signup:<email>
const otpKeyPrefix = "otp:signup:"

// consumeScript deletes the challenge only when the stored hash matches, so a
// code can never survive its own consumption or match after an overwrite.
var consumeScript = redis.NewScript(`
local stored = redis.call("HGET", KEYS[1], "code_hash")
if stored and stored == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// OTPStore implements ports.OTPStore on Redis hashes. Expiry is the key TTL.
type OTPStore struct {
	client *redis.Client
}

// NewOTPStore creates an OTPStore wrapping the given Redis client.
func NewOTPStore(client *redis.Client) *OTPStore {
	return &OTPStore{client: client}
}

// Save replaces the challenge for the email inside a MULTI block.
func (s *OTPStore) Save(ctx context.Context, c domain.OTPChallenge) error {
	key := s.key(c.Email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code_hash", c.CodeHash,
			"issued_at", strconv.FormatInt(c.IssuedAt.UnixMilli(), 10),
		)
		if !c.ExpiresAt.IsZero() {
			pipe.PExpireAt(ctx, key, c.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

// ConsumeIfMatch runs the compare-and-delete script.
func (s *OTPStore) ConsumeIfMatch(ctx context.Context, email, codeHash string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(email)}, codeHash).Int()
	if err != nil {
		return false, fmt.Errorf("consume otp: %w: %w", domain.ErrUnavailable, err)
	}
	return n == 1, nil
}

func (s *OTPStore) key(email string) string {
	return otpKeyPrefix + email
}
