package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/identity-service/internal/core/domain"
)

const otpCollection = "otp_challenges"

// OTPStore implements ports.OTPStore on a collection keyed by email, so a
// replace-upsert is the overwrite and FindOneAndDelete is the compare-and-delete.
type OTPStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewOTPStore(db *mongo.Database) *OTPStore {
	return &OTPStore{coll: db.Collection(otpCollection), now: time.Now}
}

type mongoChallenge struct {
	Email     string     `bson:"_id"`
	CodeHash  string     `bson:"code_hash"`
	IssuedAt  time.Time  `bson:"issued_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

func (s *OTPStore) Save(ctx context.Context, c domain.OTPChallenge) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := mongoChallenge{Email: c.Email, CodeHash: c.CodeHash, IssuedAt: c.IssuedAt.UTC()}
	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt.UTC()
		doc.ExpiresAt = &exp
	}

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": c.Email}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save otp: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

// ConsumeIfMatch deletes the challenge only if the hash matches and it has not
// expired. Expired documents are also reaped by the TTL index.
func (s *OTPStore) ConsumeIfMatch(ctx context.Context, email, codeHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{
		"_id":       email,
		"code_hash": codeHash,
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": s.now().UTC()}},
		},
	}

	err := s.coll.FindOneAndDelete(ctx, filter).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume otp: %w: %w", domain.ErrUnavailable, err)
	}
	return true, nil
}

// EnsureIndexes creates the TTL index that reaps expired challenges.
func (s *OTPStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
	})
	return err
}
