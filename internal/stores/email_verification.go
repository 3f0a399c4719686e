package stores

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrVerifyNotFound    = errors.New("verification token not found")
	ErrVerifyExpired     = errors.New("verification token expired")
	ErrVerifyUsed        = errors.New("verification token already used")
	ErrVerifyUnavailable = errors.New("verification store unavailable")
)

// EmailVerificationStore holds single-use email-verification tokens.
type EmailVerificationStore struct {
	core singleUseStore
}

func NewEmailVerificationStore(redisClient redis.UniversalClient, prefix string) *EmailVerificationStore {
	if prefix == "" {
		prefix = "aev"
	}
	return &EmailVerificationStore{
		core: singleUseStore{
			redis:          redisClient,
			prefix:         prefix,
			errNotFound:    ErrVerifyNotFound,
			errExpired:     ErrVerifyExpired,
			errUsed:        ErrVerifyUsed,
			errUnavailable: ErrVerifyUnavailable,
		},
	}
}

func (s *EmailVerificationStore) Save(ctx context.Context, tokenHash [32]byte, rec *TokenRecord) error {
	return s.core.save(ctx, tokenHash, rec)
}

func (s *EmailVerificationStore) Get(ctx context.Context, tokenHash [32]byte) (*TokenRecord, error) {
	return s.core.get(ctx, tokenHash)
}

// Consume sets usedAt exactly once; replays get ErrVerifyUsed.
func (s *EmailVerificationStore) Consume(ctx context.Context, tokenHash [32]byte) (*TokenRecord, error) {
	return s.core.consume(ctx, tokenHash, time.Now())
}

// Sweep deletes expired or used verification tokens and returns the count.
func (s *EmailVerificationStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.core.sweep(ctx, now)
}
