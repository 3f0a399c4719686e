package stores

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetNotFound    = errors.New("reset token not found")
	ErrResetExpired     = errors.New("reset token expired")
	ErrResetUsed        = errors.New("reset token already used")
	ErrResetUnavailable = errors.New("reset store unavailable")
)

// PasswordResetStore holds single-use password-reset tokens.
type PasswordResetStore struct {
	core singleUseStore
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &PasswordResetStore{
		core: singleUseStore{
			redis:          redisClient,
			prefix:         prefix,
			errNotFound:    ErrResetNotFound,
			errExpired:     ErrResetExpired,
			errUsed:        ErrResetUsed,
			errUnavailable: ErrResetUnavailable,
		},
	}
}

func (s *PasswordResetStore) Save(ctx context.Context, tokenHash [32]byte, rec *TokenRecord) error {
	return s.core.save(ctx, tokenHash, rec)
}

func (s *PasswordResetStore) Get(ctx context.Context, tokenHash [32]byte) (*TokenRecord, error) {
	return s.core.get(ctx, tokenHash)
}

// Consume sets usedAt exactly once. A concurrent or repeated attempt gets
// ErrResetUsed even while the token is unexpired.
func (s *PasswordResetStore) Consume(ctx context.Context, tokenHash [32]byte) (*TokenRecord, error) {
	return s.core.consume(ctx, tokenHash, time.Now())
}

// Sweep deletes expired or used reset tokens and returns the count.
func (s *PasswordResetStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.core.sweep(ctx, now)
}
