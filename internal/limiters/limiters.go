// Package limiters provides the fixed-window Redis counters guarding the
// brute-forceable entry points: login attempts and verification resends.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when a window's attempt budget is spent.
	ErrRateLimited = errors.New("rate limited")

	// ErrLimiterUnavailable wraps backend transport failures.
	ErrLimiterUnavailable = errors.New("limiter redis unavailable")
)

// fixedWindow counts hits with INCR and stamps the window TTL on the first
// hit. The count outliving the limit by one INCR is fine: the window expires
// either way and the caller has already been refused.
type fixedWindow struct {
	redis       redis.UniversalClient
	maxAttempts int
	window      time.Duration
}

func (w *fixedWindow) hit(ctx context.Context, key string) error {
	count, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	if count == 1 {
		if err := w.redis.Expire(ctx, key, w.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}

	if count > int64(w.maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (w *fixedWindow) clear(ctx context.Context, key string) error {
	if err := w.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}

// LoginLimiter throttles failed password attempts per account and per source
// IP. Successful logins clear the account counter.
type LoginLimiter struct {
	window fixedWindow
}

func NewLoginLimiter(redisClient redis.UniversalClient, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		window: fixedWindow{
			redis:       redisClient,
			maxAttempts: maxAttempts,
			window:      window,
		},
	}
}

// Check refuses the attempt when either the account or the IP window is
// exhausted, without incrementing anything.
func (l *LoginLimiter) Check(ctx context.Context, email, ip string) error {
	for _, key := range l.keys(email, ip) {
		count, err := l.window.redis.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
		if count >= int64(l.window.maxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// RecordFailure counts a failed attempt against both windows.
func (l *LoginLimiter) RecordFailure(ctx context.Context, email, ip string) error {
	for _, key := range l.keys(email, ip) {
		if err := l.window.hit(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RecordSuccess clears the account window after a successful login. The IP
// window is left to expire on its own.
func (l *LoginLimiter) RecordSuccess(ctx context.Context, email string) error {
	return l.window.clear(ctx, loginEmailKey(email))
}

func (l *LoginLimiter) keys(email, ip string) []string {
	keys := []string{loginEmailKey(email)}
	if ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	return keys
}

func loginEmailKey(email string) string {
	return "all:" + email
}

func loginIPKey(ip string) string {
	return "allip:" + ip
}

// ResendLimiter throttles verification-email resends per user.
type ResendLimiter struct {
	window fixedWindow
}

func NewResendLimiter(redisClient redis.UniversalClient, maxAttempts int, window time.Duration) *ResendLimiter {
	return &ResendLimiter{
		window: fixedWindow{
			redis:       redisClient,
			maxAttempts: maxAttempts,
			window:      window,
		},
	}
}

// Enforce counts the resend and refuses it once the window budget is spent.
func (l *ResendLimiter) Enforce(ctx context.Context, userID string) error {
	return l.window.hit(ctx, "arv:"+userID)
}
