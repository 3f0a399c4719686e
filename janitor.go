package authcore

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veldtlabs/authcore/internal/stores"
	"github.com/veldtlabs/authcore/session"
)

// SweepReport summarizes one janitor pass. Counts are all-or-nothing: a
// failed sweep reports zero deletions alongside its error.
type SweepReport struct {
	RefreshTokensDeleted       int
	PasswordResetTokensDeleted int
	EmailVerifyTokensDeleted   int
	TotalDeleted               int
	SweptAt                    time.Time
}

// Janitor deletes token rows that no longer serve any purpose: expired
// refresh tokens, refresh tokens revoked longer ago than the retention
// window, and expired or used reset and verification tokens. It runs apart
// from the engine and dials its own Redis connection per sweep, so a wedged
// sweep never starves the serving pool.
type Janitor struct {
	opts   *redis.Options
	config Config
}

// NewJanitor builds a janitor from the same Config the engine uses, so both
// agree on key prefixes and retention.
func NewJanitor(opts *redis.Options, cfg Config) *Janitor {
	return &Janitor{
		opts:   opts,
		config: cloneConfig(cfg),
	}
}

// Run sweeps on the configured interval until ctx is canceled. Sweep
// failures are logged and the next tick retries.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.config.Janitor.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				log.Print("authcore: janitor sweep failed")
			}
		}
	}
}

// Sweep runs one full pass over all three token keyspaces and reports what
// it deleted.
func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	client := redis.NewClient(j.opts)
	defer client.Close()

	now := time.Now()
	report := SweepReport{SweptAt: now}

	refreshDeleted, err := session.NewStore(client, j.config.Session.RedisPrefix).
		Sweep(ctx, now, j.config.Janitor.RevokedRetention)
	if err != nil {
		return SweepReport{SweptAt: now}, err
	}

	resetDeleted, err := stores.NewPasswordResetStore(client, j.config.PasswordReset.RedisPrefix).
		Sweep(ctx, now)
	if err != nil {
		return SweepReport{SweptAt: now}, err
	}

	verifyDeleted, err := stores.NewEmailVerificationStore(client, j.config.EmailVerification.RedisPrefix).
		Sweep(ctx, now)
	if err != nil {
		return SweepReport{SweptAt: now}, err
	}

	report.RefreshTokensDeleted = refreshDeleted
	report.PasswordResetTokensDeleted = resetDeleted
	report.EmailVerifyTokensDeleted = verifyDeleted
	report.TotalDeleted = refreshDeleted + resetDeleted + verifyDeleted

	return report, nil
}
