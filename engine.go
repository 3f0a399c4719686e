package authcore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/veldtlabs/authcore/internal/audit"
	"github.com/veldtlabs/authcore/internal/limiters"
	"github.com/veldtlabs/authcore/internal/stores"
	"github.com/veldtlabs/authcore/jwt"
	"github.com/veldtlabs/authcore/password"
	"github.com/veldtlabs/authcore/session"
)

// Engine is the authentication facade. Build one through the Builder and
// share it; all methods are safe for concurrent use.
type Engine struct {
	config        Config
	redis         redis.UniversalClient
	users         UserStore
	mailer        Mailer
	sessions      *session.Store
	resetStore    *stores.PasswordResetStore
	verifyStore   *stores.EmailVerificationStore
	loginLimiter  *limiters.LoginLimiter
	resendLimiter *limiters.ResendLimiter
	audit         *audit.Dispatcher
	metrics       *Metrics
	hasher        *password.Hasher
	jwtManager    *jwt.Manager
}

// Close drains the audit dispatcher. Call it on shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// ValidateAccess verifies an access token signature and expiry offline and
// returns the subject user ID. No Redis round trip happens here: revocation
// takes effect at the next refresh, not mid-window.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}

	return claims.UID, nil
}
