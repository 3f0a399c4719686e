package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/veldtlabs/authcore/internal/audit"
	"github.com/veldtlabs/authcore/internal/limiters"
	"github.com/veldtlabs/authcore/internal/stores"
	"github.com/veldtlabs/authcore/token"
)

func (e *Engine) sendVerification(ctx context.Context, user *UserRecord) error {
	if e.verifyStore == nil || e.mailer == nil {
		return ErrEngineNotReady
	}

	raw, err := token.GenerateSecureDefault()
	if err != nil {
		return err
	}

	now := time.Now()
	rec := &stores.TokenRecord{
		UserID:    user.UserID,
		ExpiresAt: now.Add(e.config.EmailVerification.TokenTTL).Unix(),
		CreatedAt: now.Unix(),
	}
	if err := e.verifyStore.Save(ctx, token.HashBytes(raw), rec); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	if err := e.mailer.SendVerification(ctx, user.Email, raw); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	e.emitAudit(ctx, audit.EventVerificationSent, true, user.UserID, user.Email, nil, nil)

	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
// Unknown, expired, and already-used tokens all get the same generic error.
func (e *Engine) VerifyEmail(ctx context.Context, rawToken string) error {
	if e == nil || e.users == nil || e.verifyStore == nil {
		return ErrEngineNotReady
	}
	if rawToken == "" {
		return ErrVerificationInvalid
	}

	rec, err := e.verifyStore.Consume(ctx, token.HashBytes(rawToken))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrVerifyNotFound),
			errors.Is(err, stores.ErrVerifyExpired),
			errors.Is(err, stores.ErrVerifyUsed):
			e.emitAudit(ctx, audit.EventEmailVerified, false, "", "", ErrVerificationInvalid, nil)
			return ErrVerificationInvalid
		default:
			return errors.Join(ErrBackendUnavailable, err)
		}
	}

	if err := e.users.MarkEmailVerified(ctx, rec.UserID); err != nil {
		e.emitAudit(ctx, audit.EventEmailVerified, false, rec.UserID, "", err, nil)
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, audit.EventEmailVerified, true, rec.UserID, "", nil, nil)

	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. Verified accounts get ErrAlreadyVerified; the per-user resend
// window bounds how much mail one account can generate.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrValidation
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Indistinguishable from a successful resend, but the attempt
			// still lands in the audit trail.
			e.emitAudit(ctx, audit.EventVerificationResendRequest, true, "", email, nil, func() map[string]string {
				return map[string]string{
					"outcome": "unknown_email",
				}
			})
			return nil
		}
		return err
	}

	if user.EmailVerified {
		e.emitAudit(ctx, audit.EventVerificationAlreadyVerified, false, user.UserID, email, ErrAlreadyVerified, nil)
		return ErrAlreadyVerified
	}

	if e.resendLimiter != nil {
		if err := e.resendLimiter.Enforce(ctx, user.UserID); err != nil {
			if errors.Is(err, limiters.ErrRateLimited) {
				e.metricInc(MetricVerificationRateLimited)
				e.emitAudit(ctx, audit.EventVerificationResendRateLimited, false, user.UserID, email, ErrResendRateLimited, nil)
				return ErrResendRateLimited
			}
			return errors.Join(ErrBackendUnavailable, err)
		}
	}

	if err := e.sendVerification(ctx, user); err != nil {
		return err
	}

	e.metricInc(MetricVerificationResent)

	return nil
}
