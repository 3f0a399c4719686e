package authcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/veldtlabs/authcore/internal/audit"
	"github.com/veldtlabs/authcore/internal/stores"
	"github.com/veldtlabs/authcore/token"
)

// RequestPasswordReset issues a single-use reset token and mails it. The
// return value never reveals whether the email maps to an account.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.users == nil || e.resetStore == nil {
		return ErrEngineNotReady
	}
	if e.mailer == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrValidation
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Same response as the known-account path.
			e.emitAudit(ctx, audit.EventPasswordResetRequest, true, "", email, nil, func() map[string]string {
				return map[string]string{
					"outcome": "unknown_email",
				}
			})
			return nil
		}
		return err
	}

	raw, err := token.GenerateSecureDefault()
	if err != nil {
		return err
	}

	now := time.Now()
	rec := &stores.TokenRecord{
		UserID:    user.UserID,
		ExpiresAt: now.Add(e.config.PasswordReset.TokenTTL).Unix(),
		CreatedAt: now.Unix(),
	}
	if err := e.resetStore.Save(ctx, token.HashBytes(raw), rec); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	if err := e.mailer.SendPasswordReset(ctx, email, raw); err != nil {
		// A delivery error must not leak that the account exists: unknown
		// emails return nil above, so this path returns nil too. The token
		// is already stored and a retry can mail a fresh one.
		log.Print("authcore: password reset mail delivery failed")
		e.emitAudit(ctx, audit.EventPasswordResetRequest, false, user.UserID, email, ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"outcome": "mail_failed",
			}
		})
		return nil
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, audit.EventPasswordResetRequest, true, user.UserID, email, nil, nil)

	return nil
}

// ConfirmPasswordReset consumes the token, stores the new password hash,
// and revokes every session the user holds. A token can confirm exactly one
// reset; replays are audited and refused with the same generic error as
// unknown tokens.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if e == nil || e.users == nil || e.resetStore == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if rawToken == "" {
		return ErrPasswordResetInvalid
	}
	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	rec, err := e.resetStore.Consume(ctx, token.HashBytes(rawToken))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrResetUsed):
			e.emitAudit(ctx, audit.EventPasswordResetReplay, false, "", "", ErrPasswordResetInvalid, nil)
			e.metricInc(MetricPasswordResetReplay)
			return ErrPasswordResetInvalid
		case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetExpired):
			e.emitAudit(ctx, audit.EventPasswordResetConfirm, false, "", "", ErrPasswordResetInvalid, nil)
			return ErrPasswordResetInvalid
		default:
			return errors.Join(ErrBackendUnavailable, err)
		}
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, rec.UserID, newHash); err != nil {
		e.emitAudit(ctx, audit.EventPasswordResetConfirm, false, rec.UserID, "", err, nil)
		return err
	}

	// A reset usually means the old credential leaked: nothing issued
	// before this point stays valid.
	if _, err := e.LogoutAll(ctx, rec.UserID); err != nil {
		log.Print("authcore: session revocation failed after password reset")
		return err
	}

	e.metricInc(MetricPasswordResetConfirm)
	e.emitAudit(ctx, audit.EventPasswordResetConfirm, true, rec.UserID, "", nil, nil)

	return nil
}
