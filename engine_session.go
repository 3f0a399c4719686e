package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/veldtlabs/authcore/internal/audit"
	"github.com/veldtlabs/authcore/session"
	"github.com/veldtlabs/authcore/token"
)

// IssueSession starts a new refresh-token family for the user and returns
// the full credential bundle: access token, opaque refresh token, and CSRF
// token. Only the refresh token's hash is stored.
func (e *Engine) IssueSession(ctx context.Context, userID string) (*Credentials, error) {
	if e == nil || e.sessions == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrValidation
	}

	refreshToken, err := token.GenerateSecureDefault()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &session.Record{
		UserID:     userID,
		FamilyID:   token.NewFamilyID(),
		ExpiresAt:  now.Add(e.config.Session.RefreshTTL).Unix(),
		CreatedAt:  now.Unix(),
		DeviceInfo: deviceInfoFromContext(ctx),
		IP:         clientIPFromContext(ctx),
	}

	if err := e.sessions.Save(ctx, token.HashBytes(refreshToken), rec); err != nil {
		return nil, e.mapSessionErr(err)
	}

	creds, err := e.buildCredentials(userID, refreshToken)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, audit.EventSessionIssued, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"family_id": rec.FamilyID,
		}
	})

	return creds, nil
}

// Refresh rotates the presented refresh token. Exactly one concurrent
// attempt per token succeeds; the rest observe a revoked row, which is
// indistinguishable from theft and revokes the whole family. Expired tokens
// get ErrRefreshExpired without any revocation side effect.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	if e == nil || e.sessions == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, audit.EventRefreshInvalid, false, "", "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	presented := token.HashBytes(refreshToken)

	// The successor inherits the family, so the current row is read first.
	// The rotation itself still happens server-side in one script: if the
	// row changes between this read and the script, the script's own state
	// check decides the outcome.
	current, err := e.sessions.Get(ctx, presented)
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) || errors.Is(err, session.ErrRecordCorrupt) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, audit.EventRefreshInvalid, false, "", "", ErrRefreshInvalid, nil)
			return nil, ErrRefreshInvalid
		}
		return nil, e.mapSessionErr(err)
	}

	nextToken, err := token.GenerateSecureDefault()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	successor := &session.Record{
		UserID:     current.UserID,
		FamilyID:   current.FamilyID,
		ExpiresAt:  now.Add(e.config.Session.RefreshTTL).Unix(),
		CreatedAt:  now.Unix(),
		DeviceInfo: deviceInfoFromContext(ctx),
		IP:         clientIPFromContext(ctx),
	}
	if successor.DeviceInfo == "" {
		successor.DeviceInfo = current.DeviceInfo
	}

	status, pre, err := e.sessions.Rotate(ctx, presented, token.HashBytes(nextToken), successor)
	if err != nil {
		return nil, e.mapSessionErr(err)
	}

	switch status {
	case session.RotateOK:
		creds, err := e.buildCredentials(pre.UserID, nextToken)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, audit.EventRefreshSuccess, true, pre.UserID, "", nil, func() map[string]string {
			return map[string]string{
				"family_id": pre.FamilyID,
			}
		})
		return creds, nil

	case session.RotateExpired:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, audit.EventRefreshExpired, false, pre.UserID, "", ErrRefreshExpired, func() map[string]string {
			return map[string]string{
				"family_id": pre.FamilyID,
			}
		})
		return nil, ErrRefreshExpired

	case session.RotateReuse:
		// A revoked token came back. Whether replayed by an attacker or
		// raced by its rightful owner, the family is burned.
		revoked, revokeErr := e.sessions.RevokeFamily(ctx, pre.FamilyID)
		e.metricInc(MetricTheftDetected)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, audit.EventRefreshTheftDetected, false, pre.UserID, "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"family_id":       pre.FamilyID,
				"revoked_members": strconv.Itoa(revoked),
			}
		})
		if revokeErr != nil {
			return nil, e.mapSessionErr(revokeErr)
		}
		return nil, ErrRefreshInvalid

	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, audit.EventRefreshInvalid, false, "", "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}
}

// Logout revokes the presented refresh token. Unknown or already revoked
// tokens are treated as success so retries stay harmless.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil
	}

	rec, _, err := e.sessions.Revoke(ctx, token.HashBytes(refreshToken))
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return nil
		}
		return e.mapSessionErr(err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, audit.EventLogoutSession, true, rec.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"family_id": rec.FamilyID,
		}
	})

	return nil
}

// LogoutAll revokes every refresh-token family the user owns and returns
// how many rows transitioned.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrValidation
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return revoked, e.mapSessionErr(err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, audit.EventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"revoked_members": strconv.Itoa(revoked),
		}
	})

	return revoked, nil
}

// RevokeFamily revokes a single token family, for operator tooling and
// incident response. Idempotent: already revoked rows are skipped.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if familyID == "" {
		return 0, ErrValidation
	}

	revoked, err := e.sessions.RevokeFamily(ctx, familyID)
	if err != nil {
		return revoked, e.mapSessionErr(err)
	}

	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, audit.EventFamilyRevoked, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"family_id":       familyID,
			"revoked_members": strconv.Itoa(revoked),
		}
	})

	return revoked, nil
}

func (e *Engine) buildCredentials(userID, refreshToken string) (*Credentials, error) {
	access, err := e.jwtManager.Issue(userID)
	if err != nil {
		return nil, err
	}

	csrf, err := token.GenerateSecureDefault()
	if err != nil {
		return nil, err
	}

	return &Credentials{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refreshToken,
		CSRFToken:    csrf,
	}, nil
}

func (e *Engine) mapSessionErr(err error) error {
	if errors.Is(err, session.ErrRedisUnavailable) {
		return errors.Join(ErrBackendUnavailable, err)
	}
	return err
}
