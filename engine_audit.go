package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/veldtlabs/authcore/internal/audit"
)

type auditErrCode string

const (
	auditErrInvalidCredentials auditErrCode = "invalid_credentials"
	auditErrRateLimited        auditErrCode = "rate_limited"
	auditErrRefreshInvalid     auditErrCode = "refresh_invalid"
	auditErrRefreshExpired     auditErrCode = "refresh_expired"
	auditErrInvalidToken       auditErrCode = "invalid_token"
	auditErrDuplicate          auditErrCode = "duplicate"
	auditErrUserNotFound       auditErrCode = "user_not_found"
	auditErrValidation         auditErrCode = "validation"
	auditErrPasswordPolicy     auditErrCode = "password_policy"
	auditErrAlreadyVerified    auditErrCode = "already_verified"
	auditErrUnavailable        auditErrCode = "backend_unavailable"
	auditErrInternal           auditErrCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType audit.EventType,
	success bool,
	userID string,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) auditErrCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrResendRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrRefreshExpired):
		return auditErrRefreshExpired
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, ErrVerificationInvalid),
		errors.Is(err, ErrCSRFMismatch):
		return auditErrInvalidToken
	case errors.Is(err, ErrDuplicateEmail):
		return auditErrDuplicate
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
