package authcore

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation is returned when request input fails basic validation.
	ErrValidation = errors.New("invalid request")
	// ErrInvalidCredentials is returned for any failed login. It never
	// distinguishes unknown accounts from wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned when the failed-login window is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrDuplicateEmail is returned when registration hits an existing email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUserNotFound is returned when no account matches the identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrRefreshInvalid covers every unusable refresh token except plain
	// expiry: unknown, revoked, or reused. Collapsing them keeps the
	// response from leaking which case the caller hit.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned when the presented token aged out.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrTokenInvalid is returned for unparseable or forged access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed but expired access tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrCSRFMismatch is returned when the double-submit values disagree.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrPasswordPolicy is returned when a new password fails policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordResetInvalid covers unknown, expired, and used reset
	// tokens. Like ErrRefreshInvalid it is deliberately generic.
	ErrPasswordResetInvalid = errors.New("password reset token invalid")
	// ErrVerificationInvalid covers unknown, expired, and used
	// verification tokens.
	ErrVerificationInvalid = errors.New("verification token invalid")
	// ErrAlreadyVerified is returned when a resend targets a verified account.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrResendRateLimited is returned when the resend window is spent.
	ErrResendRateLimited = errors.New("verification resend rate limited")
	// ErrBackendUnavailable wraps Redis and provider transport failures.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when a dependency was never wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// HTTPStatus maps an engine error to the response status an HTTP surface
// should send. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrAlreadyVerified):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrRefreshExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, ErrVerificationInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrCSRFMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrResendRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
