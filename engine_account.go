package authcore

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/veldtlabs/authcore/internal/audit"
	"github.com/veldtlabs/authcore/internal/limiters"
	"github.com/veldtlabs/authcore/token"
)

// Register creates an account, opens its first session, and sends a
// verification token. The password is hashed with argon2id; the verification
// token is stored hashed and delivered raw through the mailer. The returned
// credentials carry the access, refresh, and CSRF tokens for the new session,
// so a fresh registration is signed in without a separate Login call.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*UserRecord, *Credentials, error) {
	if e == nil || e.users == nil || e.hasher == nil {
		return nil, nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if err := validateRegistration(email, req, e.config.Password.MinLength); err != nil {
		e.emitAudit(ctx, audit.EventRegisterFailure, false, "", email, err, nil)
		return nil, nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &UserRecord{
		UserID:       token.NewID(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		BirthYear:    req.BirthYear,
		Gender:       req.Gender,
		CreatedAt:    time.Now().Unix(),
	}

	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, audit.EventRegisterDuplicate, false, "", email, ErrDuplicateEmail, nil)
			return nil, nil, ErrDuplicateEmail
		}
		e.emitAudit(ctx, audit.EventRegisterFailure, false, "", email, err, nil)
		return nil, nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, audit.EventRegisterSuccess, true, user.UserID, email, nil, nil)

	creds, err := e.IssueSession(ctx, user.UserID)
	if err != nil {
		return nil, nil, err
	}

	// Verification delivery is best-effort; the account exists either way
	// and ResendVerification covers delivery failures.
	if err := e.sendVerification(ctx, user); err != nil {
		log.Print("authcore: verification send failed after registration")
	}

	return user, creds, nil
}

// Login verifies credentials and opens a new session. Unknown accounts and
// wrong passwords are indistinguishable from the outside: both cost a
// lockout attempt and return ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, pass string) (*Credentials, error) {
	if e == nil || e.users == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if e.loginLimiter != nil {
		if err := e.loginLimiter.Check(ctx, email, ip); err != nil {
			if errors.Is(err, limiters.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, audit.EventLoginRateLimited, false, "", email, ErrLoginRateLimited, nil)
				return nil, ErrLoginRateLimited
			}
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
	}

	if email == "" || pass == "" {
		return nil, e.failLogin(ctx, "", email, ip, "empty_input")
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.failLogin(ctx, "", email, ip, "user_not_found")
		}
		return nil, err
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, user.UserID, email, ip, "password_mismatch")
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := e.hasher.Hash(pass); err == nil {
				// Best-effort; a failed rehash must not block the login.
				if err := e.users.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
					log.Print("authcore: password hash upgrade failed")
				}
			}
		}
	}
	pass = ""

	creds, err := e.IssueSession(ctx, user.UserID)
	if err != nil {
		return nil, err
	}

	if e.loginLimiter != nil {
		if err := e.loginLimiter.RecordSuccess(ctx, email); err != nil {
			log.Print("authcore: login limiter reset failed")
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, audit.EventLoginSuccess, true, user.UserID, email, nil, nil)

	return creds, nil
}

func (e *Engine) failLogin(ctx context.Context, userID, email, ip, reason string) error {
	if e.loginLimiter != nil {
		if err := e.loginLimiter.RecordFailure(ctx, email, ip); err != nil {
			if errors.Is(err, limiters.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, audit.EventLoginRateLimited, false, userID, email, ErrLoginRateLimited, nil)
				return ErrLoginRateLimited
			}
			return errors.Join(ErrBackendUnavailable, err)
		}
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, audit.EventLoginFailure, false, userID, email, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})

	return ErrInvalidCredentials
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every session the user holds.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.users == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if userID == "" || oldPassword == "" {
		return ErrValidation
	}
	if len(newPassword) < e.config.Password.MinLength {
		e.emitAudit(ctx, audit.EventPasswordChangeFailure, false, userID, "", ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, audit.EventPasswordChangeFailure, false, userID, "", ErrUserNotFound, nil)
			return ErrUserNotFound
		}
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, audit.EventPasswordChangeFailure, false, userID, user.Email, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if newPassword == oldPassword {
		e.emitAudit(ctx, audit.EventPasswordChangeFailure, false, userID, user.Email, ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		e.emitAudit(ctx, audit.EventPasswordChangeFailure, false, userID, user.Email, err, nil)
		return err
	}

	if _, err := e.LogoutAll(ctx, userID); err != nil {
		log.Print("authcore: session revocation failed after password change")
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, audit.EventPasswordChangeSuccess, true, userID, user.Email, nil, nil)

	return nil
}

// DeleteAccount revokes every session and removes the account row.
func (e *Engine) DeleteAccount(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrValidation
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if _, err := e.LogoutAll(ctx, userID); err != nil {
		return err
	}
	if err := e.users.DeleteUser(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, audit.EventAccountDeleted, true, userID, user.Email, nil, nil)

	return nil
}

func validateRegistration(email string, req RegisterRequest, minPasswordLen int) error {
	if !validEmail(email) {
		return ErrValidation
	}
	if len(req.Password) < minPasswordLen {
		return ErrPasswordPolicy
	}
	if req.BirthYear != 0 {
		if req.BirthYear < 1900 || req.BirthYear > time.Now().Year() {
			return ErrValidation
		}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail is a cheap structural check; real deliverability is proven by
// the verification flow, not the parser.
func validEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if strings.IndexByte(email[at+1:], '@') != -1 {
		return false
	}
	if !strings.Contains(email[at+1:], ".") {
		return false
	}
	return true
}
