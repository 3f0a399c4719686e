package middleware

import (
	"net/http"
	"time"

	authcore "github.com/veldtlabs/authcore"
)

const (
	refreshCookieName = "refresh_token"
	csrfCookieName    = "csrf_token"

	// Refresh tokens are only ever sent to the refresh and logout routes.
	refreshCookiePath = "/auth"
)

// CookieConfig controls cookie attributes shared by both cookies.
type CookieConfig struct {
	Domain     string
	Secure     bool
	RefreshTTL time.Duration
}

// SetSessionCookies writes the refresh token as an HTTP-only cookie and the
// CSRF token as a script-readable one. The split is the point of the
// double-submit scheme: scripts can echo the CSRF value into a header but
// can never read the refresh token.
func SetSessionCookies(w http.ResponseWriter, creds *authcore.Credentials, cfg CookieConfig) {
	maxAge := int(cfg.RefreshTTL / time.Second)

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    creds.RefreshToken,
		Path:     refreshCookiePath,
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    creds.CSRFToken,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		Secure:   cfg.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookies expires both cookies, for logout responses.
func ClearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// RefreshTokenFromRequest reads the refresh cookie, returning "" when absent.
func RefreshTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
