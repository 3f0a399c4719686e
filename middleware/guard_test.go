package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	authcore "github.com/veldtlabs/authcore"
)

type stubUserStore struct{}

func (stubUserStore) GetUserByEmail(context.Context, string) (*authcore.UserRecord, error) {
	return nil, authcore.ErrUserNotFound
}

func (stubUserStore) GetUserByID(context.Context, string) (*authcore.UserRecord, error) {
	return nil, authcore.ErrUserNotFound
}

func (stubUserStore) CreateUser(context.Context, *authcore.UserRecord) error { return nil }

func (stubUserStore) UpdatePasswordHash(context.Context, string, string) error { return nil }

func (stubUserStore) MarkEmailVerified(context.Context, string) error { return nil }

func (stubUserStore) DeleteUser(context.Context, string) error { return nil }

func newGuardEngine(t *testing.T) *authcore.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(stubUserStore{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}

func TestGuardInjectsUserID(t *testing.T) {
	engine := newGuardEngine(t)

	creds, err := engine.IssueSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	var gotUserID string
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUserID != "u1" {
		t.Fatalf("user ID = %q, want u1", gotUserID)
	}
}

func TestGuardRejectsBadTokens(t *testing.T) {
	engine := newGuardEngine(t)

	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler ran for an unauthorized request")
	}))

	cases := []struct {
		name string
		auth string
	}{
		{"no header", ""},
		{"not bearer", "Basic dXNlcjpwdw=="},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.auth != "" {
				r.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestSessionCookies(t *testing.T) {
	creds := &authcore.Credentials{
		UserID:       "u1",
		RefreshToken: "refresh-value",
		CSRFToken:    "csrf-value",
	}
	cfg := CookieConfig{Secure: true, RefreshTTL: 720 * time.Hour}

	rec := httptest.NewRecorder()
	SetSessionCookies(rec, creds, cfg)

	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(cookies))
	}

	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}

	refresh := byName[refreshCookieName]
	if refresh == nil || refresh.Value != "refresh-value" {
		t.Fatalf("refresh cookie = %+v", refresh)
	}
	if !refresh.HttpOnly || refresh.Path != refreshCookiePath || !refresh.Secure {
		t.Fatalf("refresh cookie attributes = %+v", refresh)
	}

	csrf := byName[csrfCookieName]
	if csrf == nil || csrf.Value != "csrf-value" {
		t.Fatalf("csrf cookie = %+v", csrf)
	}
	if csrf.HttpOnly {
		t.Fatal("csrf cookie must stay script-readable")
	}

	// The refresh cookie rides back on the next request.
	r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	r.AddCookie(refresh)
	if got := RefreshTokenFromRequest(r); got != "refresh-value" {
		t.Fatalf("RefreshTokenFromRequest = %q", got)
	}
	if got := RefreshTokenFromRequest(httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)); got != "" {
		t.Fatalf("RefreshTokenFromRequest without cookie = %q", got)
	}

	rec = httptest.NewRecorder()
	ClearSessionCookies(rec, cfg)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge != -1 {
			t.Fatalf("cookie %s MaxAge = %d, want -1", c.Name, c.MaxAge)
		}
	}
}
