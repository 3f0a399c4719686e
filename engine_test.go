package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/veldtlabs/authcore/internal/audit"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 16
	cfg.Lockout.MaxAttempts = 3
	return cfg
}

type mockUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*UserRecord
	byID    map[string]*UserRecord
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		byEmail: make(map[string]*UserRecord),
		byID:    make(map[string]*UserRecord),
	}
}

func (s *mockUserStore) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *mockUserStore) GetUserByID(_ context.Context, userID string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *mockUserStore) CreateUser(_ context.Context, user *UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	copied := *user
	s.byEmail[user.Email] = &copied
	s.byID[user.UserID] = &copied
	return nil
}

func (s *mockUserStore) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *mockUserStore) MarkEmailVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.EmailVerified = true
	return nil
}

func (s *mockUserStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.byEmail, user.Email)
	delete(s.byID, userID)
	return nil
}

type sentMail struct {
	email string
	token string
}

type mockMailer struct {
	mu       sync.Mutex
	resets   []sentMail
	able     []sentMail
	resetErr error
}

func (m *mockMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resets = append(m.resets, sentMail{email: email, token: token})
	return nil
}

func (m *mockMailer) failResetsWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetErr = err
}

func (m *mockMailer) SendVerification(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.able = append(m.able, sentMail{email: email, token: token})
	return nil
}

func (m *mockMailer) lastReset() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		return sentMail{}, false
	}
	return m.resets[len(m.resets)-1], true
}

func (m *mockMailer) lastVerification() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.able) == 0 {
		return sentMail{}, false
	}
	return m.able[len(m.able)-1], true
}

func (m *mockMailer) verificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.able)
}

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) has(eventType audit.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

func (s *captureSink) all() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

type testEnv struct {
	engine *Engine
	users  *mockUserStore
	mailer *mockMailer
	sink   *captureSink
	redis  *redis.Client
	mini   *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, client := newTestRedis(t)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMockUserStore()
	mailer := &mockMailer{}
	sink := &captureSink{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(users).
		WithMailer(mailer).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		users:  users,
		mailer: mailer,
		sink:   sink,
		redis:  client,
		mini:   mr,
	}
}

func registerTestUser(t *testing.T, env *testEnv, email, pass string) *UserRecord {
	t.Helper()

	user, _, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:    email,
		Password: pass,
		Name:     "Test User",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return user
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user := registerTestUser(t, env, "alice@example.com", "long-enough-pw")
	if user.UserID == "" {
		t.Fatal("Register returned empty user ID")
	}
	if user.PasswordHash == "long-enough-pw" {
		t.Fatal("password stored in the clear")
	}
	if _, ok := env.mailer.lastVerification(); !ok {
		t.Fatal("registration sent no verification mail")
	}

	creds, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" || creds.CSRFToken == "" {
		t.Fatalf("incomplete credentials: %+v", creds)
	}
	if creds.UserID != user.UserID {
		t.Fatalf("UserID = %q, want %q", creds.UserID, user.UserID)
	}

	uid, err := env.engine.ValidateAccess(ctx, creds.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if uid != user.UserID {
		t.Fatalf("subject = %q, want %q", uid, user.UserID)
	}

	// Close drains the dispatcher so every emitted event is visible.
	env.engine.Close()
	if !env.sink.has(audit.EventLoginSuccess) {
		t.Fatal("no login_success audit event")
	}
}

func TestRegisterSignsTheUserIn(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user, creds, err := env.engine.Register(ctx, RegisterRequest{
		Email:    "alice@example.com",
		Password: "long-enough-pw",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if creds == nil || creds.AccessToken == "" || creds.RefreshToken == "" || creds.CSRFToken == "" {
		t.Fatalf("incomplete credentials: %+v", creds)
	}
	if creds.UserID != user.UserID {
		t.Fatalf("UserID = %q, want %q", creds.UserID, user.UserID)
	}

	uid, err := env.engine.ValidateAccess(ctx, creds.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if uid != user.UserID {
		t.Fatalf("subject = %q, want %q", uid, user.UserID)
	}

	// The refresh token is backed by a real stored session, not just a
	// value in the response.
	revoked, err := env.engine.LogoutAll(ctx, user.UserID)
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("revoked = %d, want 1", revoked)
	}
	if _, err := env.engine.Refresh(ctx, creds.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("refresh after LogoutAll = %v, want ErrRefreshInvalid", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "long-enough-pw"}, ErrValidation},
		{"short password", RegisterRequest{Email: "a@example.com", Password: "short"}, ErrPasswordPolicy},
		{"future birth year", RegisterRequest{Email: "a@example.com", Password: "long-enough-pw", BirthYear: time.Now().Year() + 1}, ErrValidation},
		{"ancient birth year", RegisterRequest{Email: "a@example.com", Password: "long-enough-pw", BirthYear: 1850}, ErrValidation},
	}

	for _, tc := range cases {
		if _, _, err := env.engine.Register(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: Register error = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	registerTestUser(t, env, "alice@example.com", "long-enough-pw")

	_, _, err := env.engine.Register(ctx, RegisterRequest{
		Email:    "Alice@Example.com", // normalization collapses case
		Password: "another-long-pw",
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("Register error = %v, want ErrDuplicateEmail", err)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	registerTestUser(t, env, "alice@example.com", "long-enough-pw")

	unknownErr := func() error {
		_, err := env.engine.Login(ctx, "nobody@example.com", "whatever-pw")
		return err
	}()
	wrongPassErr := func() error {
		_, err := env.engine.Login(ctx, "alice@example.com", "wrong-password")
		return err
	}()

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown account error = %v, want ErrInvalidCredentials", unknownErr)
	}
	if !errors.Is(wrongPassErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", wrongPassErr)
	}
	if unknownErr.Error() != wrongPassErr.Error() {
		t.Fatal("unknown-account and wrong-password errors differ")
	}
}

func TestLoginLockout(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	registerTestUser(t, env, "alice@example.com", "long-enough-pw")

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i, err)
		}
	}

	// Even the correct password is refused inside the window.
	if _, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("locked out error = %v, want ErrLoginRateLimited", err)
	}

	env.mini.FastForward(env.engine.config.Lockout.Window + time.Minute)

	if _, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw"); err != nil {
		t.Fatalf("Login after window = %v, want nil", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user := registerTestUser(t, env, "alice@example.com", "long-enough-pw")
	creds, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, user.UserID, "long-enough-pw", "brand-new-long-pw"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "brand-new-long-pw"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, creds.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("old session survived password change: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, user.UserID, "wrong-old", "yet-another-long-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("ChangePassword with wrong old = %v, want ErrInvalidCredentials", err)
	}
	if err := env.engine.ChangePassword(ctx, user.UserID, "brand-new-long-pw", "brand-new-long-pw"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("ChangePassword reusing password = %v, want ErrPasswordPolicy", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user := registerTestUser(t, env, "alice@example.com", "long-enough-pw")
	creds, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.DeleteAccount(ctx, user.UserID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, "alice@example.com", "long-enough-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deleted account still logs in: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, creds.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("deleted account session survived: %v", err)
	}
	if err := env.engine.DeleteAccount(ctx, user.UserID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("second delete = %v, want ErrUserNotFound", err)
	}
}
