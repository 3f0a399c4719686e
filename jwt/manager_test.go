package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		AccessTTL:     ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestIssueParseRoundTrip(t *testing.T) {
	m := newTestManager(t, time.Hour)

	tok, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.UID != "user-1" {
		t.Fatalf("UID = %q, want user-1", claims.UID)
	}
	if claims.TokenType != accessTokenType {
		t.Fatalf("TokenType = %q, want %q", claims.TokenType, accessTokenType)
	}
}

func TestParseExpired(t *testing.T) {
	m := newTestManager(t, time.Millisecond)

	tok, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := m.Parse(tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Parse error = %v, want ErrTokenExpired", err)
	}
}

func TestParseRejectsTamper(t *testing.T) {
	m := newTestManager(t, time.Hour)

	tok, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := m.Parse(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Parse error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t, time.Hour)
	other, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-another-secret-32"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tok, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Parse(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Parse error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseRejectsWrongTokenType(t *testing.T) {
	m := newTestManager(t, time.Hour)

	now := time.Now()
	claims := AccessClaims{
		UID:       "user-1",
		TokenType: "refresh",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := m.Parse(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Parse error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseRejectsFutureIssuedAt(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		MaxFutureIAT:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	now := time.Now()
	claims := AccessClaims{
		UID:       "user-1",
		TokenType: accessTokenType,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(now.Add(2 * time.Hour)),
			IssuedAt:  jwtlib.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := m.Parse(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Parse error = %v, want ErrTokenInvalid", err)
	}
}

func TestNewManagerFutureIATBound(t *testing.T) {
	// Zero falls back to the default instead of disabling the check or
	// inheriting some unrelated duration.
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if m.config.MaxFutureIAT != 10*time.Minute {
		t.Fatalf("MaxFutureIAT = %v, want 10m default", m.config.MaxFutureIAT)
	}

	m, err = NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		MaxFutureIAT:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if m.config.MaxFutureIAT != time.Minute {
		t.Fatalf("MaxFutureIAT = %v, want 1m", m.config.MaxFutureIAT)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tok, err := m.Issue("user-2")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.UID != "user-2" {
		t.Fatalf("UID = %q, want user-2", claims.UID)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: testSecret},
		{AccessTTL: time.Hour, SigningMethod: MethodHS256},
		{AccessTTL: time.Hour, SigningMethod: "rs256", PrivateKey: testSecret},
		{AccessTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, Leeway: 5 * time.Minute},
		{AccessTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, MaxFutureIAT: 25 * time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: NewManager accepted invalid config", i)
		}
	}
}
