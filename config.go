package authcore

import (
	"errors"
	"time"
)

// Config defines every tunable of the engine. Zero values are filled from
// defaultConfig by the builder; Validate runs before anything is wired.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Lockout           LockoutConfig
	Janitor           JanitorConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// JWTConfig controls access-token signing. MaxFutureIAT bounds how far in
// the future an issued-at claim may sit before the token is rejected; zero
// keeps the manager's default.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// SessionConfig controls the refresh-token store.
type SessionConfig struct {
	RedisPrefix string
	RefreshTTL  time.Duration
}

// PasswordConfig mirrors the argon2id parameters plus login-time behavior.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// PasswordResetConfig controls single-use reset tokens.
type PasswordResetConfig struct {
	TokenTTL    time.Duration
	RedisPrefix string
}

// EmailVerificationConfig controls single-use verification tokens and the
// resend throttle.
type EmailVerificationConfig struct {
	TokenTTL     time.Duration
	RedisPrefix  string
	ResendWindow time.Duration
	ResendMax    int
}

// LockoutConfig controls the failed-login limiter.
type LockoutConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// JanitorConfig controls background token deletion. RevokedRetention is how
// long revoked refresh rows stay visible before the sweep removes them.
type JanitorConfig struct {
	Interval         time.Duration
	RevokedRetention time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration the builder starts from. Hosts
// that also run a Janitor should derive both configs from one copy so key
// prefixes and retention agree.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "ar",
			RefreshTTL:  720 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:    time.Hour,
			RedisPrefix: "apr",
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL:     24 * time.Hour,
			RedisPrefix:  "aev",
			ResendWindow: 15 * time.Minute,
			ResendMax:    3,
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			MaxAttempts: 10,
			Window:      15 * time.Minute,
		},
		Janitor: JanitorConfig{
			Interval:         time.Hour,
			RevokedRetention: 7 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires both private and public keys")
		}
	default:
		return errors.New("unsupported signing method: " + c.JWT.SigningMethod)
	}

	if c.JWT.AccessTTL <= 0 {
		return errors.New("access TTL must be positive")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("refresh TTL must exceed access TTL")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("password reset TTL must be positive")
	}
	if c.EmailVerification.TokenTTL <= 0 {
		return errors.New("email verification TTL must be positive")
	}
	if c.Lockout.Enabled && (c.Lockout.MaxAttempts <= 0 || c.Lockout.Window <= 0) {
		return errors.New("lockout requires positive attempts and window")
	}
	if c.Janitor.Interval <= 0 {
		return errors.New("janitor interval must be positive")
	}
	if c.Janitor.RevokedRetention < 0 {
		return errors.New("revoked retention cannot be negative")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password minimum length cannot be below 8")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
