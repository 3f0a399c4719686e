package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/veldtlabs/authcore/internal/audit"
	"github.com/veldtlabs/authcore/internal/limiters"
	"github.com/veldtlabs/authcore/internal/stores"
	"github.com/veldtlabs/authcore/jwt"
	"github.com/veldtlabs/authcore/password"
	"github.com/veldtlabs/authcore/session"
)

// Builder assembles an Engine. Configure it once, call Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userStore UserStore
	mailer    Mailer
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, tokens, and limiters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account persistence implementation.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithMailer sets the out-of-band token delivery implementation.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets where audit events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every component, and returns the
// Engine. The builder cannot be reused afterwards.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userStore == nil {
		return nil, errors.New("user store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		redis:       b.redis,
		users:       b.userStore,
		mailer:      b.mailer,
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix),
		resetStore:  stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix),
		verifyStore: stores.NewEmailVerificationStore(b.redis, cfg.EmailVerification.RedisPrefix),
		metrics:     NewMetrics(cfg.Metrics),
	}

	if cfg.Lockout.Enabled {
		engine.loginLimiter = limiters.NewLoginLimiter(b.redis, cfg.Lockout.MaxAttempts, cfg.Lockout.Window)
	}
	if cfg.EmailVerification.ResendMax > 0 {
		engine.resendLimiter = limiters.NewResendLimiter(
			b.redis,
			cfg.EmailVerification.ResendMax,
			cfg.EmailVerification.ResendWindow,
		)
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = manager

	b.built = true

	return engine, nil
}
