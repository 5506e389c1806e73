package authkit

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pazari/authkit/internal/audit"
	"github.com/pazari/authkit/jwt"
	"github.com/pazari/authkit/password"
	"github.com/pazari/authkit/session"
)

// Builder assembles an [Engine]. Redis is always required; the credential
// directory and code sender are required only for the operations that use
// them, which Build does not second-guess.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory CredentialDirectory
	sender    CodeSender
	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the default configuration. Zero values are not filled
// in; callers modifying defaults should start from the default Config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory wires the external credential store. Optional for
// challenge-only deployments; required for Login and the password flows.
func (b *Builder) WithDirectory(dir CredentialDirectory) *Builder {
	b.directory = dir
	return b
}

// WithSender wires the delivery backend for one-time codes.
func (b *Builder) WithSender(sender CodeSender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink enables audit dispatch to the given sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the engine. The builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Challenge.KeySalt == "" {
		return nil, errors.New("challenge key salt required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		TicketTTL:     cfg.JWT.TicketTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		dispatcher = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	var metrics *Metrics
	if cfg.Metrics.Enabled {
		metrics = newMetrics()
	}

	engine := &Engine{
		config:     cfg,
		logger:     logger,
		tokens:     tokens,
		hasher:     hasher,
		directory:  b.directory,
		sender:     b.sender,
		audit:      dispatcher,
		metrics:    metrics,
		challenges: newChallengeStore(b.redis, cfg.Challenge),
		chLimiter:  newChallengeLimiter(b.redis, cfg.Challenge),
		tickets:    newTicketStore(b.redis),
		allowList:  newAllowListStore(b.redis),
		logins:     newLoginLimiter(b.redis, cfg.Login),
		refreshes:  newRefreshLimiter(b.redis, cfg.Security),
		sessions: session.NewRegistry(
			b.redis,
			cfg.Session.RedisPrefix,
			allowListPrefix,
			cfg.sessionTTL(),
		),
	}

	return engine, nil
}
