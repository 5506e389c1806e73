package authkit

import (
	"errors"
	"time"
)

// Config groups all engine tuning parameters. Instances are treated as
// immutable after [Builder.Build]; the builder stores its own copy.
type Config struct {
	JWT       JWTConfig
	Challenge ChallengeConfig
	Login     LoginConfig
	Password  PasswordConfig
	Session   SessionConfig
	Security  SecurityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes. Access tokens are
// short-lived (minutes); refresh tokens carry a JTI and live for days;
// tickets are the short-lived artifacts of a verified challenge.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TicketTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls OTP issuance and verification. The request and
// verify buckets are independent fixed windows: one caps code sends, the
// other caps guesses.
type ChallengeConfig struct {
	CodeDigits     int
	ValidityWindow time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	BlockWindow    time.Duration

	MaxRequestsPerWindow int
	RequestWindow        time.Duration
	MaxVerifiesPerWindow int
	VerifyWindow         time.Duration

	// KeySalt salts the digest that keys challenge records, keeping raw
	// identifiers out of the Redis keyspace.
	KeySalt     string
	RedisPrefix string
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls the password-login throttle, a fixed window counter
// keyed by identifier and, when ThrottlePerIP is set, identifier:ip.
type LoginConfig struct {
	MaxAttempts    int
	ThrottleWindow time.Duration
	ThrottlePerIP  bool
	RedisPrefix    string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters and password policy.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength      int
	UpgradeOnLogin bool
	// RevokeSessionsOnChange revokes every other session of the user after a
	// successful password change.
	RevokeSessionsOnChange bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session registry. TTL defaults to the refresh
// token lifetime so a session outlives exactly its newest refresh token.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
	MaxPageSize int
}

// SecurityConfig holds cross-cutting hardening switches.
type SecurityConfig struct {
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration New starts from. Callers tuning a
// few fields should mutate this rather than building a Config from zero.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    14 * 24 * time.Hour,
			TicketTTL:     10 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authkit",
			Audience:      "authkit",
		},
		Challenge: ChallengeConfig{
			CodeDigits:           6,
			ValidityWindow:       5 * time.Minute,
			ResendCooldown:       time.Minute,
			MaxAttempts:          5,
			BlockWindow:          15 * time.Minute,
			MaxRequestsPerWindow: 5,
			RequestWindow:        time.Hour,
			MaxVerifiesPerWindow: 10,
			VerifyWindow:         time.Hour,
			RedisPrefix:          "otp",
		},
		Login: LoginConfig{
			MaxAttempts:    5,
			ThrottleWindow: 15 * time.Minute,
			ThrottlePerIP:  true,
			RedisPrefix:    "login:throttle",
		},
		Password: PasswordConfig{
			Memory:                 64 * 1024,
			Time:                   3,
			Parallelism:            2,
			SaltLength:             16,
			KeyLength:              32,
			MinLength:              10,
			RevokeSessionsOnChange: true,
		},
		Session: SessionConfig{
			RedisPrefix: "session",
			MaxPageSize: 100,
		},
		Security: SecurityConfig{
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    30,
			RefreshWindow:         time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks invariants the engine depends on. Build calls it; callers
// constructing Config by hand can call it early for better error locality.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.TicketTTL <= 0 {
		return errors.New("jwt ttls must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("access ttl must be shorter than refresh ttl")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("unsupported signing method")
	}
	if c.Challenge.CodeDigits < 4 || c.Challenge.CodeDigits > 10 {
		return errors.New("challenge code digits out of range")
	}
	if c.Challenge.ValidityWindow <= 0 || c.Challenge.ResendCooldown <= 0 {
		return errors.New("challenge windows must be positive")
	}
	if c.Challenge.ResendCooldown > c.Challenge.ValidityWindow {
		return errors.New("resend cooldown cannot exceed the validity window")
	}
	if c.Challenge.MaxAttempts <= 0 || c.Challenge.BlockWindow <= 0 {
		return errors.New("challenge attempt limits must be positive")
	}
	if c.Challenge.MaxRequestsPerWindow <= 0 || c.Challenge.RequestWindow <= 0 {
		return errors.New("challenge request bucket must be positive")
	}
	if c.Challenge.MaxVerifiesPerWindow <= 0 || c.Challenge.VerifyWindow <= 0 {
		return errors.New("challenge verify bucket must be positive")
	}
	if c.Login.MaxAttempts <= 0 || c.Login.ThrottleWindow <= 0 {
		return errors.New("login throttle must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password min length below 8")
	}
	if c.Session.TTL < 0 {
		return errors.New("session ttl cannot be negative")
	}
	if c.Security.EnableRefreshThrottle &&
		(c.Security.MaxRefreshAttempts <= 0 || c.Security.RefreshWindow <= 0) {
		return errors.New("refresh throttle must be positive when enabled")
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

// sessionTTL resolves the effective session lifetime: an explicit
// Session.TTL wins, otherwise the refresh token lifetime.
func (c Config) sessionTTL() time.Duration {
	if c.Session.TTL > 0 {
		return c.Session.TTL
	}
	return c.JWT.RefreshTTL
}
