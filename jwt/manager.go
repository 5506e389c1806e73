// Package jwt signs and verifies the three token families used by authkit:
// access tokens, refresh tokens, and challenge tickets. All three share the
// same key material and issuer; they are distinguished by a "typ" claim so a
// token of one family can never be parsed as another.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm for all token families.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	typAccess  = "access"
	typRefresh = "refresh"
	typTicket  = "ticket"
)

// Config carries key material and lifetimes. Instances are validated once in
// NewManager and treated as immutable afterwards.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TicketTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// Manager is safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the payload of an access token. Subject holds the user ID.
type AccessClaims struct {
	SID   string   `json:"sid"`
	Roles []string `json:"roles,omitempty"`
	Typ   string   `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. Subject holds the user
// ID; ID (jti) keys the server-side allow-list entry.
type RefreshClaims struct {
	SID string `json:"sid"`
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// TicketClaims is the payload of a challenge ticket. Subject holds the
// verified identifier; ID (jti) keys the one-shot server-side record.
type TicketClaims struct {
	Purpose string `json:"purpose"`
	Channel string `json:"channel"`
	Typ     string `json:"typ"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.TicketTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// CreateAccess signs a new access token for the given user and session.
func (j *Manager) CreateAccess(userID, sessionID string, roles []string) (string, error) {
	claims := AccessClaims{
		SID:              sessionID,
		Roles:            roles,
		Typ:              typAccess,
		RegisteredClaims: j.registered(userID, "", j.config.AccessTTL),
	}
	return j.sign(claims)
}

// CreateRefresh signs a new refresh token carrying the given JTI. The caller
// is responsible for registering the JTI in the allow-list.
func (j *Manager) CreateRefresh(userID, sessionID, jti string) (string, error) {
	claims := RefreshClaims{
		SID:              sessionID,
		Typ:              typRefresh,
		RegisteredClaims: j.registered(userID, jti, j.config.RefreshTTL),
	}
	return j.sign(claims)
}

// CreateTicket signs a challenge ticket proving that identifier completed a
// challenge for purpose over channel.
func (j *Manager) CreateTicket(identifier, purpose, channel, jti string) (string, error) {
	claims := TicketClaims{
		Purpose:          purpose,
		Channel:          channel,
		Typ:              typTicket,
		RegisteredClaims: j.registered(identifier, jti, j.config.TicketTTL),
	}
	return j.sign(claims)
}

// ParseAccess verifies signature, lifetime, issuer, audience, and family.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Typ != typAccess {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Typ != typRefresh {
		return nil, errors.New("not a refresh token")
	}
	if claims.ID == "" {
		return nil, errors.New("refresh token missing jti")
	}
	return claims, nil
}

func (j *Manager) ParseTicket(tokenStr string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Typ != typTicket {
		return nil, errors.New("not a ticket")
	}
	if claims.ID == "" {
		return nil, errors.New("ticket missing jti")
	}
	return claims, nil
}

func (j *Manager) registered(subject, jti string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        jti,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

func (j *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.getVerifyKey()
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
