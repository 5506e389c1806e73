package authkit

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/pazari/authkit/internal/audit"
)

// Channel identifies the delivery channel of a challenge code.
type Channel string

const (
	// ChannelEmail delivers codes to an email address.
	ChannelEmail Channel = "email"
	// ChannelPhone delivers codes to a phone number.
	ChannelPhone Channel = "phone"
)

// Purpose identifies why a challenge was requested. The set is closed;
// anything else fails with [ErrInvalidPurpose] before any state is touched.
type Purpose string

const (
	// PurposeSignup guards account creation: the identifier must not exist yet.
	PurposeSignup Purpose = "signup"
	// PurposeLogin authenticates an existing account without a password.
	PurposeLogin Purpose = "login"
	// PurposeReset starts a password reset for an existing account.
	PurposeReset Purpose = "reset"
)

// Next-step hints returned by a successful challenge verification.
const (
	// NextSetPassword is returned for signup and login purposes.
	NextSetPassword = "set-password"
	// NextResetPassword is returned for the reset purpose.
	NextResetPassword = "reset-password"
)

// ChallengeState is returned by [Engine.RequestChallenge] and
// [Engine.ResendChallenge]. When AlreadyActive is true no new code was
// generated and the timers describe the existing challenge.
type ChallengeState struct {
	AlreadyActive     bool
	ExpiresIn         time.Duration
	ResendAvailableIn time.Duration
}

// VerifyResult is returned by [Engine.VerifyChallenge]. Ticket is a signed,
// single-use token exchanged for a password-setting action; Next hints which
// action the caller should take.
type VerifyResult struct {
	Ticket    string
	Next      string
	ExpiresIn time.Duration
}

// TokenPair is an access token and its linked refresh token. The refresh
// token is meant to be delivered out-of-band (an HttpOnly cookie), never in a
// JSON body.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login] and carries the issued pair plus
// the created session's ID for callers that surface device management.
type LoginResult struct {
	TokenPair
	SessionID string
	UserID    string
}

// Principal is the authenticated identity resolved from an access token by
// [Engine.Authenticate] and the middleware guard.
type Principal struct {
	UserID    string
	SessionID string
	Roles     []string
}

// CredentialRecord is a user credential row in the external profile store.
// authkit never owns this data; it is read and mutated only through
// [CredentialDirectory].
type CredentialRecord struct {
	UserID       string
	Email        string
	Phone        string
	Username     string
	PasswordHash string
	Roles        []string
}

// CredentialDirectory is the narrow interface to the external user-profile
// store. Implementations report a missing record with [ErrUserNotFound] and a
// racing insert during UpsertByChannel with [ErrDuplicateIdentifier].
//
// The directory is optional for challenge issuance (absence skips the
// existence guard) but required for Login, SetPassword, and ChangePassword.
type CredentialDirectory interface {
	FindByEmail(ctx context.Context, email string) (CredentialRecord, error)
	FindByPhone(ctx context.Context, phone string) (CredentialRecord, error)
	FindByUsername(ctx context.Context, username string) (CredentialRecord, error)
	FindByID(ctx context.Context, userID string) (CredentialRecord, error)
	UpsertByChannel(ctx context.Context, channel Channel, identifier, passwordHash string) (CredentialRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// CodeSender delivers a one-time code over the given channel. A non-nil error
// rolls back the challenge record so the system never reports success for a
// code that was not sent.
type CodeSender interface {
	SendCode(ctx context.Context, channel Channel, identifier, code string) error
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer], one object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
