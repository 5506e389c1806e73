package authkit

import "errors"

var (
	// ErrInvalidPurpose is returned when a challenge purpose is outside the
	// closed set (signup, login, reset). Nothing is touched.
	ErrInvalidPurpose = errors.New("invalid challenge purpose")
	// ErrInvalidInput is returned for malformed requests. Nothing is touched.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserExists is returned by the signup existence guard when the
	// identifier already has an account.
	ErrUserExists = errors.New("account already exists")
	// ErrUserNotFound is returned by the login/reset existence guard when the
	// identifier has no account.
	ErrUserNotFound = errors.New("account not found")
	// ErrChallengeRateLimited is returned when the request or verify bucket is
	// exceeded. Callers should back off by the returned retry hint.
	ErrChallengeRateLimited = errors.New("challenge rate limited")
	// ErrChallengeBlocked is returned while a temporary block from too many
	// failed verify attempts is active. Time-boxed, not permanent.
	ErrChallengeBlocked = errors.New("challenge temporarily blocked")
	// ErrChallengeInvalid covers a wrong code, a missing record, and a
	// lazily-detected expiry. The cases are intentionally merged so callers
	// cannot tell which occurred.
	ErrChallengeInvalid = errors.New("challenge code invalid or expired")
	// ErrDeliveryFailed is returned when the downstream code sender failed.
	// Challenge state is rolled back, so the request is safe to retry.
	ErrDeliveryFailed = errors.New("code delivery failed")
	// ErrInvalidCredentials covers both a wrong password and an unknown
	// identifier, intentionally merged.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTooManyLoginAttempts is returned when the login throttle is exceeded.
	ErrTooManyLoginAttempts = errors.New("too many login attempts")
	// ErrTicketInvalid is returned for a ticket whose signature or expiry
	// fails verification.
	ErrTicketInvalid = errors.New("ticket invalid or expired")
	// ErrTicketUsed is returned when a ticket's server-side entry was already
	// consumed. Map to the same client-facing message as ErrTicketInvalid.
	ErrTicketUsed = errors.New("ticket already used")
	// ErrTicketIntegrity is returned when a ticket's server-side hash does not
	// match the presented token. Map to the same client-facing message as
	// ErrTicketInvalid; log distinctly.
	ErrTicketIntegrity = errors.New("ticket integrity check failed")
	// ErrRefreshInvalid is returned on a rotation allow-list miss: expired,
	// unknown, and replayed tokens all surface as this one error.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshRateLimited is returned when the per-session refresh throttle
	// is exceeded.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSessionNotFound is returned when a session record is gone: expired,
	// revoked, or never created.
	ErrSessionNotFound = errors.New("session not found")
	// ErrWeakPassword is returned on a password policy violation.
	ErrWeakPassword = errors.New("password policy violation")
	// ErrPasswordNotSet is returned by ChangePassword for accounts created
	// through OTP flows that never set a password.
	ErrPasswordNotSet = errors.New("account has no password set")
	// ErrDuplicateIdentifier is returned by CredentialDirectory
	// implementations when an upsert races with a concurrent insert for the
	// same identifier. The engine falls back to an update.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrStoreUnavailable is returned when a coordination-store operation on
	// the security boundary fails. Verification paths fail closed on it.
	ErrStoreUnavailable = errors.New("coordination store unavailable")
	// ErrEngineNotReady is returned when the engine was not built with a
	// required collaborator.
	ErrEngineNotReady = errors.New("engine not initialized")
)
