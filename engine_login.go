package authkit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/pazari/authkit/internal"
)

// Login authenticates an identifier/password pair and opens a new device
// session. The identifier is free-form: an email shape is matched against
// email, a phone shape against phone, and either may still be a username.
// Unknown identifiers burn a verification against a throwaway hash so the
// miss path costs the same as a wrong password.
func (e *Engine) Login(ctx context.Context, identifier, pass string) (LoginResult, error) {
	if e.directory == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pass == "" {
		return LoginResult{}, ErrInvalidInput
	}

	ip := clientIPFromContext(ctx)
	throttleKey := strings.ToLower(identifier)

	if err := e.logins.Record(ctx, throttleKey, ip); err != nil {
		if errors.Is(err, ErrTooManyLoginAttempts) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, "", "", false, err, nil)
			return LoginResult{}, err
		}
		// Throttle bookkeeping failures degrade open rather than locking
		// every user out with Redis.
		e.logger.Warn("login throttle unavailable, proceeding", zap.Error(err))
	}

	record, found, err := e.findLoginRecord(ctx, identifier)
	if err != nil {
		return LoginResult{}, err
	}

	if !found || record.PasswordHash == "" {
		e.hasher.VerifyDummy(pass)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, "", "", false, ErrInvalidCredentials, nil)
		return LoginResult{}, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, record.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, record.UserID, "", false, ErrInvalidCredentials, nil)
		return LoginResult{}, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		e.maybeUpgradeHash(ctx, record, pass)
	}

	if err := e.logins.Reset(ctx, throttleKey, ip); err != nil {
		e.logger.Warn("login throttle reset failed", zap.Error(err))
	}

	pair, sid, err := e.startSession(ctx, record.UserID, record.Roles)
	if err != nil {
		return LoginResult{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, record.UserID, sid, true, nil, nil)

	return LoginResult{
		TokenPair: pair,
		SessionID: sid,
		UserID:    record.UserID,
	}, nil
}

// findLoginRecord tries the directory lookups the identifier's shape makes
// plausible, in order of specificity. Only ErrUserNotFound keeps the search
// going; any other directory error aborts the login.
func (e *Engine) findLoginRecord(ctx context.Context, identifier string) (CredentialRecord, bool, error) {
	for _, kind := range internal.ClassifyIdentifier(identifier) {
		var (
			record CredentialRecord
			err    error
		)
		switch kind {
		case internal.KindEmail:
			record, err = e.directory.FindByEmail(ctx, internal.NormalizeEmail(identifier))
		case internal.KindPhone:
			record, err = e.directory.FindByPhone(ctx, internal.NormalizePhone(identifier))
		default:
			record, err = e.directory.FindByUsername(ctx, identifier)
		}
		if err == nil {
			return record, true, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return CredentialRecord{}, false, err
		}
	}
	return CredentialRecord{}, false, nil
}

// maybeUpgradeHash rehashes with current parameters when the stored hash
// was produced with weaker ones. Failures are logged and swallowed; the
// login already succeeded.
func (e *Engine) maybeUpgradeHash(ctx context.Context, record CredentialRecord, pass string) {
	needs, err := e.hasher.NeedsUpgrade(record.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		e.logger.Warn("password hash upgrade failed",
			zap.String("user_id", record.UserID), zap.Error(err))
		return
	}
	if err := e.directory.UpdatePasswordHash(ctx, record.UserID, newHash); err != nil {
		e.logger.Warn("password hash upgrade write failed",
			zap.String("user_id", record.UserID), zap.Error(err))
	}
}
