package authkit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pazari/authkit/internal"
	"github.com/pazari/authkit/internal/audit"
	"github.com/pazari/authkit/jwt"
	"github.com/pazari/authkit/password"
	"github.com/pazari/authkit/session"
)

// Engine is the façade over the whole credential lifecycle: OTP challenges,
// password login, session registry, and refresh rotation. Construct it with
// [New]; all methods are safe for concurrent use.
type Engine struct {
	config  Config
	logger  *zap.Logger
	tokens  *jwt.Manager
	hasher  *password.Argon2
	metrics *Metrics
	audit   *audit.Dispatcher

	directory CredentialDirectory
	sender    CodeSender

	challenges *challengeStore
	chLimiter  *challengeLimiter
	tickets    *ticketStore
	allowList  *allowListStore
	logins     *loginLimiter
	refreshes  *refreshLimiter
	sessions   *session.Registry
}

// Authenticate verifies an access token and returns its principal. Purely
// local: signature and lifetime checks only, no Redis round-trip. Session
// revocation takes effect at the next refresh, bounded by the access TTL.
func (e *Engine) Authenticate(tokenStr string) (Principal, error) {
	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{
		UserID:    claims.Subject,
		SessionID: claims.SID,
		Roles:     claims.Roles,
	}, nil
}

// Refresh rotates a refresh token: the presented token's JTI is atomically
// claimed from the allow-list, the old JTI is unlinked, and a new pair is
// issued under the same session. A claim miss means the token is expired,
// forged, revoked, or replayed; all four surface as [ErrRefreshInvalid].
// When the miss looks like a replay (the JTI still resolves to a session)
// the whole session is revoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, ErrRefreshInvalid
	}
	userID, sessionID, jti := claims.Subject, claims.SID, claims.ID

	if err := e.refreshes.Allow(ctx, sessionID); err != nil {
		if errors.Is(err, ErrRefreshRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, userID, sessionID, false, err, nil)
			return TokenPair{}, err
		}
		// Throttle bookkeeping failures degrade open.
		e.logger.Warn("refresh throttle unavailable, proceeding",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if err := e.allowList.Take(ctx, jti); err != nil {
		if errors.Is(err, errAllowEntryMissing) {
			return TokenPair{}, e.handleRefreshMiss(ctx, userID, sessionID, jti)
		}
		// Verification reads fail closed.
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	// The session record carries the role set from login; the rotated
	// access token is re-issued from it.
	sess, err := e.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, session.ErrNotFound) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, ErrStoreUnavailable
	}

	pair, newJTI, err := e.issuePair(userID, sessionID, sess.Roles)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	if err := e.allowList.Put(ctx, newJTI, userID, sessionID, e.config.JWT.RefreshTTL); err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	if err := e.sessions.Touch(ctx, userID, sessionID, time.Now()); err != nil {
		// Session gone while the token was still live: end the line here.
		if unlinkErr := e.allowList.Remove(ctx, newJTI); unlinkErr != nil {
			e.logger.Warn("orphan allow entry after failed touch",
				zap.String("jti", newJTI), zap.Error(unlinkErr))
		}
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, session.ErrNotFound) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, ErrStoreUnavailable
	}

	if err := e.sessions.UnlinkJTI(ctx, userID, sessionID, jti); err != nil {
		e.logger.Warn("failed to unlink rotated jti",
			zap.String("jti", jti), zap.Error(err))
	}
	if err := e.sessions.LinkJTI(ctx, userID, sessionID, newJTI, e.config.JWT.RefreshTTL); err != nil {
		e.logger.Warn("failed to link new jti",
			zap.String("jti", newJTI), zap.Error(err))
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, userID, sessionID, true, nil, nil)
	return pair, nil
}

// handleRefreshMiss classifies an allow-list miss. If the JTI still maps to
// a live session the token was already rotated and is being replayed; the
// session is torn down so the thief's chain dies with the victim's.
func (e *Engine) handleRefreshMiss(ctx context.Context, userID, sessionID, jti string) error {
	ownerUser, ownerSession, err := e.sessions.FindByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, userID, sessionID, false, ErrRefreshInvalid, nil)
			return ErrRefreshInvalid
		}
		e.metricInc(MetricRefreshFailure)
		return err
	}

	e.metricInc(MetricRefreshReplayDetected)
	e.logger.Warn("refresh token replay detected",
		zap.String("user_id", ownerUser),
		zap.String("session_id", ownerSession))
	if revokeErr := e.sessions.Revoke(ctx, ownerUser, ownerSession); revokeErr != nil {
		e.logger.Error("failed to revoke session after replay",
			zap.String("session_id", ownerSession), zap.Error(revokeErr))
	} else {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventRefreshReplayDetected, ownerUser, ownerSession, false, ErrRefreshInvalid, nil)
	return ErrRefreshInvalid
}

// Logout revokes the session named by the refresh token. Unlike Refresh, a
// stale token here is not an error worth reporting: logout is idempotent.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}

	if err := e.sessions.Revoke(ctx, claims.Subject, claims.SID); err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, claims.Subject, claims.SID, true, nil, nil)
	return nil
}

// LogoutAll revokes every session of the user.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	n, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, userID, "", true, nil, map[string]string{
		"revoked": strconv.Itoa(n),
	})
	return nil
}

// issuePair signs a fresh access/refresh pair for the session and returns
// the new refresh JTI. Registering the JTI is the caller's job.
func (e *Engine) issuePair(userID, sessionID string, roles []string) (TokenPair, string, error) {
	jti := uuid.NewString()

	access, err := e.tokens.CreateAccess(userID, sessionID, roles)
	if err != nil {
		return TokenPair{}, "", err
	}
	refresh, err := e.tokens.CreateRefresh(userID, sessionID, jti)
	if err != nil {
		return TokenPair{}, "", err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, jti, nil
}

// startSession creates a session record, registers the first refresh JTI,
// and returns the signed pair.
func (e *Engine) startSession(ctx context.Context, userID string, roles []string) (TokenPair, string, error) {
	rawSID, err := internal.NewSessionID()
	if err != nil {
		return TokenPair{}, "", err
	}
	sid := rawSID.String()

	now := time.Now()
	sess := &session.Session{
		ID:         sid,
		UserID:     userID,
		Roles:      roles,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Device:     deviceFromContext(ctx),
		CreatedAt:  now.Unix(),
		LastUsedAt: now.Unix(),
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return TokenPair{}, "", ErrStoreUnavailable
	}

	pair, jti, err := e.issuePair(userID, sid, roles)
	if err != nil {
		return TokenPair{}, "", err
	}
	if err := e.allowList.Put(ctx, jti, userID, sid, e.config.JWT.RefreshTTL); err != nil {
		return TokenPair{}, "", err
	}
	if err := e.sessions.LinkJTI(ctx, userID, sid, jti, e.config.JWT.RefreshTTL); err != nil {
		e.logger.Warn("failed to link initial jti",
			zap.String("session_id", sid), zap.Error(err))
	}

	e.metricInc(MetricSessionCreated)
	return pair, sid, nil
}

// HashPassword derives a storable hash using the engine's configured cost
// parameters. Intended for host applications importing existing users into
// the credential directory.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	if len(plaintext) < e.config.Password.MinLength {
		return "", ErrWeakPassword
	}
	return e.hasher.Hash(plaintext)
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all engine counters keyed by name.
func (e *Engine) MetricsSnapshot() map[string]uint64 {
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.inc(id)
}
