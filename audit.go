package authkit

import (
	"context"
	"time"

	"github.com/pazari/authkit/internal/audit"
)

const (
	auditEventChallengeRequested     = "challenge_requested"
	auditEventChallengeResent        = "challenge_resent"
	auditEventChallengeRateLimited   = "challenge_rate_limited"
	auditEventChallengeVerified      = "challenge_verified"
	auditEventChallengeFailed        = "challenge_failed"
	auditEventChallengeBlocked       = "challenge_blocked"
	auditEventChallengeDeliveryFail  = "challenge_delivery_failed"
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshRateLimited     = "refresh_rate_limited"
	auditEventRefreshReplayDetected  = "refresh_replay_detected"
	auditEventTicketRejected         = "ticket_rejected"
	auditEventPasswordSet            = "password_set"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordChangeFailure  = "password_change_failure"
	auditEventLogoutSession          = "logout_session"
	auditEventLogoutAll              = "logout_all"
	auditEventSessionRevoked         = "session_revoked"
	auditEventSessionRevokedCascade  = "session_revoked_cascade"
)

func (e *Engine) emitAudit(ctx context.Context, eventType, userID, sessionID string, success bool, failure error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        maskedIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if failure != nil {
		event.Error = failure.Error()
	}

	e.audit.Emit(ctx, event)
}
