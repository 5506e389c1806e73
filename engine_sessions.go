package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/pazari/authkit/session"
)

// SessionInfo is the caller-facing view of one device session.
type SessionInfo struct {
	ID         string
	IP         string
	UserAgent  string
	Device     string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Sessions lists the user's live sessions, newest first. Entries whose
// records expired are pruned from the indexes as a side effect.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	sessions, err := e.sessions.List(ctx, userID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return toSessionInfos(sessions), nil
}

// SessionsPage lists one page of the user's sessions by recency. Pages can
// come back short when expired entries were pruned during the read.
func (e *Engine) SessionsPage(ctx context.Context, userID string, offset, limit int) ([]SessionInfo, error) {
	if userID == "" || offset < 0 {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > e.config.Session.MaxPageSize {
		limit = e.config.Session.MaxPageSize
	}
	sessions, err := e.sessions.ListPage(ctx, userID, offset, limit)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return toSessionInfos(sessions), nil
}

// RevokeSession ends one session and invalidates every refresh token issued
// under it. The holder's access token keeps working until it expires; the
// next refresh is where the revocation bites.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrInvalidInput
	}
	if _, err := e.sessions.Get(ctx, userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return ErrStoreUnavailable
	}
	if err := e.sessions.Revoke(ctx, userID, sessionID); err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, userID, sessionID, true, nil, nil)
	return nil
}

func toSessionInfos(sessions []*session.Session) []SessionInfo {
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:         s.ID,
			IP:         s.IP,
			UserAgent:  s.UserAgent,
			Device:     s.Device,
			CreatedAt:  time.Unix(s.CreatedAt, 0),
			LastUsedAt: time.Unix(s.LastUsedAt, 0),
		})
	}
	return out
}
