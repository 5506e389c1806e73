package authkit

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/pazari/authkit/internal"
)

// SetPassword exchanges a challenge ticket for a credential write. The
// ticket's signature is verified first, then its server-side record is
// claimed with get-and-delete and the stored hash compared against the
// presented token, an independent integrity check that holds even if the
// signing key leaked after issuance. Policy violations are rejected before
// the ticket is consumed, so a typo does not burn it.
//
// The credential is upserted by the ticket's channel and identifier. When
// two calls race the same identifier, the loser of the insert falls back to
// updating the record the winner created.
func (e *Engine) SetPassword(ctx context.Context, ticket, newPassword string) (string, error) {
	if e.directory == nil {
		return "", ErrEngineNotReady
	}

	claims, err := e.tokens.ParseTicket(ticket)
	if err != nil {
		e.metricInc(MetricTicketRejected)
		return "", ErrTicketInvalid
	}

	if len(newPassword) < e.config.Password.MinLength {
		return "", ErrWeakPassword
	}

	if err := e.tickets.Consume(ctx, claims.ID, internal.HashToken(ticket)); err != nil {
		e.metricInc(MetricTicketRejected)
		switch {
		case errors.Is(err, errTicketNotFound):
			e.emitAudit(ctx, auditEventTicketRejected, "", "", false, ErrTicketUsed, nil)
			return "", ErrTicketUsed
		case errors.Is(err, ErrTicketIntegrity):
			e.logger.Warn("ticket integrity check failed",
				zap.String("jti", claims.ID))
			e.emitAudit(ctx, auditEventTicketRejected, "", "", false, ErrTicketIntegrity, nil)
			return "", ErrTicketIntegrity
		default:
			return "", err
		}
	}
	e.metricInc(MetricTicketConsumed)

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}

	channel := Channel(claims.Channel)
	record, err := e.directory.UpsertByChannel(ctx, channel, claims.Subject, hash)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			record, err = e.lookupByChannel(ctx, channel, claims.Subject)
			if err != nil {
				return "", err
			}
			if err := e.directory.UpdatePasswordHash(ctx, record.UserID, hash); err != nil {
				return "", err
			}
		} else {
			return "", err
		}
	}

	e.metricInc(MetricPasswordSet)
	e.emitAudit(ctx, auditEventPasswordSet, record.UserID, "", true, nil, map[string]string{
		"purpose": claims.Purpose,
	})

	if claims.Purpose == string(PurposeReset) && e.config.Password.RevokeSessionsOnChange {
		if n, err := e.sessions.RevokeAll(ctx, record.UserID); err != nil {
			e.logger.Warn("failed to revoke sessions after password reset",
				zap.String("user_id", record.UserID), zap.Error(err))
		} else if n > 0 {
			e.emitAudit(ctx, auditEventSessionRevokedCascade, record.UserID, "", true, nil, map[string]string{
				"revoked": strconv.Itoa(n),
			})
		}
	}

	return record.UserID, nil
}

// ChangePassword replaces an authenticated user's password. It needs a
// baseline: accounts created through OTP flows that never set a password
// fail with [ErrPasswordNotSet] and must go through the reset flow instead.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	if e.directory == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrInvalidInput
	}
	if len(newPassword) < e.config.Password.MinLength {
		return ErrWeakPassword
	}

	record, err := e.directory.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if record.PasswordHash == "" {
		return ErrPasswordNotSet
	}

	ok, err := e.hasher.Verify(current, record.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, userID, "", false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, userID, "", true, nil, nil)

	if e.config.Password.RevokeSessionsOnChange {
		if _, err := e.sessions.RevokeAll(ctx, userID); err != nil {
			e.logger.Warn("failed to revoke sessions after password change",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	return nil
}
