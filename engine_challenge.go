package authkit

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pazari/authkit/internal"
)

// RequestChallenge issues a one-time code for (purpose, channel,
// identifier). While a previous code is inside its resend cooldown no new
// code is generated; the returned state describes the live challenge so
// clients can render a countdown. The code is written to Redis before it is
// handed to the sender, and rolled back if delivery fails, so a reported
// success always corresponds to a deliverable code.
func (e *Engine) RequestChallenge(ctx context.Context, purpose Purpose, channel Channel, identifier string) (ChallengeState, error) {
	return e.requestChallenge(ctx, purpose, channel, identifier, MetricChallengeRequested, auditEventChallengeRequested)
}

// ResendChallenge replaces the active code with a fresh one once the cooldown
// has passed. Inside the cooldown it behaves exactly like RequestChallenge:
// the live challenge's timers come back and no second code is created. With
// no active challenge it degenerates to a plain request.
func (e *Engine) ResendChallenge(ctx context.Context, purpose Purpose, channel Channel, identifier string) (ChallengeState, error) {
	return e.requestChallenge(ctx, purpose, channel, identifier, MetricChallengeResent, auditEventChallengeResent)
}

// requestChallenge is the shared request/resend path. The request bucket is
// debited up front, before the block and cooldown checks, so in-cooldown
// polling spends the same budget as real issuance instead of being free.
func (e *Engine) requestChallenge(ctx context.Context, purpose Purpose, channel Channel, identifier string, metric MetricID, auditType string) (ChallengeState, error) {
	normalized, digest, err := e.challengeKey(purpose, channel, identifier)
	if err != nil {
		return ChallengeState{}, err
	}

	if err := e.chLimiter.AllowRequest(ctx, digest); err != nil {
		if errors.Is(err, ErrChallengeRateLimited) {
			e.metricInc(MetricChallengeRateLimited)
			e.emitAudit(ctx, auditEventChallengeRateLimited, "", "", false, err, challengeMeta(purpose, channel))
		}
		return ChallengeState{}, err
	}

	if err := e.requireChallengeOpen(ctx, digest); err != nil {
		return ChallengeState{}, err
	}

	if cd, err := e.challenges.CooldownRemaining(ctx, digest); err != nil {
		return ChallengeState{}, err
	} else if cd > 0 {
		remaining, err := e.challenges.Remaining(ctx, digest)
		if err != nil {
			return ChallengeState{}, err
		}
		return ChallengeState{
			AlreadyActive:     true,
			ExpiresIn:         remaining,
			ResendAvailableIn: cd,
		}, nil
	}

	return e.issueChallenge(ctx, purpose, channel, normalized, digest, metric, auditType)
}

// VerifyChallenge checks a submitted code. Attempt counting rides on the
// value HINCRBY returns, so concurrent guesses each observe a distinct
// count and the attempt cap cannot be raced past. Too many failures block
// the tuple for the configured window; inside that window even the correct
// code is rejected. On success the challenge is consumed and exchanged for
// a single-use signed ticket.
func (e *Engine) VerifyChallenge(ctx context.Context, purpose Purpose, channel Channel, identifier, code string) (VerifyResult, error) {
	normalized, digest, err := e.challengeKey(purpose, channel, identifier)
	if err != nil {
		return VerifyResult{}, err
	}
	if code == "" {
		return VerifyResult{}, ErrInvalidInput
	}

	if err := e.chLimiter.AllowVerify(ctx, digest); err != nil {
		if errors.Is(err, ErrChallengeRateLimited) {
			e.metricInc(MetricChallengeRateLimited)
			e.emitAudit(ctx, auditEventChallengeRateLimited, "", "", false, err, challengeMeta(purpose, channel))
		}
		return VerifyResult{}, err
	}

	if err := e.requireChallengeOpen(ctx, digest); err != nil {
		return VerifyResult{}, err
	}

	record, err := e.challenges.Load(ctx, digest)
	if err != nil {
		if errors.Is(err, errChallengeNotFound) {
			e.metricInc(MetricChallengeFailed)
			return VerifyResult{}, ErrChallengeInvalid
		}
		return VerifyResult{}, err
	}

	attempts, err := e.challenges.IncrementAttempts(ctx, digest)
	if err != nil {
		return VerifyResult{}, err
	}
	// The cap was snapshotted at issuance; a config change mid-flight does
	// not move the bar for a challenge already outstanding.
	if attempts > record.maxAttempts {
		if blockErr := e.challenges.Block(ctx, digest); blockErr != nil {
			return VerifyResult{}, blockErr
		}
		e.metricInc(MetricChallengeBlocked)
		e.emitAudit(ctx, auditEventChallengeBlocked, "", "", false, ErrChallengeBlocked, challengeMeta(purpose, channel))
		return VerifyResult{}, ErrChallengeBlocked
	}

	submitted := internal.HashCode(e.config.Challenge.KeySalt, code)
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(record.codeHash)) != 1 {
		if attempts == record.maxAttempts {
			if blockErr := e.challenges.Block(ctx, digest); blockErr != nil {
				return VerifyResult{}, blockErr
			}
			e.metricInc(MetricChallengeBlocked)
			e.emitAudit(ctx, auditEventChallengeBlocked, "", "", false, ErrChallengeBlocked, challengeMeta(purpose, channel))
		} else {
			e.metricInc(MetricChallengeFailed)
			e.emitAudit(ctx, auditEventChallengeFailed, "", "", false, ErrChallengeInvalid, challengeMeta(purpose, channel))
		}
		return VerifyResult{}, ErrChallengeInvalid
	}

	if err := e.challenges.Consume(ctx, digest); err != nil {
		return VerifyResult{}, err
	}

	jti := uuid.NewString()
	ticket, err := e.tokens.CreateTicket(normalized, string(purpose), string(channel), jti)
	if err != nil {
		return VerifyResult{}, err
	}
	if err := e.tickets.Put(ctx, jti, internal.HashToken(ticket), e.config.JWT.TicketTTL); err != nil {
		return VerifyResult{}, err
	}

	e.metricInc(MetricChallengeVerified)
	e.emitAudit(ctx, auditEventChallengeVerified, "", "", true, nil, challengeMeta(purpose, channel))

	next := NextSetPassword
	if purpose == PurposeReset {
		next = NextResetPassword
	}
	return VerifyResult{
		Ticket:    ticket,
		Next:      next,
		ExpiresIn: e.config.JWT.TicketTTL,
	}, nil
}

// issueChallenge runs the shared issuance tail: existence guard, code
// generation, write, delivery. The record snapshots the attempt cap and the
// request context at issuance time; sendCount carries over from a superseded
// record so resends stay countable.
func (e *Engine) issueChallenge(ctx context.Context, purpose Purpose, channel Channel, normalized, digest string, metric MetricID, auditType string) (ChallengeState, error) {
	if e.sender == nil {
		return ChallengeState{}, ErrEngineNotReady
	}

	if err := e.challengeExistenceGuard(ctx, purpose, channel, normalized); err != nil {
		return ChallengeState{}, err
	}

	sendCount := int64(1)
	if prev, err := e.challenges.Load(ctx, digest); err == nil {
		sendCount = prev.sendCount + 1
	} else if !errors.Is(err, errChallengeNotFound) {
		return ChallengeState{}, err
	}

	code, err := internal.NewOTP(e.config.Challenge.CodeDigits)
	if err != nil {
		return ChallengeState{}, err
	}

	now := time.Now()
	rec := &challengeRecord{
		codeHash:    internal.HashCode(e.config.Challenge.KeySalt, code),
		maxAttempts: int64(e.config.Challenge.MaxAttempts),
		sendCount:   sendCount,
		ip:          maskedIPFromContext(ctx),
		channel:     string(channel),
		purpose:     string(purpose),
	}
	if err := e.challenges.Save(ctx, digest, rec, now); err != nil {
		return ChallengeState{}, err
	}

	if err := e.sender.SendCode(ctx, channel, normalized, code); err != nil {
		if rbErr := e.challenges.Rollback(ctx, digest); rbErr != nil {
			e.logger.Error("challenge rollback failed after delivery error",
				zap.Error(rbErr))
		}
		e.metricInc(MetricChallengeDeliveryFailed)
		e.emitAudit(ctx, auditEventChallengeDeliveryFail, "", "", false, err, challengeMeta(purpose, channel))
		e.logger.Warn("code delivery failed",
			zap.String("channel", string(channel)), zap.Error(err))
		return ChallengeState{}, ErrDeliveryFailed
	}

	e.metricInc(metric)
	e.emitAudit(ctx, auditType, "", "", true, nil, challengeMeta(purpose, channel))

	return ChallengeState{
		ExpiresIn:         e.config.Challenge.ValidityWindow,
		ResendAvailableIn: e.config.Challenge.ResendCooldown,
	}, nil
}

// challengeExistenceGuard enforces the purpose's account precondition when
// a directory is wired: signup wants the identifier free, login and reset
// want it taken. Guard rejections are padded with a small random delay so
// response timing does not enumerate accounts any faster than the rate
// limits allow.
func (e *Engine) challengeExistenceGuard(ctx context.Context, purpose Purpose, channel Channel, identifier string) error {
	if e.directory == nil {
		return nil
	}

	_, err := e.lookupByChannel(ctx, channel, identifier)
	switch purpose {
	case PurposeSignup:
		if err == nil {
			e.enumerationDelay(ctx)
			return ErrUserExists
		}
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	case PurposeLogin, PurposeReset:
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUserNotFound) {
			e.enumerationDelay(ctx)
			return ErrUserNotFound
		}
		return err
	default:
		return ErrInvalidPurpose
	}
}

func (e *Engine) lookupByChannel(ctx context.Context, channel Channel, identifier string) (CredentialRecord, error) {
	switch channel {
	case ChannelEmail:
		return e.directory.FindByEmail(ctx, identifier)
	case ChannelPhone:
		return e.directory.FindByPhone(ctx, identifier)
	default:
		return CredentialRecord{}, ErrInvalidInput
	}
}

func (e *Engine) challengeKey(purpose Purpose, channel Channel, identifier string) (normalized, digest string, err error) {
	switch purpose {
	case PurposeSignup, PurposeLogin, PurposeReset:
	default:
		return "", "", ErrInvalidPurpose
	}
	switch channel {
	case ChannelEmail, ChannelPhone:
	default:
		return "", "", ErrInvalidInput
	}

	normalized = internal.NormalizeIdentifier(string(channel), identifier)
	if normalized == "" {
		return "", "", ErrInvalidInput
	}

	digest = internal.ChallengeDigest(
		e.config.Challenge.KeySalt,
		string(purpose),
		string(channel),
		normalized,
	)
	return normalized, digest, nil
}

// requireChallengeOpen rejects while a failed-attempts block is active.
func (e *Engine) requireChallengeOpen(ctx context.Context, digest string) error {
	blocked, err := e.challenges.BlockRemaining(ctx, digest)
	if err != nil {
		return err
	}
	if blocked > 0 {
		return ErrChallengeBlocked
	}
	return nil
}

// enumerationDelay sleeps 50-150ms. Coarse on purpose: it only has to drown
// out the directory lookup, not be unobservable.
func (e *Engine) enumerationDelay(ctx context.Context) {
	jitter, err := rand.Int(rand.Reader, big.NewInt(100))
	if err != nil {
		jitter = big.NewInt(50)
	}
	delay := time.Duration(50+jitter.Int64()) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func challengeMeta(purpose Purpose, channel Channel) map[string]string {
	return map[string]string{
		"purpose": string(purpose),
		"channel": string(channel),
	}
}
