package authkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var errChallengeNotFound = errors.New("challenge record not found")

// challengeStore keeps one active challenge per (purpose, channel,
// identifier) tuple, keyed by a salted digest so raw identifiers never
// appear in Redis. Each record has two sibling keys: ":cd" carries the
// resend cooldown, ":blk" carries an active block. All three expire on
// their own; nothing here needs a sweeper.
type challengeStore struct {
	redis  redis.UniversalClient
	config ChallengeConfig
}

// challengeRecord mirrors the Redis hash. maxAttempts is a snapshot of the
// configured cap taken at issuance; verification compares against it, not the
// live config, so an in-flight challenge keeps the rules it was issued under.
type challengeRecord struct {
	codeHash    string
	attempts    int64
	maxAttempts int64
	issuedAt    int64
	sendCount   int64
	ip          string
	channel     string
	purpose     string
}

func newChallengeStore(client redis.UniversalClient, cfg ChallengeConfig) *challengeStore {
	return &challengeStore{redis: client, config: cfg}
}

func (s *challengeStore) key(digest string) string {
	return s.config.RedisPrefix + ":" + digest
}

func (s *challengeStore) cooldownKey(digest string) string {
	return s.key(digest) + ":cd"
}

func (s *challengeStore) blockKey(digest string) string {
	return s.key(digest) + ":blk"
}

// Save writes a fresh record and starts the resend cooldown, replacing any
// previous code for the tuple. Attempts always restart at zero; the other
// fields come from the caller's snapshot.
func (s *challengeStore) Save(ctx context.Context, digest string, rec *challengeRecord, now time.Time) error {
	key := s.key(digest)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", rec.codeHash,
			"attempts", 0,
			"maxAttempts", rec.maxAttempts,
			"issuedAt", now.Unix(),
			"sendCount", rec.sendCount,
			"ip", rec.ip,
			"ch", rec.channel,
			"pu", rec.purpose,
		)
		pipe.Expire(ctx, key, s.config.ValidityWindow)
		pipe.Set(ctx, s.cooldownKey(digest), "1", s.config.ResendCooldown)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Rollback undoes Save after a failed delivery so the tuple is left exactly
// as if the request had never happened.
func (s *challengeStore) Rollback(ctx context.Context, digest string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(digest))
		pipe.Del(ctx, s.cooldownKey(digest))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *challengeStore) Load(ctx context.Context, digest string) (*challengeRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(digest)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, errChallengeNotFound
	}

	attempts, _ := strconv.ParseInt(fields["attempts"], 10, 64)
	maxAttempts, _ := strconv.ParseInt(fields["maxAttempts"], 10, 64)
	issuedAt, _ := strconv.ParseInt(fields["issuedAt"], 10, 64)
	sendCount, _ := strconv.ParseInt(fields["sendCount"], 10, 64)
	rec := &challengeRecord{
		codeHash:    fields["code"],
		attempts:    attempts,
		maxAttempts: maxAttempts,
		issuedAt:    issuedAt,
		sendCount:   sendCount,
		ip:          fields["ip"],
		channel:     fields["ch"],
		purpose:     fields["pu"],
	}
	if rec.codeHash == "" {
		return nil, errChallengeNotFound
	}
	return rec, nil
}

// IncrementAttempts bumps the guess counter and returns the new value. The
// returned count is authoritative under concurrency: each concurrent guess
// observes a distinct value, so at most one caller sees each count.
func (s *challengeStore) IncrementAttempts(ctx context.Context, digest string) (int64, error) {
	count, err := s.redis.HIncrBy(ctx, s.key(digest), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Consume removes the record and its cooldown after a successful match so a
// new challenge can be requested immediately.
func (s *challengeStore) Consume(ctx context.Context, digest string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(digest))
		pipe.Del(ctx, s.cooldownKey(digest))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Block discards the record and marks the tuple blocked for the configured
// window. Until the mark expires every verify, including one with the right
// code, is rejected.
func (s *challengeStore) Block(ctx context.Context, digest string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(digest))
		pipe.Set(ctx, s.blockKey(digest), "1", s.config.BlockWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// BlockRemaining returns how long the tuple stays blocked, zero if it is not.
func (s *challengeStore) BlockRemaining(ctx context.Context, digest string) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, s.blockKey(digest)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// CooldownRemaining returns how long until a resend is allowed, zero if now.
func (s *challengeStore) CooldownRemaining(ctx context.Context, digest string) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, s.cooldownKey(digest)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Remaining returns the active record's time to live, zero if none exists.
func (s *challengeStore) Remaining(ctx context.Context, digest string) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, s.key(digest)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
