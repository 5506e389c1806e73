package authkit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeLimiter caps challenge traffic with two independent fixed
// windows per tuple digest: one for issuance, one for verification guesses.
// The counters are INCR-based; comparing the post-increment value keeps the
// check race-safe without a lock.
type challengeLimiter struct {
	redis  redis.UniversalClient
	config ChallengeConfig
}

func newChallengeLimiter(client redis.UniversalClient, cfg ChallengeConfig) *challengeLimiter {
	return &challengeLimiter{redis: client, config: cfg}
}

func (l *challengeLimiter) requestKey(digest string) string {
	return l.config.RedisPrefix + ":rl:req:" + digest
}

func (l *challengeLimiter) verifyKey(digest string) string {
	return l.config.RedisPrefix + ":rl:vfy:" + digest
}

// AllowRequest counts one issuance and reports whether it is within budget.
func (l *challengeLimiter) AllowRequest(ctx context.Context, digest string) error {
	return l.enforce(ctx, l.requestKey(digest), l.config.MaxRequestsPerWindow, l.config.RequestWindow)
}

// AllowVerify counts one guess and reports whether it is within budget.
func (l *challengeLimiter) AllowVerify(ctx context.Context, digest string) error {
	return l.enforce(ctx, l.verifyKey(digest), l.config.MaxVerifiesPerWindow, l.config.VerifyWindow)
}

func (l *challengeLimiter) enforce(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if count > int64(max) {
		return ErrChallengeRateLimited
	}

	return nil
}
