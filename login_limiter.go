package authkit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// loginLimiter throttles password logins with fixed windows keyed by the
// normalized identifier and, when enabled, by identifier:ip. A successful
// login resets both counters so legitimate users never carry stale strikes.
type loginLimiter struct {
	redis  redis.UniversalClient
	config LoginConfig
}

func newLoginLimiter(client redis.UniversalClient, cfg LoginConfig) *loginLimiter {
	return &loginLimiter{redis: client, config: cfg}
}

func (l *loginLimiter) identifierKey(identifier string) string {
	return l.config.RedisPrefix + ":" + identifier
}

func (l *loginLimiter) ipKey(identifier, ip string) string {
	return l.config.RedisPrefix + ":" + identifier + ":" + ip
}

// Record counts one attempt against both windows and reports whether the
// attempt is within budget.
func (l *loginLimiter) Record(ctx context.Context, identifier, ip string) error {
	if err := l.enforce(ctx, l.identifierKey(identifier)); err != nil {
		return err
	}
	if l.config.ThrottlePerIP && ip != "" {
		if err := l.enforce(ctx, l.ipKey(identifier, ip)); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the counters after a successful login.
func (l *loginLimiter) Reset(ctx context.Context, identifier, ip string) error {
	keys := []string{l.identifierKey(identifier)}
	if l.config.ThrottlePerIP && ip != "" {
		keys = append(keys, l.ipKey(identifier, ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (l *loginLimiter) enforce(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.ThrottleWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrTooManyLoginAttempts
	}

	return nil
}
