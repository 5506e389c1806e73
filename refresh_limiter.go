package authkit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// refreshLimiter caps rotation attempts per session with a fixed window.
// It sits in front of the allow-list so a flood of replayed tokens burns a
// counter, not GETDEL round-trips against live entries.
type refreshLimiter struct {
	redis  redis.UniversalClient
	config SecurityConfig
}

func newRefreshLimiter(client redis.UniversalClient, cfg SecurityConfig) *refreshLimiter {
	return &refreshLimiter{redis: client, config: cfg}
}

func (l *refreshLimiter) key(sessionID string) string {
	return "refresh:rl:" + sessionID
}

func (l *refreshLimiter) Allow(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.redis.Incr(ctx, l.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(sessionID), l.config.RefreshWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRefreshRateLimited
	}

	return nil
}
