package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errAllowEntryMissing = errors.New("refresh allow entry missing")

const allowListPrefix = "refresh:allow"

// allowListStore is the refresh-token allow-list: one entry per live JTI,
// valued with the session it belongs to. A refresh token is only as valid
// as its entry; rotation claims the entry with GETDEL, so a replayed token
// finds nothing and of two concurrent rotations exactly one succeeds.
type allowListStore struct {
	redis redis.UniversalClient
}

func newAllowListStore(client redis.UniversalClient) *allowListStore {
	return &allowListStore{redis: client}
}

func (s *allowListStore) key(jti string) string {
	return allowListPrefix + ":" + jti
}

// Put registers a freshly issued JTI for the lifetime of its token.
func (s *allowListStore) Put(ctx context.Context, jti, userID, sessionID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(jti), userID+":"+sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Take atomically claims and removes the entry. errAllowEntryMissing means
// the JTI was never issued, already rotated, or revoked; the caller treats
// all three the same way.
func (s *allowListStore) Take(ctx context.Context, jti string) error {
	_, err := s.redis.GetDel(ctx, s.key(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errAllowEntryMissing
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Remove deletes the entry without claiming it. Used to roll back a newly
// issued JTI when the rotation it belongs to fails downstream.
func (s *allowListStore) Remove(ctx context.Context, jti string) error {
	if err := s.redis.Del(ctx, s.key(jti)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
