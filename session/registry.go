package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the addressed session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Registry is the Redis-backed session store. Per user it keeps a set index
// and a recency zset alongside the records themselves; per session it keeps
// the set of refresh JTIs issued under it, plus a reverse entry per JTI so a
// replayed token can be traced back to its session.
//
// Record TTLs and index entries can drift apart because Redis expires keys
// independently. List and ListPage repair the indexes as they read.
type Registry struct {
	redis       redis.UniversalClient
	prefix      string
	allowPrefix string
	ttl         time.Duration
}

// NewRegistry creates a Registry. allowPrefix names the refresh allow-list
// keyspace ("refresh:allow") so Revoke can delete the allow entries of every
// JTI linked to the session it tears down.
func NewRegistry(client redis.UniversalClient, prefix, allowPrefix string, ttl time.Duration) *Registry {
	return &Registry{
		redis:       client,
		prefix:      prefix,
		allowPrefix: allowPrefix,
		ttl:         ttl,
	}
}

func (r *Registry) key(userID, sessionID string) string {
	return r.prefix + ":" + userID + ":" + sessionID
}

func (r *Registry) indexKey(userID string) string {
	return r.prefix + ":index:" + userID
}

func (r *Registry) recencyKey(userID string) string {
	return r.prefix + ":index:z:" + userID
}

func (r *Registry) jtisKey(userID, sessionID string) string {
	return r.prefix + ":jtis:" + userID + ":" + sessionID
}

func (r *Registry) jtiIndexKey(jti string) string {
	return r.prefix + ":jti:index:" + jti
}

func (r *Registry) allowKey(jti string) string {
	return r.allowPrefix + ":" + jti
}

// Create persists a new session and inserts it into both per-user indexes.
func (r *Registry) Create(ctx context.Context, sess *Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(sess.UserID, sess.ID), data, r.ttl)
		pipe.SAdd(ctx, r.indexKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, r.indexKey(sess.UserID), r.ttl)
		pipe.ZAdd(ctx, r.recencyKey(sess.UserID), redis.Z{
			Score:  float64(sess.LastUsedAt),
			Member: sess.ID,
		})
		pipe.Expire(ctx, r.recencyKey(sess.UserID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get fetches one session record.
func (r *Registry) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(userID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decode(data)
}

// List returns every live session of the user, newest first, and prunes
// index entries whose records have expired.
func (r *Registry) List(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.redis.ZRevRange(ctx, r.recencyKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return r.resolveIDs(ctx, userID, ids)
}

// ListPage returns a slice of the user's sessions ordered by recency.
// Pruned entries reduce the page size rather than triggering a re-read; the
// next call sees a clean index.
func (r *Registry) ListPage(ctx context.Context, userID string, offset, limit int) ([]*Session, error) {
	if limit <= 0 {
		return []*Session{}, nil
	}
	stop := int64(offset + limit - 1)
	ids, err := r.redis.ZRevRange(ctx, r.recencyKey(userID), int64(offset), stop).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return r.resolveIDs(ctx, userID, ids)
}

func (r *Registry) resolveIDs(ctx context.Context, userID string, ids []string) ([]*Session, error) {
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.key(userID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		sess, decErr := decode(data)
		if decErr != nil {
			stale = append(stale, ids[i])
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		// Read repair. Failure here only delays the next repair.
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		pipe := r.redis.Pipeline()
		pipe.SRem(ctx, r.indexKey(userID), members...)
		pipe.ZRem(ctx, r.recencyKey(userID), members...)
		_, _ = pipe.Exec(ctx)
	}

	return sessions, nil
}

// Touch bumps the session's last-used time and restarts the record's TTL, so
// an actively refreshing session keeps sliding forward instead of dying at
// its original deadline. The index and JTI-set keys slide with it. Returns
// ErrNotFound when the record is gone, which callers treat as a terminated
// session.
func (r *Registry) Touch(ctx context.Context, userID, sessionID string, now time.Time) error {
	sess, err := r.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	sess.LastUsedAt = now.Unix()
	data, err := encode(sess)
	if err != nil {
		return err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(userID, sessionID), data, r.ttl)
		pipe.ZAdd(ctx, r.recencyKey(userID), redis.Z{
			Score:  float64(sess.LastUsedAt),
			Member: sessionID,
		})
		pipe.Expire(ctx, r.indexKey(userID), r.ttl)
		pipe.Expire(ctx, r.recencyKey(userID), r.ttl)
		pipe.Expire(ctx, r.jtisKey(userID, sessionID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LinkJTI records that jti was issued under the session: forward into the
// session's JTI set and reverse from the JTI to its session.
func (r *Registry) LinkJTI(ctx context.Context, userID, sessionID, jti string, refreshTTL time.Duration) error {
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.jtisKey(userID, sessionID), jti)
		pipe.Expire(ctx, r.jtisKey(userID, sessionID), r.ttl)
		pipe.Set(ctx, r.jtiIndexKey(jti), userID+":"+sessionID, refreshTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// UnlinkJTI removes a retired JTI from both directions of the linkage.
func (r *Registry) UnlinkJTI(ctx context.Context, userID, sessionID, jti string) error {
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.jtisKey(userID, sessionID), jti)
		pipe.Del(ctx, r.jtiIndexKey(jti))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FindByJTI resolves a refresh JTI to its owning user and session. Used on
// the replay-detection path to identify which session to tear down.
func (r *Registry) FindByJTI(ctx context.Context, jti string) (userID, sessionID string, err error) {
	val, err := r.redis.Get(ctx, r.jtiIndexKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for i := 0; i < len(val); i++ {
		if val[i] == ':' {
			return val[:i], val[i+1:], nil
		}
	}
	return "", "", ErrNotFound
}

// Revoke deletes the session, its index entries, and every refresh token it
// issued: each linked JTI loses both its reverse entry and its allow-list
// entry, so no token minted under this session can ever refresh again.
func (r *Registry) Revoke(ctx context.Context, userID, sessionID string) error {
	jtis, err := r.redis.SMembers(ctx, r.jtisKey(userID, sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(userID, sessionID))
		pipe.SRem(ctx, r.indexKey(userID), sessionID)
		pipe.ZRem(ctx, r.recencyKey(userID), sessionID)
		pipe.Del(ctx, r.jtisKey(userID, sessionID))
		for _, jti := range jtis {
			pipe.Del(ctx, r.jtiIndexKey(jti))
			pipe.Del(ctx, r.allowKey(jti))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll tears down every session of the user. A session created while
// this runs is not captured; it expires naturally or falls to the next call.
func (r *Registry) RevokeAll(ctx context.Context, userID string) (int, error) {
	ids, err := r.redis.SMembers(ctx, r.indexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, id := range ids {
		if err := r.Revoke(ctx, userID, id); err != nil {
			return 0, err
		}
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.indexKey(userID))
		pipe.Del(ctx, r.recencyKey(userID))
		return nil
	})
	if err != nil {
		return len(ids), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}

// Count returns the number of indexed sessions. Expired-but-unpruned
// entries inflate the count until the next List repairs them.
func (r *Registry) Count(ctx context.Context, userID string) (int, error) {
	n, err := r.redis.SCard(ctx, r.indexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}
