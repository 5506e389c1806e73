package authkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errTicketNotFound = errors.New("ticket record not found")

// ticketStore backs challenge tickets with a one-shot server-side record.
// The signed ticket alone is not enough to act: its JTI must still resolve
// to a stored hash of the full token, claimed with GETDEL so that exactly
// one caller of N concurrent ones wins.
type ticketStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newTicketStore(client redis.UniversalClient) *ticketStore {
	return &ticketStore{redis: client, prefix: "otp:ticket"}
}

func (s *ticketStore) key(jti string) string {
	return s.prefix + ":" + jti
}

// Put stores the hash of a freshly minted ticket under its JTI.
func (s *ticketStore) Put(ctx context.Context, jti, ticketHash string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(jti), ticketHash, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume atomically claims the record and verifies that the presented
// ticket is the one it was minted for. A missing record means the ticket
// was already used or expired. A hash mismatch after a successful claim
// means a forged or cross-wired ticket; the record is already gone, which
// is the safe direction.
func (s *ticketStore) Consume(ctx context.Context, jti, ticketHash string) error {
	stored, err := s.redis.GetDel(ctx, s.key(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errTicketNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(ticketHash)) != 1 {
		return ErrTicketIntegrity
	}
	return nil
}
