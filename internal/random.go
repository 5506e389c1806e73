// Package internal holds crypto-random helpers and identifier normalization
// shared by the engine and its stores. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

type SessionID [16]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewOTP returns a uniformly random numeric code of the given length.
// Each digit is drawn independently so the code has no modulo bias.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// HashCode returns the hex-encoded SHA-256 of a challenge code salted with
// the configured key salt. The plaintext code is never stored.
func HashCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + ":" + code))
	return hex.EncodeToString(sum[:])
}

// HashToken returns the hex-encoded SHA-256 of an opaque token string, used
// for server-side single-use tracking of signed tickets.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ChallengeDigest derives the Redis key component for a challenge triple.
// Salting keeps raw identifiers out of the keyspace.
func ChallengeDigest(salt, purpose, channel, identifier string) string {
	sum := sha256.Sum256([]byte(salt + "\x00" + purpose + "\x00" + channel + "\x00" + identifier))
	return hex.EncodeToString(sum[:16])
}

// MaskIP blanks the host portion of an address for storage: the last octet
// of IPv4 dotted quads, everything past the fourth group for IPv6.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	if idx := strings.LastIndexByte(ip, '.'); idx > 0 && !strings.Contains(ip, ":") {
		return ip[:idx] + ".x"
	}
	groups := strings.Split(ip, ":")
	if len(groups) > 4 {
		return strings.Join(groups[:4], ":") + "::x"
	}
	return ip
}
