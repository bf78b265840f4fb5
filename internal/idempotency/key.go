// Package idempotency mints and scopes submission keys and turns unique
// violations on the key column into replay outcomes.
package idempotency

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

// Key is a globally unique submission key.
type Key string

func (k Key) String() string { return string(k) }

const maxClientKeyLength = 255

var (
	ErrEmptyClientKey   = errors.New("idempotency_key_empty")
	ErrClientKeyTooLong = errors.New("idempotency_key_too_long")
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// Compute mints a server-side key for one accepted submission:
// <orgID>-<ULID>. The ULID carries the millisecond timestamp of at and 80
// random bits that increase monotonically within the same millisecond.
func Compute(orgID snowflake.ID, at time.Time) Key {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(at), entropy)
	entropyMu.Unlock()
	return Key(orgID.String() + "-" + id.String())
}

// Scoped namespaces a caller supplied Idempotency-Key per organization so two
// tenants can never collide on the same client value.
func Scoped(orgID snowflake.ID, clientKey string) (Key, error) {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return "", ErrEmptyClientKey
	}
	if len(clientKey) > maxClientKeyLength {
		return "", ErrClientKeyTooLong
	}
	sum := sha256.Sum256([]byte(clientKey))
	return Key(orgID.String() + ":" + hex.EncodeToString(sum[:])[:32]), nil
}

// Fingerprint hashes the parts of a request that must match for a replay to
// be treated as the same logical submission.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
