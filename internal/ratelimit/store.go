// Package ratelimit implements admission control as a sliding window over
// per-request marker records, with an escalating block once a key exhausts
// its budget. State lives entirely in a MarkerStore so that any number of
// processes can share it without a lock manager.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attempt is one recorded request. Name is unique per attempt and encodes
// the creation time, so stores that cannot keep metadata can still recover At.
type Attempt struct {
	Name string
	At   time.Time
}

// MarkerStore is the shared namespace holding attempt and block markers.
// Implementations must be safe for concurrent use from many processes;
// none of the operations may rely on an in-process mutex.
type MarkerStore interface {
	// BlockedUntil reports the expiry of the key's block marker, if any.
	BlockedUntil(ctx context.Context, key string) (until time.Time, found bool, err error)

	// CreateBlock writes a block marker only if none exists. It reports
	// whether this call created it.
	CreateBlock(ctx context.Context, key string, until time.Time, ttl time.Duration) (bool, error)

	DeleteBlock(ctx context.Context, key string) error

	ListAttempts(ctx context.Context, key string) ([]Attempt, error)

	// AddAttempt records one attempt. ttl is a hint for stores that expire
	// records on their own.
	AddAttempt(ctx context.Context, key string, a Attempt, ttl time.Duration) error

	DeleteAttempts(ctx context.Context, key string, names []string) error

	ClearAttempts(ctx context.Context, key string) error

	// Sweep removes attempt markers older than cutoff across every key and
	// returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	Ping(ctx context.Context) error
}

// MarkerKey derives the opaque namespace key for an identifier. Raw
// identifiers contain client addresses and never reach the store.
func MarkerKey(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// NewAttempt builds a uniquely named attempt marker for time t.
func NewAttempt(t time.Time) Attempt {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return Attempt{
		Name: fmt.Sprintf("%d.%s", t.UnixNano(), suffix),
		At:   t,
	}
}

// ParseAttemptName recovers the creation time from an attempt name.
func ParseAttemptName(name string) (time.Time, bool) {
	stamp, _, ok := strings.Cut(name, ".")
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || nanos <= 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
