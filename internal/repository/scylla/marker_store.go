package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"ingest-service/internal/ratelimit"
)

const (
	queryGetBlock       = `SELECT blocked_until FROM rate_blocks WHERE marker_key = ?`
	queryCreateBlock    = `INSERT INTO rate_blocks (marker_key, blocked_until) VALUES (?, ?) IF NOT EXISTS USING TTL ?`
	queryDeleteBlock    = `DELETE FROM rate_blocks WHERE marker_key = ?`
	queryListAttempts   = `SELECT name, created_at FROM rate_attempts WHERE marker_key = ?`
	queryAddAttempt     = `INSERT INTO rate_attempts (marker_key, name, created_at) VALUES (?, ?, ?) USING TTL ?`
	queryDeleteAttempts = `DELETE FROM rate_attempts WHERE marker_key = ? AND name IN ?`
	queryClearAttempts  = `DELETE FROM rate_attempts WHERE marker_key = ?`
)

// MarkerStore keeps admission markers in Scylla. Rows are written with a
// TTL so storage reclaims itself; the block marker uses a lightweight
// transaction to get create-if-absent semantics across the cluster.
type MarkerStore struct {
	client *ScyllaClient
}

var _ ratelimit.MarkerStore = (*MarkerStore)(nil)

func NewMarkerStore(c *ScyllaClient) *MarkerStore {
	return &MarkerStore{client: c}
}

func (s *MarkerStore) BlockedUntil(ctx context.Context, key string) (time.Time, bool, error) {
	var until time.Time
	err := s.client.Session.Query(
		queryGetBlock, key,
	).WithContext(ctx).Scan(&until)
	if err == gocql.ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get block marker: %w", err)
	}
	return until, true, nil
}

func (s *MarkerStore) CreateBlock(ctx context.Context, key string, until time.Time, ttl time.Duration) (bool, error) {
	existing := map[string]any{}
	applied, err := s.client.Session.Query(
		queryCreateBlock,
		key, until, ttlSeconds(ttl),
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return false, fmt.Errorf("create block marker: %w", err)
	}
	return applied, nil
}

func (s *MarkerStore) DeleteBlock(ctx context.Context, key string) error {
	return s.client.Session.Query(queryDeleteBlock, key).WithContext(ctx).Exec()
}

func (s *MarkerStore) ListAttempts(ctx context.Context, key string) ([]ratelimit.Attempt, error) {
	iter := s.client.Session.Query(
		queryListAttempts, key,
	).WithContext(ctx).Iter()

	var (
		attempts []ratelimit.Attempt
		name     string
		at       time.Time
	)
	for iter.Scan(&name, &at) {
		attempts = append(attempts, ratelimit.Attempt{Name: name, At: at})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list attempt markers: %w", err)
	}
	return attempts, nil
}

func (s *MarkerStore) AddAttempt(ctx context.Context, key string, a ratelimit.Attempt, ttl time.Duration) error {
	return s.client.Session.Query(
		queryAddAttempt,
		key, a.Name, a.At, ttlSeconds(ttl),
	).WithContext(ctx).Exec()
}

func (s *MarkerStore) DeleteAttempts(ctx context.Context, key string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return s.client.Session.Query(
		queryDeleteAttempts, key, names,
	).WithContext(ctx).Exec()
}

func (s *MarkerStore) ClearAttempts(ctx context.Context, key string) error {
	return s.client.Session.Query(queryClearAttempts, key).WithContext(ctx).Exec()
}

// Sweep is a no-op: every row carries a TTL no longer than its window.
func (s *MarkerStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *MarkerStore) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func ttlSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
