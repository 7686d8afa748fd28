package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ingest-service/internal/client"
	"ingest-service/internal/ratelimit"
	"ingest-service/internal/util"
)

const (
	attemptsPrefix = "rl:attempts:"
	blockPrefix    = "rl:block:"
	scanBatch      = 500
)

// MarkerStore keeps attempt markers in one sorted set per key, scored by
// creation time in nanoseconds, and block markers as plain keys with a TTL.
type MarkerStore struct {
	client *client.RedisClient
}

var _ ratelimit.MarkerStore = (*MarkerStore)(nil)

func NewMarkerStore(c *client.RedisClient) *MarkerStore {
	return &MarkerStore{client: c}
}

func (s *MarkerStore) BlockedUntil(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.client.Client.Get(ctx, blockPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get block marker: %w", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, true, nil
	}
	return time.Unix(0, nanos), true, nil
}

func (s *MarkerStore) CreateBlock(ctx context.Context, key string, until time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.Client.SetNX(ctx, blockPrefix+key, strconv.FormatInt(until.UnixNano(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set block marker: %w", err)
	}
	if ok {
		util.Debug("Redis block marker set", zap.String("key", key), zap.Duration("ttl", ttl))
	}
	return ok, nil
}

func (s *MarkerStore) DeleteBlock(ctx context.Context, key string) error {
	return s.client.Client.Del(ctx, blockPrefix+key).Err()
}

func (s *MarkerStore) ListAttempts(ctx context.Context, key string) ([]ratelimit.Attempt, error) {
	members, err := s.client.Client.ZRangeWithScores(ctx, attemptsPrefix+key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list attempt markers: %w", err)
	}
	attempts := make([]ratelimit.Attempt, 0, len(members))
	for _, m := range members {
		name, ok := m.Member.(string)
		if !ok {
			continue
		}
		attempts = append(attempts, ratelimit.Attempt{Name: name, At: time.Unix(0, int64(m.Score))})
	}
	return attempts, nil
}

// AddAttempt adds the marker and pushes the set's expiry out to ttl, so an
// idle key disappears on its own once every marker in it is stale.
func (s *MarkerStore) AddAttempt(ctx context.Context, key string, a ratelimit.Attempt, ttl time.Duration) error {
	pipe := s.client.Client.TxPipeline()
	pipe.ZAdd(ctx, attemptsPrefix+key, redis.Z{Score: float64(a.At.UnixNano()), Member: a.Name})
	if ttl > 0 {
		pipe.PExpire(ctx, attemptsPrefix+key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add attempt marker: %w", err)
	}
	return nil
}

func (s *MarkerStore) DeleteAttempts(ctx context.Context, key string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]any, len(names))
	for i, n := range names {
		members[i] = n
	}
	return s.client.Client.ZRem(ctx, attemptsPrefix+key, members...).Err()
}

func (s *MarkerStore) ClearAttempts(ctx context.Context, key string) error {
	return s.client.Client.Del(ctx, attemptsPrefix+key).Err()
}

// Sweep trims markers older than cutoff from every attempt set. Key
// expiry already reclaims idle sets; this catches sets kept alive by a
// slow trickle of requests.
func (s *MarkerStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixNano(), 10)
	removed := 0

	iter := s.client.Client.Scan(ctx, 0, attemptsPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.Client.ZRemRangeByScore(ctx, iter.Val(), "-inf", upper).Result()
		if err != nil {
			return removed, fmt.Errorf("sweep %s: %w", iter.Val(), err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan attempt sets: %w", err)
	}
	return removed, nil
}

func (s *MarkerStore) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}
