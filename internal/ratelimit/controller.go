package ratelimit

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"ingest-service/internal/util"

	"go.uber.org/zap"
)

// ErrAdmissionUnavailable means the attempt could not be recorded. Callers
// must not admit the request in that case.
var ErrAdmissionUnavailable = errors.New("admission controller unavailable")

const (
	DefaultSweepProbability = 0.01
	DefaultSweepMaxAge      = 24 * time.Hour
)

// Rule is the budget for one identifier: Allowed requests per Window,
// followed by a Block penalty once the budget is exceeded.
type Rule struct {
	Allowed int
	Window  time.Duration
	Block   time.Duration
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Blocked is set when this call created the block marker.
	Blocked bool
	// Count is the number of attempts inside the window, including this one
	// when it was admitted.
	Count int
}

// RetryAfterSeconds rounds up so a client never retries too early.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// SweepRecorder receives the outcome of global sweeps.
type SweepRecorder interface {
	MarkersSwept(n int)
}

type noopRecorder struct{}

func (noopRecorder) MarkersSwept(int) {}

type Controller struct {
	store            MarkerStore
	now              func() time.Time
	random           func() float64
	sweepProbability float64
	sweepMaxAge      time.Duration
	recorder         SweepRecorder
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRandom replaces the source used to decide when to sweep.
func WithRandom(random func() float64) Option {
	return func(c *Controller) { c.random = random }
}

func WithSweep(probability float64, maxAge time.Duration) Option {
	return func(c *Controller) {
		c.sweepProbability = probability
		if maxAge > 0 {
			c.sweepMaxAge = maxAge
		}
	}
}

func WithSweepRecorder(r SweepRecorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

func NewController(store MarkerStore, opts ...Option) *Controller {
	c := &Controller{
		store:            store,
		now:              time.Now,
		random:           rand.Float64,
		sweepProbability: DefaultSweepProbability,
		sweepMaxAge:      DefaultSweepMaxAge,
		recorder:         noopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckOrBlock admits or rejects one request for identifier under rule.
//
// Reads that fail are treated as empty so a flaky store does not take the
// ingest path down with it. A failed attempt write returns
// ErrAdmissionUnavailable; a failed block write still rejects.
func (c *Controller) CheckOrBlock(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	now := c.now()
	key := MarkerKey(identifier)
	defer c.maybeSweep(ctx, now)

	until, found, err := c.store.BlockedUntil(ctx, key)
	if err != nil {
		util.Warn("Block marker lookup failed", zap.String("key", key), zap.Error(err))
	} else if found {
		if until.After(now) {
			return Decision{Allowed: false, RetryAfter: until.Sub(now)}, nil
		}
		if err := c.store.DeleteBlock(ctx, key); err != nil {
			util.Warn("Expired block marker not removed", zap.String("key", key), zap.Error(err))
		}
	}

	attempts, err := c.store.ListAttempts(ctx, key)
	if err != nil {
		util.Warn("Attempt marker listing failed", zap.String("key", key), zap.Error(err))
		attempts = nil
	}

	var stale []string
	count := 0
	for _, a := range attempts {
		if now.Sub(a.At) > rule.Window {
			stale = append(stale, a.Name)
			continue
		}
		count++
	}
	if len(stale) > 0 {
		if err := c.store.DeleteAttempts(ctx, key, stale); err != nil {
			util.Debug("Stale attempt markers not removed", zap.String("key", key), zap.Error(err))
		}
	}

	if count >= rule.Allowed {
		blockUntil := now.Add(rule.Block)
		created, err := c.store.CreateBlock(ctx, key, blockUntil, rule.Block)
		if err != nil {
			util.Error("Block marker write failed", zap.String("key", key), zap.Error(err))
		}
		if err := c.store.ClearAttempts(ctx, key); err != nil {
			util.Warn("Attempt markers not cleared after block", zap.String("key", key), zap.Error(err))
		}
		if created {
			util.Info("Admission block placed",
				zap.String("key", key),
				zap.Int("count", count),
				zap.Duration("block", rule.Block))
		}
		return Decision{Allowed: false, RetryAfter: rule.Block, Blocked: created, Count: count}, nil
	}

	if err := c.store.AddAttempt(ctx, key, NewAttempt(now), rule.Window); err != nil {
		util.Error("Attempt marker write failed", zap.String("key", key), zap.Error(err))
		return Decision{}, ErrAdmissionUnavailable
	}

	return Decision{Allowed: true, Count: count + 1}, nil
}

func (c *Controller) maybeSweep(ctx context.Context, now time.Time) {
	if c.sweepProbability <= 0 || c.random() >= c.sweepProbability {
		return
	}
	if _, err := c.sweepAt(ctx, now); err != nil {
		util.Warn("Marker sweep failed", zap.Error(err))
	}
}

// Sweep deletes attempt markers older than the configured max age across
// every key. It is also invoked probabilistically from CheckOrBlock.
func (c *Controller) Sweep(ctx context.Context) (int, error) {
	return c.sweepAt(ctx, c.now())
}

func (c *Controller) sweepAt(ctx context.Context, now time.Time) (int, error) {
	removed, err := c.store.Sweep(ctx, now.Add(-c.sweepMaxAge))
	if removed > 0 {
		c.recorder.MarkersSwept(removed)
		util.Debug("Marker sweep finished", zap.Int("removed", removed))
	}
	return removed, err
}

// Ping reports whether the marker store is reachable and writable.
func (c *Controller) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
