package sink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ingest-service/internal/models"
	"ingest-service/internal/util"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Sink is one downstream mirror of persisted events. Sinks ignore kinds
// they do not store.
type Sink interface {
	Name() string
	Write(ctx context.Context, e models.Event) error
}

// FailureRecorder counts failed sink writes.
type FailureRecorder interface {
	SinkFailed(sink string)
}

// Fanout queues events and writes each one to every sink concurrently
// from a single background worker. Publish never blocks: when the queue
// is full the event is dropped and counted as a failure.
type Fanout struct {
	sinks    []Sink
	queue    chan models.Event
	timeout  time.Duration
	recorder FailureRecorder
	logger   *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

type Option func(*Fanout)

func WithQueueSize(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.queue = make(chan models.Event, n)
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithFailureRecorder(r FailureRecorder) Option {
	return func(f *Fanout) { f.recorder = r }
}

func NewFanout(logger *zap.Logger, sinks []Sink, opts ...Option) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{
		sinks:   sinks,
		queue:   make(chan models.Event, defaultQueueSize),
		timeout: defaultWriteTimeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.run()
	return f
}

func (f *Fanout) Publish(_ context.Context, e models.Event) {
	if len(f.sinks) == 0 {
		return
	}
	select {
	case f.queue <- e:
	default:
		f.logger.Warn("Event mirror queue full, dropping event",
			util.ProjectField(e.ProjectID),
			util.String("kind", e.Kind),
		)
		f.failed("queue")
	}
}

func (f *Fanout) run() {
	defer close(f.done)
	for e := range f.queue {
		f.write(e)
	}
}

func (f *Fanout) write(e models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range f.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, e); err != nil {
				f.logger.Warn("Event mirror write failed",
					util.String("sink", s.Name()),
					util.ProjectField(e.ProjectID),
					util.String("kind", e.Kind),
					util.ErrorField(err),
				)
				f.failed(s.Name())
			}
			return nil
		})
	}
	g.Wait()
}

func (f *Fanout) failed(name string) {
	if f.recorder != nil {
		f.recorder.SinkFailed(name)
	}
}

// Close stops accepting events and waits until the queue is drained.
// Publish must not be called after Close.
func (f *Fanout) Close(ctx context.Context) error {
	f.closeOnce.Do(func() { close(f.queue) })
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
