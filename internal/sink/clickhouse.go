package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ingest-service/internal/models"
	"ingest-service/internal/util"
)

const insertPageviews = `INSERT INTO pageviews (
	event_id, project_id, session_id, visitor_id, url, page_title, referrer_category,
	utm_source, utm_medium, utm_campaign, country_code, device_type, browser, os, created_at
)`

type BatchInserter interface {
	BatchInsert(ctx context.Context, query string, rows [][]any) error
}

// PageviewBatcher buffers pageview events and writes them to ClickHouse in
// batches, when the buffer fills or on every flush tick.
type PageviewBatcher struct {
	inserter  BatchInserter
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
	onFailure func()

	mu   sync.Mutex
	rows [][]any

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewPageviewBatcher(inserter BatchInserter, batchSize int, interval time.Duration, logger *zap.Logger) *PageviewBatcher {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageviewBatcher{
		inserter:  inserter,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (b *PageviewBatcher) Name() string { return "clickhouse" }

// OnFailure registers fn to run after a failed background flush.
func (b *PageviewBatcher) OnFailure(fn func()) { b.onFailure = fn }

// Start runs the periodic flush until Close.
func (b *PageviewBatcher) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flushLogged()
			case <-b.stop:
				return
			}
		}
	}()
}

func (b *PageviewBatcher) Write(ctx context.Context, e models.Event) error {
	if e.Kind != models.EventPageview || e.Pageview == nil {
		return nil
	}

	b.mu.Lock()
	b.rows = append(b.rows, pageviewRow(e))
	full := len(b.rows) >= b.batchSize
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Flush sends everything buffered. Rows of a failed batch are dropped.
func (b *PageviewBatcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	rows := b.rows
	b.rows = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	return b.inserter.BatchInsert(ctx, insertPageviews, rows)
}

func (b *PageviewBatcher) flushLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("ClickHouse pageview flush failed", util.ErrorField(err))
		if b.onFailure != nil {
			b.onFailure()
		}
	}
}

// Close stops the ticker and flushes what is left.
func (b *PageviewBatcher) Close(ctx context.Context) error {
	b.once.Do(func() { close(b.stop) })
	if b.started.Load() {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.Flush(ctx)
}

func pageviewRow(e models.Event) []any {
	pv := e.Pageview
	var country, deviceType, browser, os string
	if e.Location != nil {
		country = e.Location.CountryCode
	}
	if e.Device != nil {
		deviceType, browser, os = e.Device.DeviceType, e.Device.Browser, e.Device.OS
	}
	return []any{
		e.ID, e.ProjectID, pv.SessionID, pv.VisitorID, pv.URL, pv.PageTitle, pv.ReferrerCategory,
		pv.UTM.Source, pv.UTM.Medium, pv.UTM.Campaign, country, deviceType, browser, os, pv.CreatedAt,
	}
}
