package sink

import (
	"context"
	"time"

	"ingest-service/internal/models"
)

type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
}

// ErrorIndexer mirrors error events into a search index.
type ErrorIndexer struct {
	indexer DocumentIndexer
	index   string
}

func NewErrorIndexer(indexer DocumentIndexer, index string) *ErrorIndexer {
	return &ErrorIndexer{indexer: indexer, index: index}
}

func (x *ErrorIndexer) Name() string { return "elasticsearch" }

type errorDocument struct {
	ProjectID   int64            `json:"project_id"`
	GroupID     int64            `json:"group_id"`
	ErrorType   string           `json:"error_type"`
	Message     string           `json:"message"`
	File        string           `json:"file,omitempty"`
	Line        int              `json:"line,omitempty"`
	Stack       string           `json:"stack,omitempty"`
	URL         string           `json:"url,omitempty"`
	Severity    string           `json:"severity"`
	Environment string           `json:"environment"`
	Location    *models.Location `json:"location,omitempty"`
	Device      *models.Device   `json:"device,omitempty"`
	Timestamp   time.Time        `json:"@timestamp"`
}

func (x *ErrorIndexer) Write(ctx context.Context, e models.Event) error {
	if e.Kind != models.EventError || e.Error == nil {
		return nil
	}
	ev := e.Error
	return x.indexer.IndexDocument(ctx, x.index, e.ID, errorDocument{
		ProjectID:   e.ProjectID,
		GroupID:     ev.GroupID,
		ErrorType:   ev.ErrorType,
		Message:     ev.Message,
		File:        ev.File,
		Line:        ev.Line,
		Stack:       ev.Stack,
		URL:         ev.URL,
		Severity:    ev.Severity,
		Environment: ev.Environment,
		Location:    e.Location,
		Device:      e.Device,
		Timestamp:   ev.CreatedAt,
	})
}
