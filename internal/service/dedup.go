package service

import (
	"context"
	"time"
)

const DefaultDedupWindow = 300 * time.Second

// DedupFilter suppresses repeat pageviews of the same URL by the same
// visitor inside the window. The check and the later insert are separate
// statements, so two simultaneous requests may both be counted.
type DedupFilter struct {
	store  PageviewStore
	window time.Duration
}

func NewDedupFilter(store PageviewStore, window time.Duration) *DedupFilter {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupFilter{store: store, window: window}
}

func (f *DedupFilter) IsDuplicate(ctx context.Context, projectID, visitorID int64, url string, now time.Time) (bool, error) {
	dup, err := f.store.ExistsSince(ctx, projectID, visitorID, url, now.Add(-f.window))
	if err != nil {
		return false, stageErr(StageDedup, err)
	}
	return dup, nil
}
