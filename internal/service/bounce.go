package service

import "context"

// BounceTracker clears a session's bounced flag once it holds a second
// pageview. The flag only ever moves from true to false.
type BounceTracker struct {
	store SessionStore
}

func NewBounceTracker(store SessionStore) *BounceTracker {
	return &BounceTracker{store: store}
}

func (b *BounceTracker) MarkEngaged(ctx context.Context, sessionID int64) (bool, error) {
	flipped, err := b.store.MarkEngaged(ctx, sessionID)
	if err != nil {
		return false, stageErr(StageBounce, err)
	}
	return flipped, nil
}
