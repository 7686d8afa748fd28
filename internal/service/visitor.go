package service

import (
	"context"
	"fmt"
	"time"
)

// VisitorResolver maps hashed client identifiers onto a stable visitor id.
// All writes are single-statement upserts, so any number of concurrent
// requests for the same hash converge on one row.
type VisitorResolver struct {
	store    VisitorStore
	recorder Recorder
	now      func() time.Time
}

func NewVisitorResolver(store VisitorStore, recorder Recorder) *VisitorResolver {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &VisitorResolver{store: store, recorder: recorder, now: time.Now}
}

// Resolve returns the visitor id for visitorHash, creating the visitor if
// needed. With a fingerprint, a client whose stored visitor id was lost is
// healed back onto its previous visitor row instead of starting a new one.
func (r *VisitorResolver) Resolve(ctx context.Context, projectID int64, visitorHash, fingerprintHash string) (int64, error) {
	now := r.now()

	if fingerprintHash != "" {
		id, err := r.store.TouchByHash(ctx, projectID, visitorHash, now)
		if err != nil {
			return 0, stageErr(StageVisitor, err)
		}
		if id != 0 {
			return id, nil
		}

		id, err = r.store.RelinkByFingerprint(ctx, projectID, fingerprintHash, visitorHash, now)
		if err != nil {
			return 0, stageErr(StageVisitor, err)
		}
		if id != 0 {
			r.recorder.VisitorHealed()
			return id, nil
		}
	}

	id, _, err := r.store.Upsert(ctx, projectID, visitorHash, fingerprintHash, now)
	if err != nil {
		return 0, stageErr(StageVisitor, err)
	}
	if id == 0 {
		return 0, stageErr(StageVisitor, fmt.Errorf("upsert returned no id"))
	}
	return id, nil
}
