package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

const DefaultSessionTTL = 30 * time.Minute

type SessionResult struct {
	ID      int64
	Token   string
	Created bool
	// Rotated is set when the client's token belonged to a lapsed session
	// and Token is a freshly minted replacement the client must adopt.
	Rotated bool
}

// SessionResolver finds or creates the session for a client token. A
// session whose last activity is older than the TTL is never extended.
type SessionResolver struct {
	store   SessionStore
	ttl     time.Duration
	now     func() time.Time
	newTok  func() (string, error)
	metrics Recorder
}

func NewSessionResolver(store SessionStore, ttl time.Duration, recorder Recorder) *SessionResolver {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &SessionResolver{store: store, ttl: ttl, now: time.Now, newTok: NewSessionToken, metrics: recorder}
}

func (r *SessionResolver) Resolve(ctx context.Context, projectID, visitorID int64, token string) (SessionResult, error) {
	now := r.now()
	activeSince := now.Add(-r.ttl)

	id, created, err := r.store.Upsert(ctx, projectID, visitorID, token, now, activeSince)
	if err != nil {
		return SessionResult{}, stageErr(StageSession, err)
	}
	if id != 0 {
		return SessionResult{ID: id, Token: token, Created: created}, nil
	}

	fresh, err := r.newTok()
	if err != nil {
		return SessionResult{}, stageErr(StageSession, err)
	}
	id, _, err = r.store.Upsert(ctx, projectID, visitorID, fresh, now, activeSince)
	if err != nil {
		return SessionResult{}, stageErr(StageSession, err)
	}
	if id == 0 {
		return SessionResult{}, stageErr(StageSession, errors.New("rotated token collided with an existing session"))
	}
	r.metrics.SessionRotated()
	return SessionResult{ID: id, Token: fresh, Created: true, Rotated: true}, nil
}

// NewSessionToken returns 32 random bytes, hex encoded.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
