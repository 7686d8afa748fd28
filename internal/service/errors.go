package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrDomainNotAllowed   = errors.New("domain not allowed for this key")
	ErrLinkNotFound       = errors.New("link not found")
	ErrInvalidDestination = errors.New("invalid link destination")
)

// Pipeline stages named in StageError and in logs.
const (
	StageProject     = "project"
	StageVisitor     = "visitor"
	StageSession     = "session"
	StageDedup       = "dedup"
	StageDimension   = "dimension"
	StagePageview    = "pageview"
	StageBounce      = "bounce"
	StageErrorReport = "error"
	StageAudit       = "audit"
	StageLink        = "link"
)

// StageError marks a storage failure inside one pipeline stage. The event
// is abandoned and the caller answers with a server error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
