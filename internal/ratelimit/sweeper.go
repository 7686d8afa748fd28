package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ingest-service/internal/util"
)

// Sweeper runs Controller.Sweep on a cron schedule in addition to the
// probabilistic sweeps done inline by CheckOrBlock.
type Sweeper struct {
	cron    *cron.Cron
	ctrl    *Controller
	timeout time.Duration
}

// NewSweeper parses a standard five-field cron spec such as "*/15 * * * *".
func NewSweeper(ctrl *Controller, spec string) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		ctrl:    ctrl,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.ctrl.Sweep(ctx)
	if err != nil {
		util.Warn("Scheduled marker sweep failed", util.ErrorField(err))
		return
	}
	util.Info("Scheduled marker sweep completed",
		zap.Int("removed", n),
		util.Duration("duration", time.Since(start)),
	)
}
