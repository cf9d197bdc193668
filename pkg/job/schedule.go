package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
)

// Scheduler starts a job on a cron schedule. Ticks that find a job already
// running are skipped.
type Scheduler struct {
	cron      *cron.Cron
	ctrl      *Controller
	dateRange string
	logger    logger.Logger
}

// NewScheduler parses spec (standard five field syntax or descriptors such
// as @hourly) and registers the scrape.
func NewScheduler(ctrl *Controller, spec, dateRange string, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Scheduler{
		cron:      cron.New(),
		ctrl:      ctrl,
		dateRange: dateRange,
		logger:    log.WithField("component", "scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.WithField("next_run", e.Next).Info("scrape scheduled")
	}
}

// Stop stops scheduling; the returned context is done once a running tick
// has returned
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	err := s.ctrl.Start(s.dateRange, false)
	switch {
	case err == nil:
		s.logger.WithField("date_range", s.dateRange).Info("scheduled scrape started")
	case errors.Is(err, errs.ErrJobRunning):
		s.logger.Info("scheduled scrape skipped, a job is already running")
	default:
		s.logger.WithError(err).Error("scheduled scrape could not start")
	}
}
