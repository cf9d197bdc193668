package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"instasave/pkg/config"
	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
	"instasave/pkg/metrics"
	"instasave/pkg/scraper"
	"instasave/pkg/status"
)

// State is a step of the job state machine:
// idle -> starting -> running -> completed | failed | stopped_by_user
type State string

const (
	StateIdle          State = "idle"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateStoppedByUser State = "stopped_by_user"
)

// Active reports whether a job in this state holds the run lock
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning
}

// RunFunc performs one scrape; scraper.Runner.Run satisfies it
type RunFunc func(ctx context.Context, params scraper.Params, stop <-chan struct{}) (scraper.Summary, error)

// Flusher persists buffered dead-letter entries
type Flusher interface {
	Flush() error
}

// Deps wires a Controller
type Deps struct {
	Run        RunFunc
	Status     *status.Store
	DeadLetter Flusher
	// MarkerPath is created while a job runs; a leftover marker blocks new starts
	MarkerPath string
	Metrics    metrics.Recorder
	Logger     logger.Logger
	// Context bounds every job; cancelling it aborts in-flight I/O
	Context context.Context
}

// Controller owns the single background scrape job. At most one job runs
// at a time, guarded in process by a non-blocking lock and across
// processes by the marker file.
type Controller struct {
	deps Deps
	log  logger.Logger

	run sync.Mutex

	mu       sync.Mutex
	state    State
	runID    string
	stop     chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
}

// NewController creates an idle controller
func NewController(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		deps:  deps,
		log:   deps.Logger.WithField("component", "job"),
		state: StateIdle,
		done:  done,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RunID returns the id of the current or last run
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Status returns the progress record
func (c *Controller) Status() status.Record {
	return c.deps.Status.Read()
}

// Start launches a job in the background and returns immediately. It
// fails with errs.ErrJobRunning when a job is active and with
// errs.ErrUncleanShutdown when a marker from an earlier process remains.
func (c *Controller) Start(dateRange string, dryRun bool) error {
	if !config.ValidDateRange(dateRange) {
		return fmt.Errorf("invalid date range %q: want \"all\" or a number of days", dateRange)
	}

	if !c.run.TryLock() {
		c.log.WarnWithFields("scrape already in progress, ignoring start", map[string]interface{}{
			"run_id": c.RunID(),
		})
		return errs.ErrJobRunning
	}

	runID := uuid.NewString()
	if err := c.createMarker(runID); err != nil {
		c.run.Unlock()
		return err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.runID = runID
	c.stop = stop
	c.stopOnce = &sync.Once{}
	c.done = done
	c.mu.Unlock()
	c.setState(StateStarting)
	c.deps.Metrics.SetJobRunning(true)

	if err := c.deps.Status.Reset(
		status.Running(true),
		status.State(string(StateStarting)),
		status.Run(runID, dateRange, dryRun),
		status.Message("Starting scrape"),
	); err != nil {
		c.log.WithError(err).Warn("failed to reset status")
	}

	ctx := logger.ContextWithRunID(c.deps.Context, runID)
	go c.work(ctx, scraper.Params{DateRange: dateRange, DryRun: dryRun}, stop, done)

	c.log.InfoWithFields("scrape job started", map[string]interface{}{
		"run_id":     runID,
		"date_range": dateRange,
		"dry_run":    dryRun,
	})
	return nil
}

// RequestStop asks the running job to finish the item in flight and exit.
// It reports whether a job was running.
func (c *Controller) RequestStop() bool {
	c.mu.Lock()
	active := c.state.Active()
	stop, once := c.stop, c.stopOnce
	c.mu.Unlock()
	if !active || stop == nil {
		return false
	}

	once.Do(func() {
		close(stop)
		c.log.Info("stop requested, finishing current item")
		if err := c.deps.Status.Update(status.Message("Stop requested, finishing current item")); err != nil {
			c.log.WithError(err).Warn("failed to update status")
		}
	})
	return true
}

// Wait blocks until the current job, if any, has finished its cleanup
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown requests a stop and waits for the job to wind down
func (c *Controller) Shutdown(ctx context.Context) error {
	c.RequestStop()
	return c.Wait(ctx)
}

// ClearStaleMarker removes a marker left by a crashed process. It refuses
// while a job of this process holds the lock.
func (c *Controller) ClearStaleMarker() (bool, error) {
	if !c.run.TryLock() {
		return false, errs.ErrJobRunning
	}
	defer c.run.Unlock()

	err := os.Remove(c.deps.MarkerPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove job marker: %w", err)
	}
	c.log.WithField("path", c.deps.MarkerPath).Warn("removed stale job marker")
	return true, nil
}

func (c *Controller) work(ctx context.Context, params scraper.Params, stop <-chan struct{}, done chan struct{}) {
	log := c.log.WithContext(ctx)

	var (
		summary scraper.Summary
		err     error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scrape panicked: %v", r)
		}
		c.finish(log, params, summary, err)
		c.cleanup(log)
		close(done)
	}()

	c.setState(StateRunning)
	if uerr := c.deps.Status.Update(status.State(string(StateRunning))); uerr != nil {
		log.WithError(uerr).Warn("failed to update status")
	}

	summary, err = c.deps.Run(ctx, params, stop)
}

// finish records the terminal state and summary
func (c *Controller) finish(log logger.Logger, params scraper.Params, summary scraper.Summary, err error) {
	final := StateCompleted
	message := completionMessage(summary)
	switch {
	case err != nil:
		final = StateFailed
		message = failureMessage(err)
		log.WithError(err).Error("scrape job failed")
	case summary.Stopped:
		final = StateStoppedByUser
		message = fmt.Sprintf("Stopped by user after %d items", summary.Processed)
	}

	c.setState(final)
	c.deps.Metrics.RecordRunFinished(string(final))

	if uerr := c.deps.Status.Update(
		status.Running(false),
		status.State(string(final)),
		status.WithSummary(status.Summary{
			Processed: summary.Processed,
			Skipped:   summary.Skipped,
			Errors:    summary.Errors,
			DryRun:    params.DryRun,
		}),
		status.Message(message),
	); uerr != nil {
		log.WithError(uerr).Warn("failed to write final status")
	}

	log.InfoWithFields("scrape job finished", map[string]interface{}{
		"state":     string(final),
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"errors":    summary.Errors,
		"dry_run":   params.DryRun,
	})
}

// cleanup runs on every exit path of a job
func (c *Controller) cleanup(log logger.Logger) {
	if c.deps.DeadLetter != nil {
		if err := c.deps.DeadLetter.Flush(); err != nil {
			log.WithError(err).Error("failed to flush dead-letter entries")
		}
	}
	if err := os.Remove(c.deps.MarkerPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Error("failed to remove job marker")
	}
	c.deps.Metrics.SetJobRunning(false)
	c.run.Unlock()
}

// createMarker creates the marker exclusively so two processes cannot both
// own it
func (c *Controller) createMarker(runID string) error {
	if err := os.MkdirAll(filepath.Dir(c.deps.MarkerPath), 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	f, err := os.OpenFile(c.deps.MarkerPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		c.log.WithField("path", c.deps.MarkerPath).Warn("job marker present without a running job, refusing to start")
		return errs.ErrUncleanShutdown
	}
	if err != nil {
		return fmt.Errorf("failed to create job marker: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "pid=%d run_id=%s started=%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write job marker: %w", err)
	}
	return nil
}

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	logger.LogStateChange(c.log, string(from), string(to))
}

func completionMessage(s scraper.Summary) string {
	if s.DryRun {
		return fmt.Sprintf("Dry run complete: %d items in range", s.Processed)
	}
	return fmt.Sprintf("Scrape complete: %d processed, %d skipped, %d errors", s.Processed, s.Skipped, s.Errors)
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		return "Logged out by Instagram; stored session cleared, please re-authenticate"
	case errors.Is(err, errs.ErrAuth):
		return "Authentication failed: no login method succeeded"
	case errors.Is(err, context.Canceled):
		return "Scrape aborted"
	default:
		return fmt.Sprintf("Scrape failed: %v", err)
	}
}
