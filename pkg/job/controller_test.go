package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
	"instasave/pkg/scraper"
	"instasave/pkg/status"
)

type countingFlusher struct{ flushed int32 }

func (f *countingFlusher) Flush() error {
	atomic.AddInt32(&f.flushed, 1)
	return nil
}

// blockingRun processes items until stop is closed or release is closed
type blockingRun struct {
	started chan struct{}
	release chan struct{}
	calls   int32
	err     error
	panics  bool
}

func newBlockingRun() *blockingRun {
	return &blockingRun{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (b *blockingRun) Run(ctx context.Context, params scraper.Params, stop <-chan struct{}) (scraper.Summary, error) {
	atomic.AddInt32(&b.calls, 1)
	b.started <- struct{}{}
	if b.panics {
		panic("boom")
	}
	s := scraper.Summary{DryRun: params.DryRun}
	for {
		select {
		case <-stop:
			s.Stopped = true
			return s, nil
		case <-b.release:
			s.Processed = 3
			s.Skipped = 1
			return s, b.err
		case <-time.After(time.Millisecond):
			// one item per tick; stop is only observed between items
		}
	}
}

type fixture struct {
	ctrl    *Controller
	run     *blockingRun
	flusher *countingFlusher
	status  *status.Store
	marker  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		run:     newBlockingRun(),
		flusher: &countingFlusher{},
		status:  status.NewStore(filepath.Join(dir, "status.json"), logger.NewNopLogger()),
		marker:  filepath.Join(dir, "data", "scrape.lock"),
	}
	f.ctrl = NewController(Deps{
		Run:        f.run.Run,
		Status:     f.status,
		DeadLetter: f.flusher,
		MarkerPath: f.marker,
		Logger:     logger.NewNopLogger(),
	})
	return f
}

func (f *fixture) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.run.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Wait(ctx))
}

func TestStartRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateIdle, f.ctrl.State())

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	assert.Equal(t, StateRunning, f.ctrl.State())
	assert.FileExists(t, f.marker)
	assert.True(t, f.status.Read().Running)

	close(f.run.release)
	f.wait(t)

	assert.Equal(t, StateCompleted, f.ctrl.State())
	assert.NoFileExists(t, f.marker)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.flusher.flushed))

	rec := f.status.Read()
	assert.False(t, rec.Running)
	assert.Equal(t, string(StateCompleted), rec.State)
	assert.Equal(t, f.ctrl.RunID(), rec.RunID)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, status.Summary{Processed: 3, Skipped: 1}, *rec.Summary)
	assert.Contains(t, rec.Message, "Scrape complete")
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	runID := f.ctrl.RunID()
	before := f.status.Read()

	err := f.ctrl.Start("7", true)
	assert.ErrorIs(t, err, errs.ErrJobRunning)
	assert.Equal(t, runID, f.ctrl.RunID())
	assert.Equal(t, StateRunning, f.ctrl.State())
	after := f.status.Read()
	assert.Equal(t, before.RunID, after.RunID)
	assert.Equal(t, before.DryRun, after.DryRun)

	close(f.run.release)
	f.wait(t)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.run.calls))
}

func TestStartRejectedByLeftoverMarker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.marker), 0755))
	require.NoError(t, os.WriteFile(f.marker, []byte("pid=1\n"), 0644))

	err := f.ctrl.Start("all", false)
	assert.ErrorIs(t, err, errs.ErrUncleanShutdown)
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.FileExists(t, f.marker)

	removed, err := f.ctrl.ClearStaleMarker()
	require.NoError(t, err)
	assert.True(t, removed)

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	close(f.run.release)
	f.wait(t)
}

func TestClearStaleMarkerWhileRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)

	_, err := f.ctrl.ClearStaleMarker()
	assert.ErrorIs(t, err, errs.ErrJobRunning)
	assert.FileExists(t, f.marker)

	close(f.run.release)
	f.wait(t)
}

func TestStartRejectsInvalidDateRange(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.ctrl.Start("yesterday", false))
	assert.NoFileExists(t, f.marker)
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestRequestStop(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.ctrl.RequestStop(), "nothing to stop")

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)

	assert.True(t, f.ctrl.RequestStop())
	assert.True(t, f.ctrl.RequestStop(), "repeated requests are harmless")
	f.wait(t)

	assert.Equal(t, StateStoppedByUser, f.ctrl.State())
	rec := f.status.Read()
	assert.False(t, rec.Running)
	assert.Equal(t, string(StateStoppedByUser), rec.State)
	assert.NoFileExists(t, f.marker)
}

func TestFailedRunStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.run.err = errs.NewAuthError(errors.New("bad password"))

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	close(f.run.release)
	f.wait(t)

	assert.Equal(t, StateFailed, f.ctrl.State())
	assert.NoFileExists(t, f.marker)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.flusher.flushed))
	rec := f.status.Read()
	assert.False(t, rec.Running)
	assert.Equal(t, "Authentication failed: no login method succeeded", rec.Message)

	// lock released: a new job can start
	f.run.err = nil
	f.run.release = make(chan struct{})
	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	close(f.run.release)
	f.wait(t)
	assert.Equal(t, StateCompleted, f.ctrl.State())
}

func TestPanickingRunStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.run.panics = true

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	f.wait(t)

	assert.Equal(t, StateFailed, f.ctrl.State())
	assert.NoFileExists(t, f.marker)
	assert.Contains(t, f.status.Read().Message, "panicked")
}

func TestForbiddenMessage(t *testing.T) {
	f := newFixture(t)
	f.run.err = errs.NewForbiddenError("login_required")

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)
	close(f.run.release)
	f.wait(t)

	assert.Contains(t, f.status.Read().Message, "re-authenticate")
}

func TestDryRunSummary(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start("30", true))
	f.waitStarted(t)
	close(f.run.release)
	f.wait(t)

	rec := f.status.Read()
	require.NotNil(t, rec.Summary)
	assert.True(t, rec.Summary.DryRun)
	assert.Equal(t, "30", rec.DateRange)
	assert.Contains(t, rec.Message, "Dry run complete")
}

func TestSignalMapsToStop(t *testing.T) {
	f := newFixture(t)
	signals, stopListening := f.ctrl.NotifyStop(syscall.SIGUSR1)
	defer stopListening()

	require.NoError(t, f.ctrl.Start("all", false))
	f.waitStarted(t)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	select {
	case sig := <-signals:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not forwarded")
	}
	f.wait(t)
	assert.Equal(t, StateStoppedByUser, f.ctrl.State())
}
