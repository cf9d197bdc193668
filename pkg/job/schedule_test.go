package job

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instasave/pkg/logger"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	_, err := NewScheduler(f.ctrl, "every tuesday", "all", logger.NewNopLogger())
	assert.Error(t, err)
}

func TestSchedulerTickStartsJob(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(f.ctrl, "@hourly", "7", logger.NewNopLogger())
	require.NoError(t, err)

	s.tick()
	f.waitStarted(t)
	assert.Equal(t, "7", f.status.Read().DateRange)

	// a tick while the job runs is skipped
	s.tick()
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.run.calls))

	close(f.run.release)
	f.wait(t)
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(f.ctrl, "*/5 * * * *", "all", logger.NewNopLogger())
	require.NoError(t, err)

	s.Start()
	<-s.Stop().Done()
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.run.calls))
}
