package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "instasave/pkg/errors"
)

func noDelay(attempts int) *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.Backoff = &ConstantBackoff{}
	return cfg
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{9, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, time.Second)
	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 180*time.Millisecond)
		assert.LessOrEqual(t, d, 220*time.Millisecond)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errs.FromStatusCode(http.StatusBadGateway, "bad gateway")
		}
		return nil
	}, noDelay(3))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errs.New(errs.ErrorTypeNetwork, 0, "connection refused")
	}, noDelay(3))

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusBadRequest} {
		attempts := 0
		err := Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errs.FromStatusCode(code, "client error")
		}, noDelay(3))

		require.Error(t, err)
		assert.Equal(t, 1, attempts, "status %d", code)
	}
}

func TestDoRetriesRateLimit(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errs.FromStatusCode(http.StatusTooManyRequests, "slow down")
	}, noDelay(2))
	assert.Equal(t, 2, attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.Backoff = &ConstantBackoff{Delay: time.Minute}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { cancel() }

	attempts := 0
	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		return errs.New(errs.ErrorTypeServerError, 503, "unavailable")
	}, cfg)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, attempts)
}

func TestDoCustomRetryIf(t *testing.T) {
	sentinel := errors.New("flaky")
	cfg := noDelay(4)
	cfg.RetryIf = func(err error) bool { return errors.Is(err, sentinel) }

	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return sentinel
	}, cfg)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, attempts)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", context.DeadlineExceeded
		}
		return "media/2024-01-01/1.jpg", nil
	}, noDelay(3))

	require.NoError(t, err)
	assert.Equal(t, "media/2024-01-01/1.jpg", got)
	assert.Equal(t, 2, calls)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
