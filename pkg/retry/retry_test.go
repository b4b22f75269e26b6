package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig() Config {
	return Config{
		Name:         "test",
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	errFatal := errors.New("fatal")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(errFatal)
	})
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursRetryableFilter(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = []error{errTransient}

	calls := 0
	other := errors.New("other")
	err := Do(context.Background(), cfg, func() error {
		calls++
		return other
	})
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Do(context.Background(), cfg, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, cfg.MaxAttempts, calls)
}

func TestDoWithResult(t *testing.T) {
	n, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, Backoff(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, Backoff(cfg, 2))
	assert.Equal(t, 40*time.Millisecond, Backoff(cfg, 3))
	assert.Equal(t, 50*time.Millisecond, Backoff(cfg, 4))
	assert.Equal(t, 50*time.Millisecond, Backoff(cfg, 10))
}

func TestOnRetrySeesEachFailedAttempt(t *testing.T) {
	cfg := fastConfig()
	var attempts []int
	cfg.OnRetry = func(attempt int, err error) {
		assert.ErrorIs(t, err, errTransient)
		attempts = append(attempts, attempt)
	}

	err := Do(context.Background(), cfg, func() error { return errTransient })
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoReturnsLastErrorWhenContextEnds(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cfg.OnRetry = func(int, error) { cancel() }

	err := Do(ctx, cfg, func() error { return errTransient })
	assert.ErrorIs(t, err, errTransient)
}
