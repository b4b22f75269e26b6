package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("judge", Config{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		OnStateChange: func(_ string, _ State, to State) {
			transitions = append(transitions, to)
		},
	})

	boom := errors.New("boom")
	ctx := context.Background()
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("judge", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         time.Second,
	})
	cb.now = func() time.Time { return now }

	ctx := context.Background()
	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("judge", Config{FailureThreshold: 1})
	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestHalfOpenAdmitsLimitedRequests(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("kafka", Config{
		FailureThreshold: 1,
		MaxRequests:      1,
		Cooldown:         time.Second,
	})
	cb.now = func() time.Time { return now }

	ctx := context.Background()
	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	now = now.Add(2 * time.Second)

	var nested error
	require.NoError(t, cb.Execute(ctx, func() error {
		nested = cb.Execute(ctx, func() error { return nil })
		return nil
	}))
	assert.ErrorIs(t, nested, ErrTooManyRequests)
}

func TestPanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("judge", Config{FailureThreshold: 1})
	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("judge crashed") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestWindowResetsClosedCounters(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("llm", Config{FailureThreshold: 2, Window: time.Minute})
	cb.now = func() time.Time { return now }

	ctx := context.Background()
	_ = cb.Execute(ctx, func() error { return errors.New("slow") })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(ctx, func() error { return errors.New("slow") })

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}
