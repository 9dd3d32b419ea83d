package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New("test", WithFailureThreshold(2), WithTimeout(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []State
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(time.Minute),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock.Advance(time.Minute)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock.Advance(time.Minute)
	require.Error(t, cb.Execute(ctx, fail))

	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestMoodleAPIBreaker_IgnoresCancellation(t *testing.T) {
	cb := MoodleAPIBreaker(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 5, cb.Counts().TotalSuccesses)
}
