package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func TestRetrier_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	r := New(WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithJitter(0))

	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_StopsOnPlainError(t *testing.T) {
	attempts := 0
	err := New(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
		attempts++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ReturnsUnwrappedErrorAfterLastAttempt(t *testing.T) {
	attempts := 0
	err := New(WithMaxAttempts(2), WithInitialDelay(time.Millisecond)).Do(context.Background(), func(context.Context) error {
		attempts++
		return Retryable(errFlaky)
	})

	assert.Equal(t, errFlaky, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 2, attempts)
}

func TestRetrier_HonoursRetryAfter(t *testing.T) {
	var delays []time.Duration
	r := New(
		WithMaxAttempts(2),
		WithMaxDelay(50*time.Millisecond),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }),
	)

	_ = r.Do(context.Background(), func(context.Context) error {
		return RetryAfter(errFlaky, time.Hour)
	})

	assert.Equal(t, []time.Duration{50 * time.Millisecond}, delays)
}

func TestRetrier_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
