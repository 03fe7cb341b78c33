package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 35*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 35*time.Millisecond, b.Next())
	assert.Equal(t, 35*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestWaitReturnsOnCancel(t *testing.T) {
	b := NewBackoff(time.Minute, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	b := NewBackoff(time.Millisecond, 2*time.Millisecond)

	calls := 0
	err := Retry(context.Background(), b, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	b := NewBackoff(time.Millisecond, 2*time.Millisecond)

	boom := errors.New("down")
	calls := 0
	err := Retry(context.Background(), b, 4, func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	b := NewBackoff(time.Minute, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, b, 0, func() error {
		calls++
		cancel()
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
