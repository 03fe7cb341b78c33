package resilience

import (
	"context"
	"time"
)

// Backoff produces exponentially growing wait intervals with a cap.
// Zero value is not usable; construct with NewBackoff.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff creates a backoff starting at initial and doubling up to max
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{
		initial: initial,
		max:     max,
		next:    initial,
	}
}

// Next returns the wait interval to use and advances the backoff
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset returns the backoff to its initial interval
func (b *Backoff) Reset() {
	b.next = b.initial
}

// Wait sleeps for the next backoff interval, or returns early with the
// context error if ctx is cancelled first
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn until it succeeds, ctx is cancelled, or maxAttempts is
// reached (maxAttempts <= 0 means unbounded). The backoff is reset before
// the first attempt.
func Retry(ctx context.Context, b *Backoff, maxAttempts int, fn func() error) error {
	b.Reset()

	var lastErr error
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if err := b.Wait(ctx); err != nil {
			return err
		}
	}

	return lastErr
}
