// Package retry provides the resend loop collaborators use when a
// console does not answer on the first try.  The orchestrator itself
// never retries; a failed step ends the run.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that resending will not help,
// e.g. the console channel itself is gone.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries an operation with exponentially growing pauses.
type Backoff struct {
	// InitialDelay is the pause after the first failure (default 200ms).
	InitialDelay time.Duration
	// MaxDelay caps the pause (default 2s).
	MaxDelay time.Duration
	// Multiplier grows the pause each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts is the total number of tries including the first.
	// Zero means keep trying until the context ends, which is how
	// time-boxed handshakes use it.
	MaxAttempts int
}

// Do calls fn until it succeeds, returns a permanent error, runs out
// of attempts or ctx ends.  attempt is 1-based.  When ctx ends the
// last attempt's error is returned wrapped together with ctx.Err().
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	multiplier := b.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (%w)", err, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
