package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/ledgerline/internal/service"
)

var (
	// ErrRateLimit indicates that the API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// DefaultServiceDelays is the wait schedule between attempts against the
// reasoning service after a rate-limit or overload response.
var DefaultServiceDelays = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// Backoff is the retry state for a single external call: how many attempts
// were made and how long to wait before the next one.
type Backoff struct {
	delays  []time.Duration
	attempt int
}

// NewBackoff creates a backoff that allows one initial attempt plus one retry
// per entry in delays.
func NewBackoff(delays []time.Duration) *Backoff {
	return &Backoff{delays: delays}
}

// Attempt returns the number of attempts recorded so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// MaxAttempts returns the total attempts this backoff allows.
func (b *Backoff) MaxAttempts() int {
	return len(b.delays) + 1
}

// Next records a failed attempt and returns the delay before the next one.
// ok is false once the schedule is exhausted.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	b.attempt++
	if b.attempt > len(b.delays) {
		return 0, false
	}
	return b.delays[b.attempt-1], true
}

// RetryTransient runs op, retrying only transient service errors according
// to the delay schedule. Any other error is returned immediately. Exhausting
// the schedule returns a TransientServiceError wrapping ErrMaxRetries.
func RetryTransient(ctx context.Context, delays []time.Duration, op func(ctx context.Context) error) error {
	backoff := NewBackoff(delays)

	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		delay, ok := backoff.Next()
		if !ok {
			return &TransientServiceError{
				Err: fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, backoff.Attempt(), err),
			}
		}

		slog.Warn("Transient service error, backing off",
			"attempt", backoff.Attempt(),
			"max_attempts", backoff.MaxAttempts(),
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WithRetry executes an operation with configurable retry behavior.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		var retryableErr *RetryableError
		if errors.As(err, &retryableErr) && !retryableErr.Retryable {
			return err
		}

		if errors.Is(err, ErrRateLimit) {
			delay = opts.MaxDelay
		}

		if attempt == opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, opts.MaxAttempts, err)
		}

		slog.Warn("Operation failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * opts.Multiplier)
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}
	}

	return ErrMaxRetries
}
