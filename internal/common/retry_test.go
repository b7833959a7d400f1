package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/service"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(DefaultServiceDelays)
	assert.Equal(t, 4, b.MaxAttempts())

	var got []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, got)
	assert.Equal(t, 4, b.Attempt())
}

func TestRetryTransient(t *testing.T) {
	delays := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	transient := &TransientServiceError{StatusCode: 503, Err: ErrRateLimit}

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   error
	}{
		{name: "success first try", wantCalls: 1},
		{name: "transient then success", failures: []error{transient, transient}, wantCalls: 3},
		{name: "exhausted", failures: []error{transient, transient, transient, transient}, wantCalls: 4, wantErr: ErrMaxRetries},
		{name: "validation not retried", failures: []error{NewValidationError("code", "unknown")}, wantCalls: 1, wantErr: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryTransient(context.Background(), delays, func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetryTransient_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryTransient(ctx, []time.Duration{time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return ErrRateLimit
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("fatal"), Retryable: false}
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
