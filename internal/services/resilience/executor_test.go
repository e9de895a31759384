package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

type permanentError struct{}

func (permanentError) Error() string   { return "invalid input" }
func (permanentError) Retryable() bool { return false }

type transientError struct{}

func (transientError) Error() string   { return "503 service unavailable" }
func (transientError) Retryable() bool { return true }

func fastOptions(retries int) Options {
	return Options{
		Retries:       retries,
		Timeout:       time.Second,
		BackoffFactor: 2,
		BaseDelay:     10 * time.Millisecond,
		Jitter:        false,
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 3, opts.Retries)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 2.0, opts.BackoffFactor)
	assert.Equal(t, time.Second, opts.BaseDelay)
	assert.True(t, opts.Jitter)
}

func TestDefaultIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("something went wrong"), false},
		{"permanent error", permanentError{}, true},
		{"wrapped permanent error", errors.Join(errors.New("ctx"), permanentError{}), true},
		{"transient error", transientError{}, false},
		{"timeout error", &TimeoutError{Operation: "op"}, false},
		{"canceled", context.Canceled, true},
		{"breaker open", &circuitbreaker.OpenError{Name: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultIsTerminal(tt.err))
		})
	}
}

func TestDelay_NoJitter(t *testing.T) {
	opts := Options{BackoffFactor: 2, BaseDelay: time.Second, Jitter: false}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}

	previous := time.Duration(0)
	for _, tt := range tests {
		got := Delay(tt.attempt, opts)
		assert.Equal(t, tt.expected, got, "attempt %d", tt.attempt)
		assert.GreaterOrEqual(t, got, previous)
		previous = got
	}
}

func TestDelay_Jitter(t *testing.T) {
	opts := Options{BackoffFactor: 2, BaseDelay: time.Second, Jitter: true}

	for i := 0; i < 100; i++ {
		got := Delay(1, opts)
		assert.GreaterOrEqual(t, got, 2*time.Second)
		assert.Less(t, got, 3*time.Second)
	}
}

func TestExecute_Success(t *testing.T) {
	var calls int32
	value, err := Execute(context.Background(), "chat", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "hello", nil
	}, fastOptions(3))

	require.NoError(t, err)
	assert.Equal(t, "hello", value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_EventualSuccess(t *testing.T) {
	opts := fastOptions(2)

	var calls int32
	start := time.Now()
	value, err := Execute(context.Background(), "chat", func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return 0, transientError{}
		}
		return 42, nil
	}, opts)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.GreaterOrEqual(t, elapsed, Delay(0, opts)+Delay(1, opts))
}

func TestExecute_RetriesExhausted(t *testing.T) {
	var calls int32
	expectedErr := errors.New("persistent failure")
	_, err := Execute(context.Background(), "chat", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, expectedErr
	}, fastOptions(2))

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecute_TerminalErrorStopsRetries(t *testing.T) {
	var calls int32
	_, err := Execute(context.Background(), "chat", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, permanentError{}
	}, fastOptions(3))

	assert.ErrorIs(t, err, permanentError{})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_CustomIsTerminal(t *testing.T) {
	opts := fastOptions(3)
	opts.IsTerminal = func(error) bool { return true }

	var calls int32
	_, err := Execute(context.Background(), "chat", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, transientError{}
	}, opts)

	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_Timeout(t *testing.T) {
	opts := fastOptions(0)
	opts.Timeout = 20 * time.Millisecond

	_, err := Execute(context.Background(), "slow-op", func(ctx context.Context) (int, error) {
		// Ignores ctx on purpose
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	}, opts)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow-op", timeoutErr.Operation)
	assert.GreaterOrEqual(t, timeoutErr.Elapsed, 20*time.Millisecond)
	assert.True(t, timeoutErr.Retryable())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "slow-op")
}

func TestExecute_TimeoutIsRetried(t *testing.T) {
	opts := fastOptions(1)
	opts.Timeout = 20 * time.Millisecond

	var calls int32
	value, err := Execute(context.Background(), "op", func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "second", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "second", value)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_ContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := fastOptions(5)
	opts.BaseDelay = 200 * time.Millisecond

	var calls int32
	_, err := Execute(ctx, "op", func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()
		}
		return 0, transientError{}
	}, opts)

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_WithBreaker(t *testing.T) {
	breaker := circuitbreaker.New("backend", circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	opts := fastOptions(5)
	opts.Breaker = breaker

	var calls int32
	_, err := Execute(context.Background(), "op", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, transientError{}
	}, opts)

	// Two failures open the breaker; the third attempt is rejected and is terminal.
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestExecute_TimeoutCountsTowardBreaker(t *testing.T) {
	breaker := circuitbreaker.New("backend", circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	opts := fastOptions(0)
	opts.Timeout = 10 * time.Millisecond
	opts.Breaker = breaker

	_, err := Execute(context.Background(), "op", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, opts)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestExecute_ZeroRetries(t *testing.T) {
	var calls int32
	_, err := Execute(context.Background(), "op", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, transientError{}
	}, fastOptions(0))

	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_NoTimeoutRunsInline(t *testing.T) {
	opts := fastOptions(0)
	opts.Timeout = NoTimeout

	var deadlineSet bool
	value, err := Execute(context.Background(), "stream", func(ctx context.Context) (int, error) {
		_, deadlineSet = ctx.Deadline()
		time.Sleep(20 * time.Millisecond)
		return 7, nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.False(t, deadlineSet)
}

func TestExecute_CallerCancellationIsNotABreakerFailure(t *testing.T) {
	breaker := circuitbreaker.New("backend", circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	opts := fastOptions(0)
	opts.Breaker = breaker

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Execute(ctx, "op", func(ctx context.Context) (int, error) {
		cancel()
		return 0, transientError{}
	}, opts)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.Zero(t, breaker.Stats().TotalFailures)
}

func TestExecute_NeutralErrorsSkipBreaker(t *testing.T) {
	breaker := circuitbreaker.New("backend", circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	opts := fastOptions(0)
	opts.Breaker = breaker
	opts.IsNeutral = func(err error) bool {
		var p permanentError
		return errors.As(err, &p)
	}

	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), "op", func(ctx context.Context) (int, error) {
			return 0, permanentError{}
		}, opts)
		assert.ErrorAs(t, err, new(permanentError))
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	_, err := Execute(context.Background(), "op", func(ctx context.Context) (int, error) {
		return 0, transientError{}
	}, opts)
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}
