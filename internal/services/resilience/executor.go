// Package resilience wraps a single logical operation with bounded retries,
// a per-attempt timeout, exponential backoff with jitter and optional circuit
// breaking. It keeps no state of its own between calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

// Func is the operation being protected. It must honor ctx.
type Func[T any] func(ctx context.Context) (T, error)

// NoTimeout disables the per-attempt budget; the caller's ctx still applies.
// Streams use it because a healthy stream may outlive any fixed budget.
const NoTimeout time.Duration = -1

// Options defines retry behavior for one Execute call
type Options struct {
	Retries       int           // Retries after the first attempt
	Timeout       time.Duration // Budget for each attempt; zero means default, NoTimeout disables
	BackoffFactor float64       // Base of the exponential backoff
	BaseDelay     time.Duration // Delay unit; attempt n waits BaseDelay * BackoffFactor^n
	Jitter        bool          // Add up to one BaseDelay of random delay

	// Breaker, when set, gates every attempt and observes its outcome
	Breaker *circuitbreaker.Breaker

	// IsTerminal stops retrying early. Defaults to DefaultIsTerminal.
	IsTerminal func(error) bool

	// IsNeutral marks errors the breaker must not count. Failures after the
	// caller's ctx is done are always neutral.
	IsNeutral func(error) bool

	Logger *zap.Logger
}

// DefaultOptions returns 3 retries, 30s per attempt, factor 2 with jitter
func DefaultOptions() Options {
	return Options{
		Retries:       3,
		Timeout:       30 * time.Second,
		BackoffFactor: 2,
		BaseDelay:     time.Second,
		Jitter:        true,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Timeout == 0 {
		o.Timeout = def.Timeout
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = def.BackoffFactor
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.IsTerminal == nil {
		o.IsTerminal = DefaultIsTerminal
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// TimeoutError reports an attempt that exceeded its budget
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (limit %s)", e.Operation, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Retryable is always true for timeouts
func (e *TimeoutError) Retryable() bool {
	return true
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// retryClassifier is implemented by errors that know whether retrying can help
type retryClassifier interface {
	Retryable() bool
}

// DefaultIsTerminal treats caller cancellation and any error reporting
// Retryable() == false as terminal. Unclassified errors are retried.
func DefaultIsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	var classified retryClassifier
	if errors.As(err, &classified) {
		return !classified.Retryable()
	}
	return false
}

// Delay returns the wait before the attempt following attempt n (0-based)
func Delay(attempt int, opts Options) time.Duration {
	opts = opts.normalize()
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(opts.BaseDelay) * math.Pow(opts.BackoffFactor, float64(attempt)))
	if opts.Jitter {
		delay += time.Duration(rand.Int63n(int64(opts.BaseDelay)))
	}
	return delay
}

// Execute runs fn up to Retries+1 times and returns the first success or the
// last error observed.
func Execute[T any](ctx context.Context, operation string, fn Func[T], opts Options) (T, error) {
	opts = opts.normalize()

	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := runGated(ctx, operation, fn, opts)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if opts.IsTerminal(err) {
			opts.Logger.Debug("Terminal error, not retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return zero, err
		}

		if attempt == opts.Retries {
			break
		}

		delay := Delay(attempt, opts)
		opts.Logger.Debug("Attempt failed, backing off",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

func runGated[T any](ctx context.Context, operation string, fn Func[T], opts Options) (T, error) {
	attempt := func() (T, error) {
		return runWithTimeout(ctx, operation, opts.Timeout, fn)
	}
	if opts.Breaker == nil {
		return attempt()
	}

	neutral := func(err error) bool {
		return ctx.Err() != nil || (opts.IsNeutral != nil && opts.IsNeutral(err))
	}

	var value T
	err := opts.Breaker.ExecuteIgnoring(func() error {
		var err error
		value, err = attempt()
		return err
	}, neutral)
	return value, err
}

// runWithTimeout races fn against the attempt timer so that an fn ignoring
// ctx still produces a TimeoutError on schedule.
func runWithTimeout[T any](ctx context.Context, operation string, timeout time.Duration, fn Func[T]) (T, error) {
	if timeout < 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		value, err := fn(attemptCtx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, &TimeoutError{Operation: operation, Timeout: timeout, Elapsed: time.Since(start)}
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &TimeoutError{Operation: operation, Timeout: timeout, Elapsed: time.Since(start)}
	}
}
