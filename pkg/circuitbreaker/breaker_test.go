package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestNew(t *testing.T) {
	t.Run("with valid parameters", func(t *testing.T) {
		breaker := New("anthropic", Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Second})
		assert.Equal(t, 3, breaker.cfg.FailureThreshold)
		assert.Equal(t, 1, breaker.cfg.SuccessThreshold)
		assert.Equal(t, time.Second, breaker.cfg.ResetTimeout)
		assert.Equal(t, StateClosed, breaker.State())
		assert.Equal(t, "anthropic", breaker.Name())
	})

	t.Run("with zero values uses defaults", func(t *testing.T) {
		breaker := New("x", Config{})
		assert.Equal(t, DefaultConfig(), breaker.Config())
	})

	t.Run("with negative values uses defaults", func(t *testing.T) {
		breaker := New("x", Config{FailureThreshold: -1, SuccessThreshold: -2, ResetTimeout: -time.Second})
		assert.Equal(t, DefaultConfig(), breaker.Config())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestBreaker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	breaker := New("openai", Config{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: time.Second}, WithClock(clock.Now))

	t.Run("starts closed", func(t *testing.T) {
		assert.Equal(t, StateClosed, breaker.State())
		assert.True(t, breaker.CanExecute())
	})

	t.Run("stays closed under threshold", func(t *testing.T) {
		assert.ErrorIs(t, breaker.Execute(fail), errBoom)
		assert.ErrorIs(t, breaker.Execute(fail), errBoom)
		assert.Equal(t, StateClosed, breaker.State())
		assert.Equal(t, 2, breaker.Stats().FailureCount)
	})

	t.Run("opens when threshold reached", func(t *testing.T) {
		assert.ErrorIs(t, breaker.Execute(fail), errBoom)
		assert.Equal(t, StateOpen, breaker.State())
		assert.False(t, breaker.CanExecute())
	})

	t.Run("rejects during cooldown without calling fn", func(t *testing.T) {
		clock.Advance(400 * time.Millisecond)
		called := false
		err := breaker.Execute(func() error {
			called = true
			return nil
		})

		require.Error(t, err)
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrOpen)

		var openErr *OpenError
		require.ErrorAs(t, err, &openErr)
		assert.Equal(t, "openai", openErr.Name)
		assert.Equal(t, 600*time.Millisecond, openErr.Remaining)
		assert.False(t, openErr.Retryable())
		assert.Equal(t, StateOpen, breaker.State())
	})

	t.Run("half-open after cooldown", func(t *testing.T) {
		clock.Advance(600 * time.Millisecond)
		assert.True(t, breaker.CanExecute())
		// CanExecute must not move the state
		assert.Equal(t, StateOpen, breaker.State())

		require.NoError(t, breaker.Execute(succeed))
		assert.Equal(t, StateHalfOpen, breaker.State())
		assert.Equal(t, 1, breaker.Stats().SuccessCount)
	})

	t.Run("closes after success threshold", func(t *testing.T) {
		require.NoError(t, breaker.Execute(succeed))
		assert.Equal(t, StateClosed, breaker.State())
		assert.Equal(t, 0, breaker.Stats().FailureCount)
		assert.Equal(t, 0, breaker.Stats().SuccessCount)
	})
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := New("groq", Config{FailureThreshold: 1, SuccessThreshold: 3, ResetTimeout: time.Second}, WithClock(clock.Now))

	require.Error(t, breaker.Execute(fail))
	require.Equal(t, StateOpen, breaker.State())
	firstOpen := breaker.Stats().OpenedAt

	clock.Advance(time.Second)
	require.NoError(t, breaker.Execute(succeed))
	require.Equal(t, StateHalfOpen, breaker.State())

	clock.Advance(10 * time.Millisecond)
	assert.ErrorIs(t, breaker.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, breaker.State())

	stats := breaker.Stats()
	assert.True(t, stats.OpenedAt.After(firstOpen))
	assert.Equal(t, 0, stats.SuccessCount)
	assert.Equal(t, 0, stats.FailureCount)
}

func TestBreaker_SuccessResetsFailuresWhenClosed(t *testing.T) {
	breaker := New("x", Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Second})

	require.Error(t, breaker.Execute(fail))
	require.Error(t, breaker.Execute(fail))
	require.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, 0, breaker.Stats().FailureCount)

	require.Error(t, breaker.Execute(fail))
	require.Error(t, breaker.Execute(fail))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreaker_Stats(t *testing.T) {
	clock := newFakeClock()
	breaker := New("x", Config{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Minute}, WithClock(clock.Now))

	require.NoError(t, breaker.Execute(succeed))
	require.Error(t, breaker.Execute(fail))
	require.Error(t, breaker.Execute(fail))
	require.Error(t, breaker.Execute(succeed)) // rejected

	stats := breaker.Stats()
	assert.Equal(t, "OPEN", stats.State)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TotalFailures)
	assert.Equal(t, clock.Now(), stats.LastFailureTime)
	assert.Equal(t, clock.Now(), stats.LastStateChange)
}

func TestBreaker_Run(t *testing.T) {
	breaker := New("x", Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})

	value, err := Run(breaker, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", value)

	_, err = Run(breaker, func() (string, error) { return "", errBoom })
	assert.ErrorIs(t, err, errBoom)

	value, err = Run(breaker, func() (string, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Empty(t, value)
}

func TestBreaker_ExecuteIgnoring(t *testing.T) {
	breaker := New("x", Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})
	ignoreBoom := func(err error) bool { return errors.Is(err, errBoom) }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, breaker.ExecuteIgnoring(func() error { return errBoom }, ignoreBoom), errBoom)
	}
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, int64(3), breaker.Stats().TotalRequests)
	assert.Zero(t, breaker.Stats().TotalFailures)

	other := errors.New("backend down")
	assert.ErrorIs(t, breaker.ExecuteIgnoring(func() error { return other }, ignoreBoom), other)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	hook := func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}
	breaker := New("ollama", Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Second},
		WithClock(clock.Now), WithStateChangeHook(hook))

	require.Error(t, breaker.Execute(fail))
	clock.Advance(time.Second)
	require.NoError(t, breaker.Execute(succeed))

	assert.Equal(t, []string{
		"ollama:CLOSED->OPEN",
		"ollama:OPEN->HALF_OPEN",
		"ollama:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestBreaker_Reset(t *testing.T) {
	breaker := New("x", Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Hour})
	require.Error(t, breaker.Execute(fail))
	require.Equal(t, StateOpen, breaker.State())

	breaker.Reset()
	assert.Equal(t, StateClosed, breaker.State())
	assert.NoError(t, breaker.Execute(succeed))
}

func TestBreaker_WallClockCooldown(t *testing.T) {
	breaker := New("x", Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: 50 * time.Millisecond})
	require.Error(t, breaker.Execute(fail))
	assert.False(t, breaker.CanExecute())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, breaker.CanExecute())
	assert.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreaker_Concurrent(t *testing.T) {
	breaker := New("x", Config{FailureThreshold: 1000, SuccessThreshold: 1, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = breaker.Execute(fail)
			} else {
				_ = breaker.Execute(succeed)
			}
		}(i)
	}
	wg.Wait()

	stats := breaker.Stats()
	assert.Equal(t, int64(50), stats.TotalRequests)
	assert.Equal(t, int64(25), stats.TotalFailures)
	assert.Equal(t, StateClosed, breaker.State())
}
