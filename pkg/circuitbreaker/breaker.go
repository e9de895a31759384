package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the position of a breaker in its CLOSED -> OPEN -> HALF_OPEN cycle
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen matches every *OpenError via errors.Is
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute while the breaker is open and its cooldown has not elapsed
type OpenError struct {
	Name      string
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Name, e.Remaining.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Retryable reports false: retrying an open breaker only burns the cooldown
func (e *OpenError) Retryable() bool {
	return false
}

// Config holds breaker thresholds
type Config struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	SuccessThreshold int           // Consecutive half-open successes that close it
	ResetTimeout     time.Duration // Cooldown before a half-open probe is allowed
}

// DefaultConfig returns the thresholds used when a value is missing
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	return c
}

// StateChangeHook is called after every transition, outside the breaker lock
type StateChangeHook func(name string, from, to State)

// Option customizes a Breaker
type Option func(*Breaker)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStateChangeHook registers a transition callback
func WithStateChangeHook(hook StateChangeHook) Option {
	return func(b *Breaker) {
		b.onStateChange = hook
	}
}

// Stats is a point-in-time copy of a breaker's counters
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

// Breaker is a consecutive-failure circuit breaker.
//
// The OPEN -> HALF_OPEN transition is checked lazily when a call arrives;
// there is no background timer.
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config

	state           State
	failureCount    int
	successCount    int
	totalRequests   int64
	totalFailures   int64
	openedAt        time.Time
	lastFailureTime time.Time
	lastStateChange time.Time

	now           func() time.Time
	onStateChange StateChangeHook
}

// New creates a closed breaker. Non-positive thresholds fall back to DefaultConfig.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastStateChange = b.now()
	return b
}

// Name returns the identifier the breaker was created with
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the effective thresholds
func (b *Breaker) Config() Config {
	return b.cfg
}

// Execute runs fn unless the circuit is open. fn's error is returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteIgnoring(fn, nil)
}

// ExecuteIgnoring is Execute, except that errors matched by ignore count as
// neither a success nor a failure.
func (b *Breaker) ExecuteIgnoring(fn func() error, ignore func(error) bool) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	switch {
	case err == nil:
		b.OnSuccess()
	case ignore != nil && ignore(err):
	default:
		b.OnFailure()
	}
	return err
}

// Run is Execute for functions that return a value
func Run[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// CanExecute reports whether a call would currently be let through. It does not change state.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	return b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout
}

// State returns the current state without applying the lazy cooldown check
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnSuccess records a successful call
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	var notify func()
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			notify = b.setStateLocked(StateClosed)
		}
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// OnFailure records a failed call
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	now := b.now()
	b.totalFailures++
	b.lastFailureTime = now

	var notify func()
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			notify = b.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		notify = b.setStateLocked(StateOpen)
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Reset forces the breaker back to CLOSED
func (b *Breaker) Reset() {
	b.mu.Lock()
	var notify func()
	if b.state != StateClosed {
		notify = b.setStateLocked(StateClosed)
	}
	b.failureCount = 0
	b.successCount = 0
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Stats returns a copy of the counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TotalRequests:   b.totalRequests,
		TotalFailures:   b.totalFailures,
		OpenedAt:        b.openedAt,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	var notify func()
	if b.state == StateOpen {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return &OpenError{Name: b.name, Remaining: b.cfg.ResetTimeout - elapsed}
		}
		notify = b.setStateLocked(StateHalfOpen)
	}
	b.totalRequests++
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// setStateLocked resets the consecutive counters for the new state and returns
// the hook invocation to run once the lock is released.
func (b *Breaker) setStateLocked(to State) func() {
	from := b.state
	now := b.now()

	b.state = to
	b.lastStateChange = now
	b.failureCount = 0
	b.successCount = 0
	if to == StateOpen {
		b.openedAt = now
	}

	if b.onStateChange == nil || from == to {
		return nil
	}
	hook, name := b.onStateChange, b.name
	return func() { hook(name, from, to) }
}
