package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing dependency for a while once it has
// failed more than maxFailures times inside window. It never retries.
type CircuitBreaker struct {
	maxFailures     int
	window          time.Duration
	failures        []time.Time
	timeout         time.Duration
	lastFailureTime time.Time
	state           State
	isFailure       func(error) bool
	now             func() time.Time
	mu              sync.RWMutex
}

type Option func(*CircuitBreaker)

// WithFailureFilter decides which errors count against the breaker.
// Errors rejected by the filter are returned to the caller untouched.
func WithFailureFilter(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

func NewCircuitBreaker(maxFailures int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	return NewCircuitBreakerWithWindow(maxFailures, timeout, 60*time.Second, opts...)
}

// NewCircuitBreakerWithWindow builds a breaker. maxFailures <= 0 disables it:
// Execute then always calls fn.
func NewCircuitBreakerWithWindow(maxFailures int, timeout time.Duration, window time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures: maxFailures,
		window:      window,
		timeout:     timeout,
		state:       StateClosed,
		failures:    make([]time.Time, 0),
		isFailure:   func(err error) bool { return err != nil },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the breaker is open, in which case fallback runs
// instead (or ErrOpen is returned when fallback is nil). The lock is not held
// while fn or fallback run.
func (cb *CircuitBreaker) Execute(fn func() error, fallback func() error) error {
	if cb.maxFailures <= 0 {
		return fn()
	}

	allowed, trial := cb.allow()
	if !allowed {
		if fallback != nil {
			return fallback()
		}
		return ErrOpen
	}

	err := fn()
	cb.record(err, trial)
	return err
}

// allow admits every call while closed and a single trial call once the
// open timeout has passed. Everything else is rejected until the trial
// reports back.
func (cb *CircuitBreaker) allow() (allowed, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true, false
	case StateHalfOpen:
		// the trial call is still running
		return false, false
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
		return false, false
	}
	cb.state = StateHalfOpen
	cb.failures = cb.failures[:0]
	return true, true
}

func (cb *CircuitBreaker) record(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if err != nil && cb.isFailure(err) {
		cb.lastFailureTime = now
		if trial {
			cb.state = StateOpen
			return
		}
		cb.failures = append(cb.failures, now)
		cb.cleanOldFailures(now)
		if cb.state == StateClosed && len(cb.failures) > cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	cb.cleanOldFailures(now)

	if trial {
		cb.state = StateClosed
		cb.failures = cb.failures[:0]
	}
}

func (cb *CircuitBreaker) cleanOldFailures(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for i < len(cb.failures) && !cb.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = append(cb.failures[:0], cb.failures[i:]...)
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
