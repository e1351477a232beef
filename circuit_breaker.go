package cloudblob

import (
	"context"
	"sync"
	"time"
)

// Circuit breaker states
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half-open"
)

// CircuitBreaker stops calling a dependency after repeated failures.
//
// States:
//   - closed: requests pass through
//   - open: requests fail fast with ErrBackendUnavailable
//   - half-open: after resetTimeout one probe is let through; success closes
//     the circuit, failure reopens it
//
// RedisCache wraps every command in a breaker so a Redis outage degrades
// reads to the backend instead of stalling them.
type CircuitBreaker struct {
	mu            sync.RWMutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailTime  time.Time
	state         string
	onStateChange func(from, to string)
}

// NewCircuitBreaker creates a circuit breaker that opens after maxFailures
// consecutive failures and probes again after resetTimeout.
//
//	cb := NewCircuitBreaker(5, 30*time.Second)
//	err := cb.Execute(ctx, func() error {
//	    return client.Get(ctx, key).Err()
//	})
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = DefaultBreakerMaxFailures
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultBreakerResetTimeout
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// WithStateChangeCallback adds a callback for state transitions.
// The callback runs with the breaker lock held and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to string)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrBackendUnavailable if the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason": "circuit breaker is open",
			"state":  cb.State(),
		})
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// ExecuteIgnoring runs fn like Execute but does not count errors matched by
// ignore as failures. Used for expected outcomes such as a cache miss.
func (cb *CircuitBreaker) ExecuteIgnoring(ctx context.Context, ignore func(error) bool, fn func() error) error {
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason": "circuit breaker is open",
			"state":  cb.State(),
		})
	}

	err := fn()
	if err != nil && ignore != nil && ignore(err) {
		cb.recordResult(nil)
	} else {
		cb.recordResult(err)
	}
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.lastFailTime) > cb.resetTimeout {
			cb.setState(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()

		if cb.state == BreakerHalfOpen || (cb.failures >= cb.maxFailures && cb.state != BreakerOpen) {
			cb.setState(BreakerOpen)
		}
		return
	}

	if cb.state == BreakerHalfOpen {
		cb.setState(BreakerClosed)
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) setState(newState string) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(oldState, newState)
	}
}

// State returns the current state (closed, open, or half-open)
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(BreakerClosed)
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}
