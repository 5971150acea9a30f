package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the breaker tripped and calls are rejected.
	CircuitOpen
	// CircuitHalfOpen means one probe call is in flight.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the guarded dependency in error messages.
	Name string
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe is allowed.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns defaults for an upstream provider.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:       name,
		Threshold:  3,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker trips open after N consecutive failures and lets a single
// probe through once ResetAfter has elapsed.
type CircuitBreaker struct {
	mu               sync.RWMutex
	name             string
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = 1
	}
	return &CircuitBreaker{
		name:       config.Name,
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a call may proceed. The returned error wraps
// ErrCircuitOpen when the call is rejected.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("%w: %s failed %d times, last failure %v ago",
			ErrCircuitOpen, cb.name, cb.consecutiveFails, since.Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("%w: %s probe in flight", ErrCircuitOpen, cb.name)
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count and trips the circuit if the
// threshold is reached. A failed probe reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}
	if cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// Record calls RecordSuccess or RecordFailure depending on err.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFails
}
