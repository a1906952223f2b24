package ai

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed indicates the circuit is allowing requests to pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit is blocking requests due to failures.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is probing recovery with limited requests.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state.
func (cs CircuitState) String() string {
	switch cs {
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

// CircuitBreaker guards an analysis provider against hammering an upstream
// that is already failing. It opens after a run of consecutive failures,
// rejects calls while open, and after a cooldown lets a single probe through
// (half-open). A successful probe closes the circuit; a failed one reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	provider         string
	failureThreshold int
	cooldown         time.Duration
	state            CircuitState
	failureCount     int
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a breaker for the named provider. A threshold or
// cooldown of zero falls back to 3 consecutive failures and 30 seconds.
func NewCircuitBreaker(provider string, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		provider:         provider,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            CircuitClosed,
	}
}

// ShouldAttempt reports whether a request may proceed. While open, it flips
// to half-open once the cooldown since the last failure has elapsed, allowing
// exactly that caller through as the recovery probe.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) < cb.cooldown {
			return false
		}
		cb.state = CircuitHalfOpen
		slog.Info("circuit breaker half-open, probing recovery",
			slog.String("provider", cb.provider),
			slog.Duration("cooldown", cb.cooldown))
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != CircuitClosed {
		cb.state = CircuitClosed
		slog.Info("circuit breaker closed after successful recovery",
			slog.String("provider", cb.provider))
	}
}

// RecordFailure records a failed request. A failure during the half-open
// probe reopens the circuit immediately; in the closed state the circuit
// opens once the consecutive-failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
		slog.Warn("circuit breaker opened due to consecutive failures",
			slog.String("provider", cb.provider),
			slog.Int("failure_count", cb.failureCount),
			slog.Int("threshold", cb.failureThreshold))
	}
}

// GetState returns the current circuit state.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
