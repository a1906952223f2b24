package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewCircuitBreaker(t *testing.T) {
	t.Run("applies explicit settings", func(t *testing.T) {
		cb := NewCircuitBreaker("gemini", 5, time.Minute)
		assert.Equal(t, "gemini", cb.provider)
		assert.Equal(t, CircuitClosed, cb.state)
		assert.Equal(t, 5, cb.failureThreshold)
		assert.Equal(t, time.Minute, cb.cooldown)
	})

	t.Run("falls back to defaults for zero values", func(t *testing.T) {
		cb := NewCircuitBreaker("gemini", 0, 0)
		assert.Equal(t, 3, cb.failureThreshold)
		assert.Equal(t, 30*time.Second, cb.cooldown)
	})
}

func TestCircuitBreaker_ShouldAttempt(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*CircuitBreaker)
		expected bool
	}{
		{
			name:     "closed circuit allows attempts",
			setup:    func(cb *CircuitBreaker) {},
			expected: true,
		},
		{
			name: "open circuit blocks attempts before cooldown",
			setup: func(cb *CircuitBreaker) {
				cb.state = CircuitOpen
				cb.lastFailureTime = time.Now()
			},
			expected: false,
		},
		{
			name: "open circuit allows a probe after cooldown",
			setup: func(cb *CircuitBreaker) {
				cb.state = CircuitOpen
				cb.lastFailureTime = time.Now().Add(-35 * time.Second)
			},
			expected: true,
		},
		{
			name: "half-open circuit allows attempts",
			setup: func(cb *CircuitBreaker) {
				cb.state = CircuitHalfOpen
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
			tt.setup(cb)
			assert.Equal(t, tt.expected, cb.ShouldAttempt())
		})
	}
}

func TestCircuitBreaker_TransitionsToHalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
	cb.state = CircuitOpen
	cb.lastFailureTime = time.Now().Add(-time.Minute)

	assert.True(t, cb.ShouldAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())
}

func TestCircuitBreaker_RecordSuccess(t *testing.T) {
	t.Run("resets failure count", func(t *testing.T) {
		cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
		cb.failureCount = 2
		cb.RecordSuccess()
		assert.Equal(t, 0, cb.failureCount)
	})

	t.Run("closes circuit after half-open probe succeeds", func(t *testing.T) {
		cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
		cb.state = CircuitHalfOpen
		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.GetState())
	})
}

func TestCircuitBreaker_RecordFailure(t *testing.T) {
	t.Run("opens circuit when threshold reached", func(t *testing.T) {
		cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
		cb.RecordFailure()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.GetState())
		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.GetState())
	})

	t.Run("reopens immediately when half-open probe fails", func(t *testing.T) {
		cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
		cb.state = CircuitHalfOpen
		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.GetState())
	})
}

func TestCircuitBreaker_FullRecoveryCycle(t *testing.T) {
	cb := NewCircuitBreaker("openai", 2, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.ShouldAttempt())

	// Cooldown elapses; the next caller becomes the probe.
	cb.lastFailureTime = time.Now().Add(-time.Minute)
	assert.True(t, cb.ShouldAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.True(t, cb.ShouldAttempt())
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("gemini", 3, 30*time.Second)
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = cb.ShouldAttempt()
				_ = cb.GetState()
			}
			done <- true
		}()
	}

	for i := 0; i < 5; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cb.RecordSuccess()
				cb.RecordFailure()
			}
			done <- true
		}()
	}

	for i := 0; i < 15; i++ {
		<-done
	}
}
