package model

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/odvcencio/browserbridge/pkg/logging"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks all requests
	CircuitOpen
	// CircuitHalfOpen allows a test request to check if service recovered
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
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

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit
	MaxFailures uint32
	// ResetTimeout is the duration to wait before transitioning from open to half-open
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing model endpoint until it has had
// time to recover.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    logrus.FieldLogger

	state           CircuitState
	failureCount    uint32
	lastFailureTime time.Time

	mu sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig, log logrus.FieldLogger) *CircuitBreaker {
	if log == nil {
		log = logging.NullLogger()
	}
	return &CircuitBreaker{
		config: config,
		log:    log,
		state:  CircuitClosed,
	}
}

// DefaultCircuitBreaker creates a circuit breaker with default settings
func DefaultCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreaker(DefaultCircuitBreakerConfig(), nil)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state.String()
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}
}

// Call runs fn unless the circuit is open. Errors for which ignore returns
// true are passed through without counting as failures.
func (cb *CircuitBreaker) Call(fn func() error, ignore ...func(error) bool) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailureTime) >= cb.config.ResetTimeout {
			cb.state = CircuitHalfOpen
			cb.failureCount = 0
			cb.log.WithField("reset_timeout", cb.config.ResetTimeout).Debug("circuit breaker half-open")
		} else {
			since := time.Since(cb.lastFailureTime)
			cb.mu.Unlock()
			return fmt.Errorf("%w (last failure: %v ago)", ErrCircuitOpen, since.Round(time.Millisecond))
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		for _, skip := range ignore {
			if skip(err) {
				return err
			}
		}
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// Must be called with lock held
func (cb *CircuitBreaker) recordFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.log.Warn("circuit breaker reopened after failed probe")
	case CircuitClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.state = CircuitOpen
			cb.log.WithField("failures", cb.failureCount).Warn("circuit breaker opened")
		}
	}
}

// Must be called with lock held
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failureCount = 0
		cb.lastFailureTime = time.Time{}
		cb.log.Info("circuit breaker closed")
	case CircuitClosed:
		cb.failureCount = 0
	}
}

// FailureCount returns the current failure count (for testing/monitoring)
func (cb *CircuitBreaker) FailureCount() uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failureCount
}
