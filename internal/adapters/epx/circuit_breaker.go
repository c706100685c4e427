package epx

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

var (
	// ErrCircuitOpen is returned while the gateway is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe slot is taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures before opening
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration
	// MaxRequestsHalfOpen is how many probes may run while half-open
	MaxRequestsHalfOpen uint32
	// OnStateChange, if set, is called with the lock held; it must not block
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the production defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Cooldown:            30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker stops calls to the gateway after repeated transport
// failures. It never re-issues a call; a rejected call simply fails fast.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failures         uint32
	requestsHalfOpen uint32
	changedAt        time.Time
	config           CircuitBreakerConfig
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		state:     StateClosed,
		changedAt: time.Now(),
		config:    config,
		now:       time.Now,
	}
}

// Call runs fn if the circuit allows it and records whether fn failed
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.changedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.requestsHalfOpen++
		return nil
	case StateHalfOpen:
		if cb.requestsHalfOpen >= cb.config.MaxRequestsHalfOpen {
			return ErrTooManyRequests
		}
		cb.requestsHalfOpen++
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		// any success closes a half-open circuit and clears the streak
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.changedAt = cb.now()
	cb.requestsHalfOpen = 0
	if next != StateOpen {
		cb.failures = 0
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(prev, next)
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
