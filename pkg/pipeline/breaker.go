package pipeline

import (
	"sync/atomic"
	"time"
)

// CircuitBreakerState is the current state of a delivery circuit breaker.
type CircuitBreakerState int32

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards live delivery to one session. After threshold
// consecutive failures the breaker opens and deliveries are skipped until the
// cooldown elapses; the first attempt after cooldown probes in half-open
// state. Skipped deliveries are soft failures — the message is already
// durable and the session recovers via history fetch.
type CircuitBreaker struct {
	threshold   int64
	cooldown    time.Duration
	failures    atomic.Int64
	state       atomic.Int32
	lastFailure atomic.Int64 // unix nanos
}

// NewCircuitBreaker creates a closed breaker that opens after threshold
// failures and probes again after cooldownSeconds.
func NewCircuitBreaker(threshold, cooldownSeconds int) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: int64(threshold),
		cooldown:  time.Duration(cooldownSeconds) * time.Second,
	}
}

// Allow reports whether a delivery attempt may proceed. When the breaker is
// open and the cooldown has elapsed it transitions to half-open and allows a
// single probe.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitBreakerState(cb.state.Load()) {
	case CircuitBreakerClosed, CircuitBreakerHalfOpen:
		return true
	case CircuitBreakerOpen:
		last := time.Unix(0, cb.lastFailure.Load())
		if time.Since(last) >= cb.cooldown {
			cb.state.Store(int32(CircuitBreakerHalfOpen))
			return true
		}
		return false
	default:
		return false
	}
}

// RecordFailure counts a failed delivery. Crossing the threshold, or failing
// the half-open probe, opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.lastFailure.Store(time.Now().UnixNano())
	if CircuitBreakerState(cb.state.Load()) == CircuitBreakerHalfOpen {
		cb.state.Store(int32(CircuitBreakerOpen))
		return
	}
	if cb.failures.Add(1) >= cb.threshold {
		cb.state.Store(int32(CircuitBreakerOpen))
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(int32(CircuitBreakerClosed))
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}
