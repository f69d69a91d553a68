package generation

import (
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the recovery timeout has passed.
	CircuitOpen
	// CircuitHalfOpen lets calls through to test whether the API recovered.
	// One failure opens the breaker again.
	CircuitHalfOpen
)

// String implements fmt.Stringer.
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

// CircuitBreaker stops calls to the inference API after consecutive
// failures and lets one trial call through once recoveryTimeout has passed.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker applies defaults of 5 failures, 2 successes and 30s for
// non-positive arguments.
func NewCircuitBreaker(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may go out. An open breaker turns half-open
// once recoveryTimeout has passed since the last failure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current() != CircuitOpen
}

// RecordSuccess resets the failure count. In the half-open state enough
// successes close the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.current() != CircuitHalfOpen {
		cb.failures = 0
		return
	}
	if cb.successes++; cb.successes >= cb.successThreshold {
		cb.reset(CircuitClosed)
	}
}

// RecordFailure counts a failure. The breaker opens at the failure
// threshold, or at once when it is half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.current()
	cb.lastFailure = cb.now()
	if state == CircuitHalfOpen {
		cb.reset(CircuitOpen)
		return
	}
	if cb.failures++; cb.failures >= cb.failureThreshold {
		cb.reset(CircuitOpen)
	}
}

// State returns the current state, including a pending open to half-open
// transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// current applies the open to half-open transition. Callers hold mu.
func (cb *CircuitBreaker) current() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) > cb.recoveryTimeout {
		cb.reset(CircuitHalfOpen)
	}
	return cb.state
}

// reset enters state with cleared counters. Callers hold mu.
func (cb *CircuitBreaker) reset(state CircuitState) {
	cb.state = state
	cb.failures = 0
	cb.successes = 0
}
