// Package breaker implements the three-state circuit breaker (C9): a
// failure gate guarding a wrapped call, grounded on the teacher's
// pkg/vmcp/health circuit breaker (same call surface: NewCircuitBreaker,
// GetState, GetFailureCount, CanAttempt, RecordSuccess, RecordFailure,
// GetLastStateChange, GetSnapshot), generalized with spec.md 4.9's
// half-open success_threshold (the teacher's test closes on a single
// half-open success; this spec requires N consecutive successes — see
// DESIGN.md).
package breaker

import (
	"sync"
	"time"

	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

// State is one of the three circuit breaker states.
type State int

const (
	CircuitClosed State = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s State) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time, lock-free copy of the breaker's state,
// returned by GetSnapshot for introspection/logging.
type Snapshot struct {
	State           State
	FailureCount    int
	SuccessCount    int
	LastStateChange time.Time
	LastFailureTime time.Time
}

// CircuitBreaker guards a wrapped call behind the closed/open/half-open
// state machine described in spec.md section 4.9. All state mutation is
// serialized under a single mutex (section 5: "no torn reads, no lost
// updates").
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration

	state           State
	failureCount    int
	successCount    int
	lastStateChange time.Time
	lastFailureTime time.Time

	// halfOpenProbeInFlight is true while a single half-open trial call is
	// outstanding; it gates CanAttempt so only one probe runs at a time.
	halfOpenProbeInFlight bool
}

// NewCircuitBreaker constructs a breaker that opens after failureThreshold
// consecutive failures while closed, waits resetTimeout before allowing a
// half-open probe, and requires successThreshold consecutive half-open
// successes to close again.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, successThreshold int) *CircuitBreaker {
	if successThreshold < 1 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:      resetTimeout,
		state:             CircuitClosed,
		lastStateChange:   time.Now(),
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetFailureCount returns the consecutive-failure counter.
func (cb *CircuitBreaker) GetFailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// GetLastStateChange returns the timestamp of the most recent state
// transition.
func (cb *CircuitBreaker) GetLastStateChange() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastStateChange
}

// GetSnapshot returns a consistent point-in-time copy of the breaker.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastStateChange: cb.lastStateChange,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CanAttempt reports whether a call may proceed, performing the
// Open->HalfOpen transition as a side effect when resetTimeout has
// elapsed. While half-open, only one probe is allowed in flight: a second
// concurrent CanAttempt call returns false until RecordSuccess/RecordFailure
// resolves the outstanding probe.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastStateChange) < cb.resetTimeout {
			return false
		}
		cb.transitionLocked(CircuitHalfOpen)
		cb.halfOpenProbeInFlight = true
		return true
	case CircuitHalfOpen:
		if cb.halfOpenProbeInFlight {
			return false
		}
		cb.halfOpenProbeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In Closed it resets the failure
// counter. In HalfOpen it increments the success counter, closing the
// breaker once successThreshold consecutive successes are observed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.halfOpenProbeInFlight = false
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transitionLocked(CircuitClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case CircuitOpen:
		// A stray success report while open is a no-op: CanAttempt gates
		// every real call, so this can only happen if a caller ignores
		// CanAttempt's refusal.
	}
}

// RecordFailure reports a failed call. In Closed it increments the failure
// counter, opening the breaker at failureThreshold. In HalfOpen any
// failure immediately reopens the breaker and pins the failure counter at
// failureThreshold, per spec.md section 4.9.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.halfOpenProbeInFlight = false
		cb.successCount = 0
		cb.failureCount = cb.failureThreshold
		cb.transitionLocked(CircuitOpen)
	case CircuitOpen:
		// Already open; nothing to update.
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	cb.state = to
	cb.lastStateChange = time.Now()
}

// ErrCircuitOpen is the stable, identifiable reason substring spec.md
// section 4.9 and section 7 require for circuit-breaker refusals, so
// downstream code can recognize it without parsing arbitrary text.
const ErrCircuitOpen = "Circuit breaker is OPEN"

// Call runs op through the breaker: refused while open, gated to a single
// trial while half-open, and free to run while closed. The result of op is
// recorded against the breaker before being returned to the caller.
func (cb *CircuitBreaker) Call(op func() error) error {
	if !cb.CanAttempt() {
		return pforgeerrors.NewHandlerError(ErrCircuitOpen, nil)
	}
	if err := op(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
