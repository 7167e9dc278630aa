// Package resilience guards calls into unreliable dependencies with named circuit breakers.
//
// A breaker starts closed. Consecutive failures open it; once the reset timeout has passed
// since the last failure the next AllowRequest moves it to half-open, and enough successes
// there close it again. Any failure while half-open reopens it immediately.
//
//	registry := resilience.NewRegistry(resilience.DefaultSettings())
//	cb := registry.GetOrCreate("embedding:openai", resilience.DefaultSettings())
//	if cb.AllowRequest() {
//	    if err := call(); err != nil {
//	        cb.OnFailure()
//	    } else {
//	        cb.OnSuccess()
//	    }
//	}
package resilience

import (
	"sync"
	"time"
)

// State is the position of a breaker in its state machine.
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
	}
	return "unknown"
}

// Settings holds breaker thresholds.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens a closed circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits after the last failure before probing.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of half-open successes needed to close the circuit.
	SuccessThreshold int
}

// DefaultSettings returns default breaker settings.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 1
	}
	if s.SuccessThreshold < 1 {
		s.SuccessThreshold = 1
	}
	if s.ResetTimeout < 0 {
		s.ResetTimeout = 0
	}
	return s
}

// Snapshot is a point-in-time copy of a breaker's counters.
type Snapshot struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	FailureCount      int       `json:"failure_count"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
}

// StateChangeFunc is called after a breaker changes state, outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker tracks failures of one named downstream operation.
// It never returns errors; callers ask AllowRequest before calling out.
type CircuitBreaker struct {
	name     string
	settings Settings
	onChange StateChangeFunc
	now      func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int
	halfOpenSuccesses int
	lastFailure       time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		settings: settings.withDefaults(),
		now:      time.Now,
		state:    StateClosed,
	}
}

// Name returns the service name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Settings returns the thresholds the breaker was created with.
func (cb *CircuitBreaker) Settings() Settings {
	return cb.settings
}

// AllowRequest reports whether a call may proceed.
// An open circuit whose reset timeout has elapsed moves to half-open and admits the call.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := true
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.settings.ResetTimeout {
			cb.toHalfOpen()
		} else {
			allowed = false
		}
	case StateClosed, StateHalfOpen:
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.settings.SuccessThreshold {
			cb.toClosed()
		}
	case StateOpen:
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// OnFailure records a failed call.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failureCount++
	cb.lastFailure = cb.now()
	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.settings.FailureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		cb.toOpen()
	case StateOpen:
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// State returns the current state without evaluating the reset timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker's counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:              cb.name,
		State:             cb.state.String(),
		FailureCount:      cb.failureCount,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		LastFailure:       cb.lastFailure,
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.halfOpenSuccesses = 0
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.halfOpenSuccesses = 0
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to || cb.onChange == nil {
		return
	}
	cb.onChange(cb.name, from, to)
}
