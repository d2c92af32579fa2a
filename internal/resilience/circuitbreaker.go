// Package resilience keeps slow or dead analyzer backends from stalling the
// detection tick.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). After
// enough consecutive failures it rejects calls immediately with
// [ErrCircuitOpen] until a reset timeout passes, so a tick spends no time on a
// backend that is known to be down. [FallbackGroup] tries a list of backends
// of one kind in order, each behind its own breaker. The wrappers in vision.go
// apply both to the analyzer interfaces of pkg/provider/vision.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. Enough
	// successes close the breaker; any failure re-opens it.
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
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and health reports, for example
	// "landmarker/worker".
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it lets trial
	// calls through. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial calls allowed while half-open.
	// Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. Errors
	// it rejects are returned to the caller but leave the breaker untouched.
	// Default: [CountsAgainstBackend].
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)
}

// CountsAgainstBackend reports whether err says something about the backend.
// A caller that gave up, for example because its stream closed mid-tick,
// says nothing about the backend. A missed deadline does.
func CountsAgainstBackend(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Status is a point-in-time view of a breaker for health reports.
type Status struct {
	Name     string
	State    State
	Failures int
	// RetryIn is the time left until an open breaker lets trial calls
	// through. Zero unless State is [StateOpen].
	RetryIn time.Duration
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trials    int
	trialFail int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = CountsAgainstBackend
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and returns fn's error. While open
// it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	before := cb.state
	switch {
	case err == nil:
		cb.succeeded(trial)
	case cb.isFailure(err):
		cb.failed(trial)
	case trial:
		// The trial slot is handed back; nothing was learned.
		cb.trials--
	}
	after := cb.state
	cb.mu.Unlock()

	if after != before {
		cb.notify(before, after)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a trial call.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials, cb.trialFail = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.trials++
		trial = true
	}
	to := cb.state
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
	return trial, nil
}

// failed must be called with cb.mu held.
func (cb *CircuitBreaker) failed(trial bool) {
	if trial {
		cb.trialFail++
		cb.open()
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.open()
	}
}

// succeeded must be called with cb.mu held.
func (cb *CircuitBreaker) succeeded(trial bool) {
	if !trial {
		cb.failures = 0
		return
	}
	if cb.state != StateHalfOpen {
		// a concurrent trial already re-opened the breaker
		return
	}
	if cb.trials-cb.trialFail >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failures, cb.trials, cb.trialFail = 0, 0, 0
	}
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = cb.maxFailures
}

func (cb *CircuitBreaker) notify(from, to State) {
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.name, "from", from.String(), "retry_in", cb.resetTimeout)
	} else {
		slog.Info("circuit breaker state change", "name", cb.name, "from", from.String(), "to", to.String())
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	return cb.Status().State
}

// Status returns the breaker's state, failure count and remaining open time.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := Status{Name: cb.name, State: cb.state, Failures: cb.failures}
	if cb.state == StateOpen {
		left := cb.resetTimeout - cb.now().Sub(cb.openedAt)
		if left <= 0 {
			st.State = StateHalfOpen
		} else {
			st.RetryIn = left
		}
	}
	return st
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.trials, cb.trialFail = 0, 0, 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
