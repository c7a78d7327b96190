// Package circuitbreaker implements a three-state circuit breaker. Consecutive
// failures open it, an open breaker rejects work until a timeout elapses, and
// a half-open probation period decides whether it closes again.
package circuitbreaker

import (
	"sync"
	"time"
)

// State identifies the breaker's position in its lifecycle.
type State int

const (
	// StateClosed admits all work.
	StateClosed State = iota
	// StateOpen rejects all work until the timeout elapses.
	StateOpen
	// StateHalfOpen admits probation work to decide recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	return [...]string{
		"closed",
		"open",
		"half_open",
	}[s]
}

// Config holds the breaker thresholds.
type Config struct {
	// FailThreshold is the consecutive failure count that opens the breaker.
	FailThreshold int `json:"fail_threshold"`
	// SuccessThreshold is the consecutive half-open success count that closes it.
	SuccessThreshold int `json:"success_threshold"`
	// Timeout is how long an open breaker rejects work before probation.
	Timeout time.Duration `json:"timeout"`
}

// Breaker tracks request outcomes and decides admission. All methods are safe
// for concurrent use.
type Breaker struct {
	failThreshold    int
	successThreshold int
	timeout          time.Duration

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	totalRequests   int64
	successOutcomes int64
	failedOutcomes  int64
	stateChanges    int64
}

// New creates a breaker from the config. Default values are applied for any
// zero-valued configuration fields.
func New(config Config) *Breaker {
	if config.FailThreshold <= 0 {
		config.FailThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Breaker{
		failThreshold:    config.FailThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		state:            StateClosed,
	}
}

// Allow reports whether work may proceed. Once the open timeout has elapsed
// it moves the breaker to half-open and admits the call as a probation
// attempt.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.timeout {
			b.setState(StateHalfOpen)
			b.successes = 0
			return true
		}
		return false
	}
	return false
}

// Record feeds one outcome back into the breaker. Outcomes landing while the
// breaker is open change nothing.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.successOutcomes++
	} else {
		b.failedOutcomes++
	}

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.failThreshold {
			b.openedAt = time.Now()
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		if success {
			b.successes++
			if b.successes >= b.successThreshold {
				b.setState(StateClosed)
				b.failures = 0
				b.successes = 0
			}
			return
		}
		b.openedAt = time.Now()
		b.successes = 0
		b.setState(StateOpen)
	case StateOpen:
	}
}

// setState must be called with the mutex held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.stateChanges++
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed and clears the streaks.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// MetricsSnapshot is a point-in-time capture of breaker statistics.
type MetricsSnapshot struct {
	// TotalRequests counts admission decisions, rejections included.
	TotalRequests int64
	// SuccessOutcomes counts outcomes recorded as success.
	SuccessOutcomes int64
	// FailedOutcomes counts outcomes recorded as failure.
	FailedOutcomes int64
	// StateChanges counts lifecycle transitions.
	StateChanges int64
	// State is the breaker's current state.
	State State
}

// Metrics returns a snapshot of breaker statistics.
func (b *Breaker) Metrics() MetricsSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return MetricsSnapshot{
		TotalRequests:   b.totalRequests,
		SuccessOutcomes: b.successOutcomes,
		FailedOutcomes:  b.failedOutcomes,
		StateChanges:    b.stateChanges,
		State:           b.state,
	}
}
