// Package health supervises exchange connections. A Monitor probes one
// connection on a fixed cadence, tracks consecutive failures, opens a
// circuit breaker when the connection looks dead, and optionally drives
// automatic reconnection. Status changes are fanned out to registered
// listeners.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nakula/internal/circuitbreaker"
	"nakula/pkg/core"
)

// Status represents the observed health of a monitored connection.
type Status int

// Health statuses reported through transitions.
const (
	// StatusHealthy means the last check found the connection alive.
	StatusHealthy Status = iota
	// StatusUnhealthy means at least one consecutive check has failed.
	StatusUnhealthy
	// StatusReconnecting means an automatic reconnection is in progress.
	StatusReconnecting
	// StatusCircuitOpen means checks are suspended after too many failures.
	StatusCircuitOpen
	// StatusStopped means the monitor is not running.
	StatusStopped
)

// String returns the string representation of the status.
func (s Status) String() string {
	return [...]string{
		"healthy",
		"unhealthy",
		"reconnecting",
		"circuit_open",
		"stopped",
	}[s]
}

// Transition describes one status change observed by the monitor.
type Transition struct {
	// Exchange identifies the monitored connection.
	Exchange string
	// From is the status before the change.
	From Status
	// To is the status after the change.
	To Status
	// Reason is a short human-readable cause.
	Reason string
	// At is when the change was observed.
	At time.Time
}

// Listener receives status transitions. Listeners run on the monitor
// goroutine; panics are recovered and logged without affecting other
// listeners.
type Listener func(Transition)

// Connection is the minimal surface the monitor supervises. A
// connector.Core satisfies it.
type Connection interface {
	Exchange() string
	IsConnected() bool
	TestConnectivity(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Option configures a Monitor during construction.
type Option func(*Monitor)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor periodically checks one connection and drives recovery. One
// check, including any reconnection it triggers, always finishes before
// the next begins.
type Monitor struct {
	conn    Connection
	cfg     core.HealthCheckConfig
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger

	mu      sync.Mutex
	status  Status
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	listenerMu  sync.RWMutex
	listeners   map[int64]Listener
	listenerSeq atomic.Int64

	metrics *Metrics
}

// New creates a monitor supervising conn. Zero fields in cfg fall back to
// the defaults of core.DefaultConfig.
func New(conn Connection, cfg core.HealthCheckConfig, opts ...Option) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.CircuitResetTimeout <= 0 {
		cfg.CircuitResetTimeout = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	m := &Monitor{
		conn: conn,
		cfg:  cfg,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    cfg.MaxConsecutiveFailures,
			SuccessThreshold: 1,
			Timeout:          cfg.CircuitResetTimeout,
		}),
		logger:    zerolog.Nop(),
		status:    StatusStopped,
		listeners: make(map[int64]Listener),
		metrics:   &Metrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("exchange", conn.Exchange()).Logger()
	return m
}

// Start launches the periodic check loop. It fails when the monitor is
// already running; a stopped monitor can be started again.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("health monitor for %s already started", m.conn.Exchange())
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.run(runCtx, m.done)

	m.logger.Info().
		Dur("interval", m.cfg.CheckInterval).
		Int("max_consecutive_failures", m.cfg.MaxConsecutiveFailures).
		Bool("auto_reconnect", m.cfg.AutoReconnect).
		Msg("health monitor started")
	return nil
}

// Stop cancels the loop, waits for any in-flight check to finish and emits
// a final stopped transition. It is safe to call repeatedly or before
// Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	<-done
	m.transition(StatusStopped, "monitor stopped")
	m.logger.Info().Msg("health monitor stopped")
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one supervision cycle. Probe outcomes feed the breaker
// exactly once per cycle; open cycles are skipped entirely.
func (m *Monitor) check(ctx context.Context) {
	m.metrics.totalChecks.Add(1)
	m.metrics.lastCheck.Store(time.Now().UnixNano())

	if !m.breaker.Allow() {
		m.logger.Debug().Msg("circuit open, skipping check")
		return
	}
	if m.breaker.State() == circuitbreaker.StateHalfOpen {
		// The reset timeout just elapsed. Close the breaker, clear the
		// failure streak and make exactly one reconnection attempt.
		m.breaker.Reset()
		m.logger.Info().Msg("circuit reset timeout elapsed, closing breaker")
		if m.cfg.AutoReconnect {
			if m.reconnect(ctx) {
				m.onHealthy("reconnection successful")
			}
		}
		return
	}

	if m.probe(ctx) {
		m.breaker.Record(true)
		m.onHealthy("connection recovered")
		return
	}
	m.breaker.Record(false)
	m.onProbeFailure(ctx)
}

// probe reports whether the connection looks alive. A panicking probe
// counts as a failure.
func (m *Monitor) probe(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("health probe panicked")
			ok = false
		}
	}()

	if !m.conn.IsConnected() {
		return false
	}
	if !m.cfg.DeepProbe {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if err := m.conn.TestConnectivity(probeCtx); err != nil {
		m.logger.Warn().Err(err).Msg("deep probe failed")
		return false
	}
	return true
}

func (m *Monitor) onHealthy(reason string) {
	m.metrics.lastSuccess.Store(time.Now().UnixNano())
	m.transition(StatusHealthy, reason)
}

func (m *Monitor) onProbeFailure(ctx context.Context) {
	m.metrics.failedChecks.Add(1)
	failures := m.breaker.Failures()

	m.logger.Warn().Int("consecutive_failures", failures).Msg("health check failed")

	if m.breaker.State() == circuitbreaker.StateOpen {
		m.transition(StatusCircuitOpen, fmt.Sprintf("%d consecutive failures", failures))
		return
	}
	if failures == 1 {
		m.transition(StatusUnhealthy, "health check failed")
	}
	if m.cfg.AutoReconnect {
		if m.reconnect(ctx) {
			m.breaker.Record(true)
			m.onHealthy("reconnection successful")
		}
	}
}

// reconnect tears the connection down and brings it back up. Failures
// leave recovery to the next cycle.
func (m *Monitor) reconnect(ctx context.Context) bool {
	m.metrics.reconnectAttempts.Add(1)
	m.transition(StatusReconnecting, "attempting reconnection")

	if err := m.conn.Disconnect(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("disconnect before reconnect failed")
	}
	if err := m.conn.Connect(ctx); err != nil {
		m.logger.Error().Err(err).Msg("reconnection failed")
		m.transition(StatusUnhealthy, "reconnection failed")
		return false
	}

	m.metrics.reconnectSuccesses.Add(1)
	return true
}

// transition moves to the given status, skipping no-op changes, and
// notifies listeners.
func (m *Monitor) transition(to Status, reason string) {
	m.mu.Lock()
	from := m.status
	if from == to {
		m.mu.Unlock()
		return
	}
	m.status = to
	m.mu.Unlock()

	m.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("health status changed")

	m.notify(Transition{
		Exchange: m.conn.Exchange(),
		From:     from,
		To:       to,
		Reason:   reason,
		At:       time.Now(),
	})
}

// OnTransition registers a listener for status changes and returns its id.
func (m *Monitor) OnTransition(fn Listener) int64 {
	id := m.listenerSeq.Add(1)
	m.listenerMu.Lock()
	m.listeners[id] = fn
	m.listenerMu.Unlock()
	return id
}

// RemoveListener drops a previously registered listener.
func (m *Monitor) RemoveListener(id int64) {
	m.listenerMu.Lock()
	delete(m.listeners, id)
	m.listenerMu.Unlock()
}

func (m *Monitor) notify(tr Transition) {
	m.listenerMu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.RUnlock()

	for _, fn := range listeners {
		m.invoke(fn, tr)
	}
}

func (m *Monitor) invoke(fn Listener, tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("transition listener panicked")
		}
	}()
	fn(tr)
}

// Status returns the monitor's current view of the connection.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Metrics tracks supervision statistics using atomic counters.
type Metrics struct {
	totalChecks        atomic.Int64
	failedChecks       atomic.Int64
	reconnectAttempts  atomic.Int64
	reconnectSuccesses atomic.Int64
	lastCheck          atomic.Int64 // unix nanoseconds, 0 when never
	lastSuccess        atomic.Int64
}

// MetricsSnapshot is a point-in-time capture of supervision statistics.
type MetricsSnapshot struct {
	// TotalChecks counts supervision cycles, breaker-open cycles included.
	TotalChecks int64
	// FailedChecks counts cycles whose probe failed.
	FailedChecks int64
	// ConsecutiveFailures is the current failure streak.
	ConsecutiveFailures int
	// ReconnectAttempts counts automatic reconnections started.
	ReconnectAttempts int64
	// ReconnectSuccesses counts automatic reconnections that succeeded.
	ReconnectSuccesses int64
	// LastCheck is when the most recent cycle ran, zero when never.
	LastCheck time.Time
	// LastSuccess is when the most recent successful probe ran, zero when never.
	LastSuccess time.Time
	// Status is the monitor's current view of the connection.
	Status Status
	// BreakerOpen reports whether the circuit breaker has left the closed
	// state, half-open probation included.
	BreakerOpen bool
	// Breaker captures the underlying circuit breaker statistics.
	Breaker circuitbreaker.MetricsSnapshot
}

// Metrics returns a snapshot of supervision statistics.
func (m *Monitor) Metrics() MetricsSnapshot {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()
	breaker := m.breaker.Metrics()

	snap := MetricsSnapshot{
		TotalChecks:         m.metrics.totalChecks.Load(),
		FailedChecks:        m.metrics.failedChecks.Load(),
		ConsecutiveFailures: m.breaker.Failures(),
		ReconnectAttempts:   m.metrics.reconnectAttempts.Load(),
		ReconnectSuccesses:  m.metrics.reconnectSuccesses.Load(),
		Status:              status,
		BreakerOpen:         breaker.State != circuitbreaker.StateClosed,
		Breaker:             breaker,
	}
	if ns := m.metrics.lastCheck.Load(); ns > 0 {
		snap.LastCheck = time.Unix(0, ns)
	}
	if ns := m.metrics.lastSuccess.Load(); ns > 0 {
		snap.LastSuccess = time.Unix(0, ns)
	}
	return snap
}

// ResetMetrics zeroes the counters. Status, the failure streak and breaker
// state drive supervision decisions and survive the reset.
func (m *Monitor) ResetMetrics() {
	m.metrics.totalChecks.Store(0)
	m.metrics.failedChecks.Store(0)
	m.metrics.reconnectAttempts.Store(0)
	m.metrics.reconnectSuccesses.Store(0)
	m.metrics.lastCheck.Store(0)
	m.metrics.lastSuccess.Store(0)
}
