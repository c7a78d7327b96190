package connector

import (
	"sync/atomic"
	"time"

	"nakula/internal/ratelimit"
	"nakula/pkg/subscription"
)

// Metrics tracks request statistics for a connector using atomic counters.
type Metrics struct {
	totalRequests   atomic.Int64
	successRequests atomic.Int64
	errorRequests   atomic.Int64
	latencyTotal    atomic.Int64 // cumulative wall time in nanoseconds
}

// record accounts one operation outcome. Latency covers the whole call,
// admission waits and retries included.
func (m *Metrics) record(start time.Time, err error) {
	m.totalRequests.Add(1)
	m.latencyTotal.Add(int64(time.Since(start)))
	if err != nil {
		m.errorRequests.Add(1)
		return
	}
	m.successRequests.Add(1)
}

// reset zeroes all counters.
func (m *Metrics) reset() {
	m.totalRequests.Store(0)
	m.successRequests.Store(0)
	m.errorRequests.Store(0)
	m.latencyTotal.Store(0)
}

// MetricsSnapshot is a point-in-time capture of connector statistics,
// embedding the rate limiter and subscription router snapshots.
type MetricsSnapshot struct {
	// TotalRequests is the number of operations invoked, failed ones included.
	TotalRequests int64
	// SuccessRequests is the number of operations that completed without error.
	SuccessRequests int64
	// ErrorRequests is the number of operations that returned an error.
	ErrorRequests int64
	// SuccessRate is SuccessRequests over TotalRequests, zero until the
	// first operation completes.
	SuccessRate float64
	// AvgLatency is the mean wall time per operation.
	AvgLatency time.Duration
	// ActiveSubscriptions is the number of live stream subscriptions.
	ActiveSubscriptions int
	// RateLimiter captures the limiter counters at snapshot time.
	RateLimiter ratelimit.MetricsSnapshot
	// Router captures the subscription router counters at snapshot time.
	Router subscription.MetricsSnapshot
}

// snapshot builds the request-level part of a MetricsSnapshot.
func (m *Metrics) snapshot() MetricsSnapshot {
	total := m.totalRequests.Load()
	success := m.successRequests.Load()
	snap := MetricsSnapshot{
		TotalRequests:   total,
		SuccessRequests: success,
		ErrorRequests:   m.errorRequests.Load(),
	}
	if total > 0 {
		snap.SuccessRate = float64(success) / float64(total)
		snap.AvgLatency = time.Duration(m.latencyTotal.Load() / total)
	}
	return snap
}
