// Package ratelimit provides weight-aware token bucket admission control
// for exchange requests, with optional per-endpoint buckets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrWeightExceedsBurst is returned when a request's weight is larger than
// the bucket capacity. Such a request can never be admitted, so it fails
// immediately instead of blocking forever.
var ErrWeightExceedsBurst = errors.New("request weight exceeds burst capacity")

// Config holds the admission settings shared by every bucket.
type Config struct {
	// RequestsPerSecond is the bucket refill rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity.
	Burst int
	// PerEndpoint gives each endpoint its own bucket instead of one shared bucket.
	PerEndpoint bool
}

// Limiter provides token bucket admission with a global bucket or, in
// per-endpoint mode, one bucket per endpoint. Token counts are fractional,
// bounded by the burst capacity, and refilled lazily on the admission path;
// a successful acquisition deducts exactly the request weight.
type Limiter struct {
	cfg     Config
	global  *rate.Limiter
	buckets sync.Map
	metrics *Metrics
}

// Metrics tracks statistics about limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	bucketCount     atomic.Int32
}

// New creates a Limiter with the specified admission settings.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		global:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		metrics: &Metrics{},
	}
}

// bucketFor resolves the bucket serving an endpoint: the endpoint's own
// bucket in per-endpoint mode, the shared global bucket otherwise.
// Endpoint buckets are created on demand.
func (l *Limiter) bucketFor(endpoint string) *rate.Limiter {
	if !l.cfg.PerEndpoint || endpoint == "" {
		return l.global
	}
	if v, ok := l.buckets.Load(endpoint); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
	actual, loaded := l.buckets.LoadOrStore(endpoint, limiter)
	if !loaded {
		l.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// Allow reports whether one token is available for the endpoint, deducting
// it when so.
func (l *Limiter) Allow(endpoint string) bool {
	return l.AllowN(endpoint, 1)
}

// AllowN reports whether weight tokens are available for the endpoint,
// deducting them when so. A weight above the burst capacity is always denied.
func (l *Limiter) AllowN(endpoint string, weight int) bool {
	l.metrics.totalRequests.Add(1)
	if weight > l.cfg.Burst {
		l.metrics.deniedRequests.Add(1)
		return false
	}
	allowed := l.bucketFor(endpoint).AllowN(time.Now(), weight)
	if allowed {
		l.metrics.allowedRequests.Add(1)
	} else {
		l.metrics.deniedRequests.Add(1)
	}
	return allowed
}

// Wait blocks until one token is available for the endpoint or the context
// is cancelled.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	return l.WaitN(ctx, endpoint, 1)
}

// WaitN blocks until weight tokens are available for the endpoint or the
// context is cancelled. A weight above the burst capacity fails immediately
// with ErrWeightExceedsBurst.
func (l *Limiter) WaitN(ctx context.Context, endpoint string, weight int) error {
	l.metrics.totalRequests.Add(1)
	if weight > l.cfg.Burst {
		l.metrics.deniedRequests.Add(1)
		return fmt.Errorf("%w: weight %d, burst %d", ErrWeightExceedsBurst, weight, l.cfg.Burst)
	}
	if err := l.bucketFor(endpoint).WaitN(ctx, weight); err != nil {
		l.metrics.deniedRequests.Add(1)
		return err
	}
	l.metrics.allowedRequests.Add(1)
	return nil
}

// AllowSpanning admits an operation that touches several endpoints by
// charging only the most restrictive bucket, the one with the fewest
// available tokens. Charging every bucket would bill one logical request
// multiple times; charging the least restrictive would defeat per-endpoint
// protection.
func (l *Limiter) AllowSpanning(weight int, endpoints ...string) bool {
	return l.AllowN(l.mostRestrictive(endpoints), weight)
}

// WaitSpanning is the blocking form of AllowSpanning.
func (l *Limiter) WaitSpanning(ctx context.Context, weight int, endpoints ...string) error {
	return l.WaitN(ctx, l.mostRestrictive(endpoints), weight)
}

// mostRestrictive picks the endpoint whose bucket has the fewest available
// tokens. Selection is best-effort under concurrent traffic.
func (l *Limiter) mostRestrictive(endpoints []string) string {
	if len(endpoints) == 0 {
		return ""
	}
	if len(endpoints) == 1 || !l.cfg.PerEndpoint {
		return endpoints[0]
	}
	chosen := endpoints[0]
	tokens := l.bucketFor(chosen).Tokens()
	for _, endpoint := range endpoints[1:] {
		if avail := l.bucketFor(endpoint).Tokens(); avail < tokens {
			chosen, tokens = endpoint, avail
		}
	}
	return chosen
}

// Tokens reports the tokens currently available in the endpoint's bucket.
func (l *Limiter) Tokens(endpoint string) float64 {
	return l.bucketFor(endpoint).Tokens()
}

// Burst returns the configured bucket capacity.
func (l *Limiter) Burst() int {
	return l.cfg.Burst
}

// Metrics returns a snapshot of the current limiter statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   l.metrics.totalRequests.Load(),
		AllowedRequests: l.metrics.allowedRequests.Load(),
		DeniedRequests:  l.metrics.deniedRequests.Load(),
		BucketCount:     l.metrics.bucketCount.Load(),
	}
}

// ResetMetrics zeroes the request counters. Bucket token levels and the
// bucket gauge are left untouched.
func (l *Limiter) ResetMetrics() {
	l.metrics.totalRequests.Store(0)
	l.metrics.allowedRequests.Store(0)
	l.metrics.deniedRequests.Store(0)
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// TotalRequests is the total number of admission checks performed.
	TotalRequests int64
	// AllowedRequests is the number of requests that were admitted.
	AllowedRequests int64
	// DeniedRequests is the number of requests that were denied.
	DeniedRequests int64
	// BucketCount is the number of endpoint buckets in use.
	BucketCount int32
}
