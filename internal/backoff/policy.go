// Package backoff implements the retry policy for transient exchange
// failures: capped exponential backoff with symmetric jitter.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"time"
)

// Policy defines the retry envelope applied to retryable failures.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the growth of the backoff delay.
	MaxDelay time.Duration
	// Factor is the multiplier applied to the delay per attempt.
	Factor float64
	// Jitter is the fraction of the delay randomized up or down, 0 to 1.
	Jitter float64

	// RetryIf classifies errors as retryable. When nil, only network
	// timeouts count; callers normally install the error-taxonomy classifier.
	RetryIf func(error) bool
	// RetryAfter extracts a server-provided minimum wait from an error.
	// When the hint exceeds the computed delay, the hint wins.
	RetryAfter func(error) time.Duration
	// OnRetry, when set, is invoked before each wait with the attempt number
	// (1-based), the error being retried, and the chosen delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Default returns the standard policy: 3 retries backing off from 1s to 30s
// at factor 2.0 with 10% jitter.
func Default() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       0.1,
	}
}

// Delay computes the wait before the given retry attempt (1-based): the
// initial delay grown by Factor per attempt, capped at MaxDelay, then
// randomized up or down by Jitter of itself and floored at zero.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1))
	if ceiling := float64(p.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

func (p *Policy) retryable(err error) bool {
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return defaultRetryIf(err)
}

// defaultRetryIf treats network timeouts as transient and everything else,
// context cancellation included, as permanent.
func defaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Do runs fn, retrying transient failures per the policy. See DoValue.
func Do(ctx context.Context, p *Policy, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs fn, retrying transient failures per the policy, and returns
// its result on success. The wait between attempts honors any server
// retry-after hint and aborts as soon as the context ends. An error that
// consumed retries is returned wrapped with the attempt count; a permanent
// failure on the first attempt is returned unchanged.
func DoValue[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := p.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return zero, wrapAttempts(lastErr, attempt-1)
			}
			return zero, ctx.Err()
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts || !p.retryable(err) {
			return zero, wrapAttempts(lastErr, attempt)
		}

		delay := p.Delay(attempt)
		if p.RetryAfter != nil {
			if hint := p.RetryAfter(err); hint > delay {
				delay = hint
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, wrapAttempts(lastErr, attempt)
		case <-timer.C:
		}
	}
	return zero, wrapAttempts(lastErr, attempts)
}

// wrapAttempts tags an error with how many attempts it survived. Single
// attempts pass through untouched so guard and validation failures stay clean.
func wrapAttempts(err error, attempts int) error {
	if attempts <= 1 {
		return err
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
