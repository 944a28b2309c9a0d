package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of tries, the first included. Default: 3.
	Attempts int

	// Initial is the delay before the first retry. Default: 250ms.
	Initial time.Duration

	// Max caps a single delay. Default: 10s.
	Max time.Duration

	// Multiplier scales the delay after each retry. Default: 2.
	Multiplier float64

	// Jitter is the +/- fraction applied to each delay. Zero disables it.
	Jitter float64

	// Retryable decides whether err is worth another try. Default: IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy is used for outbound publishing and API calls.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Initial:    250 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Initial <= 0 {
		p.Initial = 250 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based), jitter
// included.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is Retry for calls that produce a value.
func RetryValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// LogRetries returns an OnRetry hook that logs through log.
func LogRetries(log *zap.Logger, component, operation string) func(int, error) {
	return func(attempt int, err error) {
		log.Warn("retrying",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
