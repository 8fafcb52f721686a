// Package retry runs an operation again after failures that a classifier
// marks as retryable, waiting an exponentially growing delay between tries.
package retry

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// Policy configures Do. The zero value runs the operation exactly once.
type Policy struct {
	// FirstRetryDelay is the wait before the first retry.
	FirstRetryDelay time.Duration
	// DelayMultiplier scales the delay after every retry. Values below 1 are
	// treated as 1.
	DelayMultiplier float64
	// MaxRetries is the number of retries after the first attempt. Zero makes
	// every failure terminal.
	MaxRetries int
	// ShouldRetry reports whether err is eligible for another attempt. A nil
	// ShouldRetry retries nothing.
	ShouldRetry func(err error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(err error, retry int, delay time.Duration)
	// Sleep waits for d or until ctx is done. Defaults to gax.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, fails with an ineligible error, or the retry
// budget is spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	delay := p.FirstRetryDelay
	for retries := 0; ; retries++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if retries >= p.MaxRetries || !p.shouldRetry(err) {
			return v, err
		}

		if p.OnRetry != nil {
			p.OnRetry(err, retries+1, delay)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return v, err
		}
		delay = p.next(delay)
	}
}

func (p Policy) shouldRetry(err error) bool {
	return p.ShouldRetry != nil && p.ShouldRetry(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return gax.Sleep(ctx, d)
}

func (p Policy) next(d time.Duration) time.Duration {
	m := p.DelayMultiplier
	if m < 1 {
		m = 1
	}
	return time.Duration(float64(d) * m)
}
