package pipeline

import (
	"context"
	"time"
)

// RetryPolicy is the explicit bounded-retry contract applied around external
// calls. Only errors marked Transient are retried; anything else returns
// immediately.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Delay       time.Duration // wait before the first retry
	Multiplier  float64       // backoff factor between retries; <=1 means fixed delay
}

// DefaultRetry is the stage default: three attempts with doubling backoff.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second, Multiplier: 2}

// Do runs op under the policy. The last error is returned once attempts are
// exhausted; cancellation during a backoff wait returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
	return err
}
