package webfile

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how transient failures are retried. The zero value
// disables retries; DefaultRetryPolicy is used unless overridden with
// WithRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts uint64
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the exponentially growing delay.
	MaxInterval time.Duration
	// Jitter is the randomization factor applied to each delay (0..1).
	Jitter float64
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
	Jitter:          0.5,
}

// Do runs op, retrying with exponential backoff while it fails with a
// retryable error class. Non-retryable errors are returned immediately.
func (p RetryPolicy) Do(op func() error) error {
	if p.MaxAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, p.MaxAttempts-1))
}
