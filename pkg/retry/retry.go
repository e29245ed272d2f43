// Package retry provides the single retry policy shared by the platform and
// ledger gateways: bounded attempts, exponential backoff, and a caller-supplied
// retryable predicate.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries for one class of external calls.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries everything up to MaxAttempts.
	Retryable func(error) bool
}

// DefaultPolicy matches the gateways' default posture: three attempts with a
// short exponential curve.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

// WithMaxAttempts returns a copy of the policy with the attempt bound replaced.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// WithRetryable returns a copy of the policy with the predicate replaced.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// Do runs op under the policy. Non-retryable errors stop immediately; context
// cancellation always stops.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}
	bo.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(
		wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
