// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each interval (0..1).
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxTries:        4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the policy runs
// out of attempts or ctx is done.
func Do[T any](ctx context.Context, policy Policy, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, backoff.Operation[T](op),
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.maxTries()),
	)
}

func (p Policy) maxTries() uint {
	if p.MaxTries == 0 {
		return 1
	}
	return p.MaxTries
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.Jitter >= 0 && p.Jitter <= 1 {
		b.RandomizationFactor = p.Jitter
	}
	b.Reset()
	return b
}
