package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent wraps an error so the policy stops retrying it.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string {
	return p.Err.Error()
}

func (p *Permanent) Unwrap() error {
	return p.Err
}

func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Policy is a reusable retry schedule shared by all external-service calls.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    30 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Do runs op up to MaxAttempts times with exponential backoff between
// attempts. A *Permanent error stops immediately and is unwrapped. Context
// cancellation stops the schedule and returns the last error.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	norm := p.normalized()

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = norm.BaseDelay
	schedule.Multiplier = norm.Factor
	schedule.MaxInterval = norm.MaxDelay
	schedule.RandomizationFactor = 0

	wrapped := backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(norm.MaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		attemptErr := op(ctx)
		if attemptErr == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(attemptErr, &perm) {
			return backoff.Permanent(perm.Err)
		}
		return attemptErr
	}, wrapped)
	return err
}
