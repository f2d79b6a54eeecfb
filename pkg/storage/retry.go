package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds Retry. The zero value retries three times starting at 200ms.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries == 0 {
		retries = 3
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// Retry runs fn until it succeeds, fails with an error IsRetryable rejects, the policy is
// exhausted or ctx ends. It returns the last error from fn, or ctx's error once ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy.backOff(ctx))
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
