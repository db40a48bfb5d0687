package services

import (
	"context"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy runs a stage operation up to attempts times with exponential
// backoff between attempts. Each attempt gets its own deadline.
type retryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	timeout        time.Duration
	onRetry        func(err error, wait time.Duration)
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.initialBackoff
	exp.MaxInterval = p.maxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := max(p.attempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// do returns nil on the first successful attempt. Errors marked with
// interfaces.Permanent stop the retries immediately; otherwise the last
// attempt's error is returned.
func (p retryPolicy) do(ctx context.Context, op func(ctx context.Context) error) error {
	operation := func() error {
		attemptCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		err := op(attemptCtx)
		if err != nil && interfaces.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.onRetry != nil {
			p.onRetry(err, wait)
		}
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

func (p retryPolicy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}
