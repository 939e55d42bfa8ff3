// Package retrypolicy runs adapter calls with a per-call timeout and bounded
// exponential backoff on transient failures.
package retrypolicy

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
)

// Policy describes how one adapter call is attempted.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// BaseDelay is the first backoff delay; it doubles after each retry.
	BaseDelay time.Duration
	// CallTimeout bounds each individual attempt. Zero disables it.
	CallTimeout time.Duration
}

// Default is three attempts, 500ms base delay, no per-call timeout.
func Default() Policy {
	return Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond}
}

// WithTimeout returns a copy of p with the given per-call timeout.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.CallTimeout = d
	return p
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are used up. A per-call timeout counts as a transient failure.
// Cancellation of ctx itself stops retrying and returns a canceled error.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return failure.Canceled(op, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !failure.IsTransient(err) {
			err = failure.Transient(op, err)
		}
		if failure.IsTransient(err) {
			log.Printf("%s: attempt %d/%d failed: %v", op, attempt, attempts, err)
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil && ctx.Err() != nil && !failure.IsCanceled(err) {
		return failure.Canceled(op, ctx.Err())
	}
	return err
}
