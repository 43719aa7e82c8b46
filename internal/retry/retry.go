// Package retry runs fallible operations with a bounded number of attempts
// and a fixed or doubling delay between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults used when Options fields are left zero.
const (
	DefaultAttempts = 5
	DefaultDelay    = 5 * time.Second
)

// ErrExhausted wraps the final failure once every attempt has been used.
var ErrExhausted = errors.New("retry attempts exhausted")

// Options configures a retry loop.
type Options struct {
	// Attempts is the maximum number of calls, including the first (default 5).
	Attempts int
	// Delay is the base wait between attempts (default 5s).
	Delay time.Duration
	// Grow doubles the delay before every wait.
	Grow bool
	// Retryable decides whether a failure is worth another attempt.
	// Nil retries every failure.
	Retryable func(error) bool
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Delay < 0 {
		o.Delay = 0
	} else if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	return o
}

// Result is the outcome of a retry loop.
type Result[T any] struct {
	Value    T
	Err      error // last failure; nil on success
	Attempts int   // calls made
	// Exhausted is set when every attempt failed. A failure that stopped the
	// loop early (not retryable, context done) leaves it false.
	Exhausted bool
}

// OK reports whether an attempt succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unwrap returns the value and an error. When the budget ran out the error
// wraps both ErrExhausted and the last failure.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err == nil {
		return r.Value, nil
	}
	if r.Exhausted {
		return r.Value, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.Attempts, r.Err)
	}
	return r.Value, r.Err
}

// Do calls op until it succeeds, fails with a non-retryable error, ctx is done
// while waiting, or opts.Attempts calls have been made.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) Result[T] {
	opts = opts.withDefaults()
	delay := opts.Delay

	var res Result[T]
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		res.Attempts = attempt
		res.Value, res.Err = op(ctx)
		if res.Err == nil {
			return res
		}
		if opts.Retryable != nil && !opts.Retryable(res.Err) {
			return res
		}
		if attempt == opts.Attempts {
			break
		}

		if opts.Grow {
			delay *= 2
		}
		if err := sleep(ctx, delay); err != nil {
			res.Err = errors.Join(res.Err, err)
			return res
		}
	}

	res.Exhausted = true
	return res
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, opts Options, op func(context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}).Unwrap()
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
