package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kuitang/coursewalk/internal/errs"
)

// Condition reports whether the awaited state has been reached. A returned
// error is treated as transient and retried; wrap it with Permanent to stop
// waiting at once.
type Condition func(ctx context.Context) (bool, error)

var errNotYet = errors.New("condition not met")

// Permanent marks err as final so WaitUntil returns it without retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// WaitUntil evaluates cond every interval until it reports true, returns a
// permanent error, ctx ends, or timeout elapses. A timeout yields an
// errs.DeadlineExceeded error naming what was awaited, wrapping the last
// transient error seen.
func WaitUntil(ctx context.Context, timeout, interval time.Duration, what string, cond Condition) error {
	if timeout <= 0 {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("wait for %s: timeout must be positive", what))
	}
	if interval <= 0 || interval > timeout {
		interval = timeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	op := func() error {
		ok, err := cond(waitCtx)
		if err != nil {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				lastErr = err
			}
			return err
		}
		if !ok {
			return errNotYet
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx))
	if err == nil {
		return nil
	}
	// The caller gave up; that is not a timeout of ours.
	if ctx.Err() != nil {
		return fmt.Errorf("wait for %s: %w", what, ctx.Err())
	}
	if waitCtx.Err() != nil || errors.Is(err, errNotYet) {
		return errs.Wrap(errs.DeadlineExceeded, fmt.Sprintf("timed out after %s waiting for %s", timeout, what), lastErr)
	}
	return err
}
