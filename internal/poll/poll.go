// Package poll provides bounded polling against eventually consistent state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is matched by every TimeoutError.
var ErrExhausted = errors.New("poll: attempts exhausted")

// errNotYet marks an attempt whose predicate returned false.
var errNotYet = errors.New("poll: condition not met")

// TimeoutError reports that the predicate never held.
type TimeoutError struct {
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %d attempts at %s intervals", e.Attempts, e.Interval)
}

// Is makes errors.Is(err, ErrExhausted) hold.
func (e *TimeoutError) Is(target error) bool { return target == ErrExhausted }

// Predicate is evaluated once per attempt. A non-nil error aborts polling.
type Predicate func(ctx context.Context, attempt int) (bool, error)

// Until evaluates predicate at most maxAttempts times, sleeping interval
// between evaluations. On the first true result onMatch (if non-nil) runs and
// its error is returned. When attempts run out Until returns a *TimeoutError.
// Cancellation of ctx stops polling with ctx's error.
func Until(ctx context.Context, predicate Predicate, onMatch func(ctx context.Context) error, interval time.Duration, maxAttempts int) error {
	if maxAttempts <= 0 {
		return fmt.Errorf("poll: maxAttempts must be positive, got %d", maxAttempts)
	}
	if interval < 0 {
		interval = 0
	}

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(fmt.Errorf("poll cancelled before attempt %d: %w", attempt+1, err))
		}
		attempt++
		ok, err := predicate(ctx, attempt)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("poll attempt %d: %w", attempt, err))
		}
		if !ok {
			return errNotYet
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1)), ctx)
	err := backoff.Retry(operation, b)
	switch {
	case err == nil:
		if onMatch == nil {
			return nil
		}
		return onMatch(ctx)
	case errors.Is(err, errNotYet):
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("poll cancelled after attempt %d: %w", attempt, cerr)
		}
		return &TimeoutError{Attempts: attempt, Interval: interval}
	case ctx.Err() != nil && err == ctx.Err():
		return fmt.Errorf("poll cancelled after attempt %d: %w", attempt, err)
	default:
		return err
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
