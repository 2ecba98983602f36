package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil(t *testing.T) {
	t.Run("matches on a later attempt", func(t *testing.T) {
		calls, matched := 0, false
		err := Until(context.Background(),
			func(_ context.Context, attempt int) (bool, error) {
				calls++
				return attempt == 3, nil
			},
			func(context.Context) error { matched = true; return nil },
			time.Millisecond, 5)

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, matched)
	})

	t.Run("never exceeds max attempts", func(t *testing.T) {
		calls := 0
		err := Until(context.Background(),
			func(context.Context, int) (bool, error) { calls++; return false, nil },
			func(context.Context) error { t.Fatal("onMatch must not run"); return nil },
			0, 7)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrExhausted))
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 7, te.Attempts)
		assert.Equal(t, 7, calls)
	})

	t.Run("predicate error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := Until(context.Background(),
			func(context.Context, int) (bool, error) { calls++; return false, boom },
			nil, 0, 10)

		assert.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, ErrExhausted))
		assert.Equal(t, 1, calls)
	})

	t.Run("onMatch error is returned", func(t *testing.T) {
		boom := errors.New("click failed")
		err := Until(context.Background(),
			func(context.Context, int) (bool, error) { return true, nil },
			func(context.Context) error { return boom },
			0, 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancellation stops the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		done := make(chan error, 1)
		go func() {
			done <- Until(ctx, func(context.Context, int) (bool, error) {
				calls++
				if calls == 1 {
					cancel()
				}
				return false, nil
			}, nil, time.Hour, 3)
		}()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 1, calls)
		case <-time.After(5 * time.Second):
			t.Fatal("Until did not observe cancellation")
		}
	})

	t.Run("error after misses stops at that attempt", func(t *testing.T) {
		boom := errors.New("element detached")
		calls := 0
		err := Until(context.Background(), func(_ context.Context, attempt int) (bool, error) {
			calls++
			if attempt == 3 {
				return false, boom
			}
			return false, nil
		}, nil, 0, 10)

		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "poll attempt 3")
		assert.Equal(t, 3, calls)
	})

	t.Run("deadline bounds the wait", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := Until(ctx, func(context.Context, int) (bool, error) { return false, nil }, nil, 10*time.Millisecond, 1000)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, errors.Is(err, ErrExhausted))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("already cancelled never evaluates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Until(ctx, func(context.Context, int) (bool, error) { calls++; return true, nil }, nil, 0, 3)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})

	t.Run("rejects non-positive max attempts", func(t *testing.T) {
		err := Until(context.Background(), func(context.Context, int) (bool, error) { return true, nil }, nil, 0, 0)
		assert.Error(t, err)
	})
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
