package interpreter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/browser/browsertest"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

func refreshAction() schemas.Action {
	return withVerb(byRole("button", "Refresh"), schemas.VerbClick, "", schemas.HintRefresh)
}

func TestRefreshUntilStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("status appears after refreshing", func(t *testing.T) {
		var opened string
		refreshes := 0
		refresh := &el{Role: "button", Name: "Refresh"}
		page := browsertest.NewPage(refresh)
		refresh.OnClick = func(p *browsertest.Page) {
			refreshes++
			if refreshes == 2 {
				p.Add(&el{Role: "cell", Name: "Awaiting Billing", OnClick: func(*browsertest.Page) { opened = "billing" }})
			}
		}

		_, err := newTestExecutor(t, testOptions()).Execute(ctx, page, refreshAction(), "Orders", 1, NewVariables())
		require.NoError(t, err)
		assert.Equal(t, 2, refreshes)
		assert.Equal(t, "billing", opened)
	})

	t.Run("priority order", func(t *testing.T) {
		var opened []string
		cell := func(name string) *el {
			return &el{Role: "cell", Name: name, OnClick: func(*browsertest.Page) { opened = append(opened, name) }}
		}
		page := browsertest.NewPage(&el{Role: "button", Name: "Refresh"}, cell("Awaiting Billing"), cell("Awaiting Shipping"))

		_, err := newTestExecutor(t, testOptions()).Execute(ctx, page, refreshAction(), "Orders", 1, NewVariables())
		require.NoError(t, err)
		assert.Equal(t, []string{"Awaiting Shipping"}, opened)
	})

	t.Run("closed opens the shipped cell", func(t *testing.T) {
		var opened []string
		cell := func(name string) *el {
			return &el{Role: "cell", Name: name, OnClick: func(*browsertest.Page) { opened = append(opened, name) }}
		}
		page := browsertest.NewPage(&el{Role: "button", Name: "Refresh"}, cell("Closed"), cell("Shipped"))

		_, err := newTestExecutor(t, testOptions()).Execute(ctx, page, refreshAction(), "Orders", 1, NewVariables())
		require.NoError(t, err)
		assert.Equal(t, []string{"Shipped"}, opened)
	})

	t.Run("exact names only", func(t *testing.T) {
		page := browsertest.NewPage(&el{Role: "button", Name: "Refresh"}, &el{Role: "cell", Name: "Awaiting Shipping Approval"})
		opts := testOptions()
		opts.RefreshMaxAttempts = 2

		_, err := newTestExecutor(t, opts).Execute(ctx, page, refreshAction(), "Orders", 1, NewVariables())
		var pollErr *StatusPollTimeoutError
		require.ErrorAs(t, err, &pollErr)
		assert.Equal(t, 2, pollErr.Attempts)
		assert.ErrorIs(t, err, poll.ErrExhausted)
		assert.Len(t, page.OpKinds("click"), 2)
	})

	t.Run("refresh control not ready keeps polling", func(t *testing.T) {
		var opened string
		refresh := &el{Role: "button", Name: "Refresh", ClickErr: fmt.Errorf("refresh button detached: %w", browser.ErrTimeout)}
		cell := &el{Role: "cell", Name: "Awaiting Shipping", VisibleAfter: 2, OnClick: func(*browsertest.Page) { opened = "shipping" }}
		page := browsertest.NewPage(refresh, cell)
		opts := testOptions()
		opts.RefreshMaxAttempts = 5

		_, err := newTestExecutor(t, opts).Execute(ctx, page, refreshAction(), "Orders", 1, NewVariables())
		require.NoError(t, err)
		assert.Equal(t, "shipping", opened)
		assert.Len(t, page.OpKinds("click"), 3, "two failed refreshes and the status cell")
	})

	t.Run("other refresh failures abort", func(t *testing.T) {
		crashed := errors.New("target closed")
		page := browsertest.NewPage(&el{Role: "button", Name: "Refresh", ClickErr: crashed})
		opts := testOptions()
		opts.RefreshMaxAttempts = 5

		_, err := newTestExecutor(t, opts).Execute(ctx, page, refreshAction(), "Orders", 1, NewVariables())
		assert.ErrorIs(t, err, crashed)
		var pollErr *StatusPollTimeoutError
		assert.False(t, errors.As(err, &pollErr))
		assert.Len(t, page.OpKinds("click"), 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		page := browsertest.NewPage(&el{Role: "button", Name: "Refresh"})

		_, err := newTestExecutor(t, testOptions()).Execute(cctx, page, refreshAction(), "Orders", 1, NewVariables())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
