package interpreter

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

// statusCell pairs a status label with the cell to click once it shows.
type statusCell struct {
	status string
	click  string
}

// refreshStatuses is checked in order on every attempt.
var refreshStatuses = []statusCell{
	{status: "Awaiting Shipping", click: "Awaiting Shipping"},
	{status: "Awaiting Billing", click: "Awaiting Billing"},
	{status: "Closed", click: "Shipped"},
}

// refreshUntilStatus clicks the refresh control until one of the known
// statuses is visible, then clicks that status cell.
func (e *Executor) refreshUntilStatus(ctx context.Context, page browser.Page, refresh browser.Locator, log *zap.Logger) error {
	var matched statusCell

	predicate := func(ctx context.Context, attempt int) (bool, error) {
		e.metrics.PollAttempt("refresh")
		for _, s := range refreshStatuses {
			visible, err := page.Locate(browser.Role("cell", s.status, true)).Nth(0).IsVisible(ctx)
			if err != nil {
				return false, err
			}
			if visible {
				matched = s
				return true, nil
			}
		}
		log.Debug("No status change yet, refreshing.", zap.Int("attempt", attempt))
		if err := refresh.Click(ctx); err != nil {
			if !errors.Is(err, browser.ErrTimeout) && !errors.Is(err, browser.ErrNotFound) {
				return false, err
			}
			log.Debug("Refresh control not ready, retrying.", zap.Int("attempt", attempt), zap.Error(err))
		}
		return false, nil
	}

	err := poll.Until(ctx, predicate, func(ctx context.Context) error {
		log.Info("Status reached.", zap.String("status", matched.status))
		return page.Locate(browser.Role("cell", matched.click, true)).Nth(0).Click(ctx)
	}, e.opts.RefreshInterval, e.opts.RefreshMaxAttempts)

	if isExhausted(err) {
		return &StatusPollTimeoutError{Attempts: e.opts.RefreshMaxAttempts, Err: err}
	}
	return err
}

func isExhausted(err error) bool {
	return errors.Is(err, poll.ErrExhausted)
}
