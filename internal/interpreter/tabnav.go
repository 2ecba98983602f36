package interpreter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

const (
	navContainerSelector = "#navmenu-container"
	navIndexAttribute    = "nav-page-index"
	navLeftSelector      = "//div[@id='clusters-left-nav']"
	navRightSelector     = "//div[@id='clusters-right-nav']"
)

// tabBuckets maps each top navigation tab to the page of tab clusters it
// appears on.
var tabBuckets = map[string]int{
	"Redwood Sales":      0,
	"Service":            0,
	"Me":                 0,
	"Procurement":        0,
	"Help Desk":          0,
	"Product Management": 0,

	"Benefits Administration": 1,
	"Subscription Management": 1,
	"Contract Management":     1,

	"Order Management":       2,
	"Supply Chain Execution": 2,
	"Receivables":            2,
	"Collections":            2,

	"Supply Chain Planning": 3,
	"Supplier Portal":       3,
	"Payables":              3,
	"General Accounting":    3,

	"Intercompany Accounting":  4,
	"Academics":                4,
	"Academic Tools":           4,
	"Permitting and Licensing": 4,

	"Sustainability":     5,
	"My Enterprise":      5,
	"Tools":              5,
	"Configuration":      5,
	"PLM Administration": 5,

	"PLM Custom Objects": 6,
	"Others":             6,
}

// KnownTab reports whether label is a tab in the paginated navigation.
func KnownTab(label string) bool {
	_, ok := tabBuckets[label]
	return ok
}

// TabBucket returns the navigation page a tab is on.
func TabBucket(label string) (int, bool) {
	b, ok := tabBuckets[label]
	return b, ok
}

func tabLabel(a schemas.Action) string {
	if a.Params.Name != "" {
		return a.Params.Name
	}
	return a.Selector
}

// navigateTab shifts the tab clusters left or right until the page holding
// the target tab is shown, then clicks it.
func (e *Executor) navigateTab(ctx context.Context, page browser.Page, a schemas.Action, target browser.Locator, log *zap.Logger) error {
	label := tabLabel(a)
	bucket, ok := TabBucket(label)
	if !ok {
		log.Warn("Tab is not in the navigation table, clicking directly.", zap.String("tab", label))
		return target.Click(ctx)
	}

	container := page.Locate(browser.CSS(navContainerSelector))
	predicate := func(ctx context.Context, attempt int) (bool, error) {
		e.metrics.PollAttempt("tab_navigation")
		raw, present, err := container.Attribute(ctx, navIndexAttribute)
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", navIndexAttribute, err)
		}
		if !present || strings.TrimSpace(raw) == "" {
			return false, fmt.Errorf("%s has no %s attribute", navContainerSelector, navIndexAttribute)
		}
		current, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return false, fmt.Errorf("%s %q is not a number", navIndexAttribute, raw)
		}

		log.Debug("Checking navigation page.",
			zap.String("tab", label), zap.Int("current", current), zap.Int("target", bucket), zap.Int("attempt", attempt))
		if current == bucket {
			return true, nil
		}

		arrow := navRightSelector
		if bucket < current {
			arrow = navLeftSelector
		}
		if err := page.Locate(browser.CSS(arrow)).Nth(0).Click(ctx); err != nil {
			return false, fmt.Errorf("shifting tab clusters: %w", err)
		}
		return false, nil
	}

	err := poll.Until(ctx, predicate, func(ctx context.Context) error {
		log.Info("Tab is on the current navigation page, clicking.", zap.String("tab", label))
		return target.Click(ctx)
	}, e.opts.NavSettle, e.opts.NavMaxAttempts)

	switch {
	case err == nil:
		return nil
	case isExhausted(err):
		return &TabNavigationError{Tab: label, Attempts: e.opts.NavMaxAttempts}
	default:
		return &TabNavigationError{Tab: label, Err: err}
	}
}
