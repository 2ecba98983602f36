package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

// Evaluator checks expect actions against the page. Apart from includes,
// every kind retries until the timeout elapses.
type Evaluator struct {
	timeout  time.Duration
	interval time.Duration
}

// NewEvaluator creates an evaluator retrying every interval for up to timeout.
func NewEvaluator(timeout, interval time.Duration) *Evaluator {
	return &Evaluator{timeout: timeout, interval: interval}
}

// Evaluate returns nil on pass, an *AssertionError on failure, or an
// *UnsupportedAssertionError for an unknown kind.
func (e *Evaluator) Evaluate(ctx context.Context, el browser.Locator, typ schemas.AssertionType, expected string) error {
	var check func(ctx context.Context) (string, bool, error)

	switch typ {
	case schemas.AssertToContainText:
		check = func(ctx context.Context) (string, bool, error) {
			actual, err := el.TextContent(ctx)
			return actual, err == nil && containsText(actual, expected), tolerateMissing(err)
		}
	case schemas.AssertToHaveText:
		check = func(ctx context.Context) (string, bool, error) {
			actual, err := el.TextContent(ctx)
			return actual, err == nil && equalText(actual, expected), tolerateMissing(err)
		}
	case schemas.AssertToHaveValue:
		check = func(ctx context.Context) (string, bool, error) {
			actual, err := el.InputValue(ctx)
			return actual, err == nil && actual == expected, tolerateMissing(err)
		}
	case schemas.AssertToBeVisible:
		check = func(ctx context.Context) (string, bool, error) {
			ok, err := el.IsVisible(ctx)
			return fmt.Sprintf("visible=%t", ok), ok, tolerateMissing(err)
		}
	case schemas.AssertIncludes:
		// A single manual fetch so the failure carries its own message.
		actual, err := el.TextContent(ctx)
		if err != nil {
			return fmt.Errorf("reading text for includes assertion: %w", err)
		}
		if !strings.Contains(actual, expected) {
			return &AssertionError{
				Type: typ, Expected: expected, Actual: actual,
				Message: fmt.Sprintf("Assertion failed: '%s' does not include '%s'", actual, expected),
			}
		}
		return nil
	default:
		return &UnsupportedAssertionError{Type: typ}
	}

	attempts := 1
	if e.interval > 0 && e.timeout > 0 {
		attempts = int(e.timeout/e.interval) + 1
	}
	var last string
	err := poll.Until(ctx, func(ctx context.Context, _ int) (bool, error) {
		actual, ok, err := check(ctx)
		last = actual
		return ok, err
	}, nil, e.interval, attempts)

	if errors.Is(err, poll.ErrExhausted) {
		return &AssertionError{Type: typ, Expected: expected, Actual: last}
	}
	return err
}

// tolerateMissing treats an absent element as a not-yet-passing check.
func tolerateMissing(err error) error {
	if err == nil || errors.Is(err, browser.ErrNotFound) || errors.Is(err, browser.ErrTimeout) {
		return nil
	}
	return err
}

func containsText(actual, expected string) bool {
	if pattern, _, ok := browser.SplitRegexLiteral(expected); ok {
		m, err := browser.NewTextMatcher(expected, false)
		return err == nil && pattern != "" && m.Match(actual)
	}
	return strings.Contains(normalize(actual), normalize(expected))
}

func equalText(actual, expected string) bool {
	if _, _, ok := browser.SplitRegexLiteral(expected); ok {
		m, err := browser.NewTextMatcher(expected, true)
		return err == nil && m.Match(actual)
	}
	return normalize(actual) == normalize(expected)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
