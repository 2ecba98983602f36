package cdpdriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

const visibilityPollInterval = 100 * time.Millisecond

// Locator is an immutable chain of engine steps. Operations act on the first
// matching element.
type Locator struct {
	page  *Page
	steps []step
	err   error
	desc  string
}

var _ browser.Locator = (*Locator)(nil)

func (l *Locator) with(s step, desc string, err error) *Locator {
	next := &Locator{page: l.page, err: l.err, desc: desc}
	if l.desc != "" {
		next.desc = l.desc + " >> " + desc
	}
	if next.err == nil {
		next.err = err
	}
	next.steps = append(append([]step(nil), l.steps...), s)
	return next
}

func (l *Locator) Locate(sel browser.Selector) browser.Locator {
	s, err := stepFor(sel)
	return l.with(s, sel.String(), err)
}

func (l *Locator) Filter(hasText, hasNot string) browser.Locator {
	s := step{Op: "filter"}
	var err error
	if hasText != "" {
		s.HasText, err = newMatcher(hasText, false)
	}
	if err == nil && hasNot != "" {
		s.HasNot, err = newMatcher(hasNot, false)
	}
	return l.with(s, fmt.Sprintf("filter(hasText=%q, hasNot=%q)", hasText, hasNot), err)
}

func (l *Locator) Nth(i int) browser.Locator {
	return l.with(step{Op: "nth", N: i}, fmt.Sprintf("nth=%d", i), nil)
}

func (l *Locator) String() string { return l.desc }

// eval runs one engine operation. A missing element maps to browser.ErrNotFound.
func (l *Locator) eval(ctx context.Context, op, arg string) (engineResult, error) {
	var res engineResult
	if l.err != nil {
		return res, l.err
	}
	expr, err := engineCall(l.steps, op, arg)
	if err != nil {
		return res, err
	}
	if err := l.page.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return res, fmt.Errorf("%s: %s: %w", l.desc, op, err)
	}
	switch {
	case res.Error == "not found":
		return res, fmt.Errorf("%s: %w", l.desc, browser.ErrNotFound)
	case res.Error != "":
		return res, fmt.Errorf("%s: %s", l.desc, res.Error)
	}
	return res, nil
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	res, err := l.eval(ctx, "count", "")
	return res.Count, err
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	res, err := l.eval(ctx, "visible", "")
	return res.Visible, err
}

func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	attempts := int(timeout/visibilityPollInterval) + 1
	err := poll.Until(ctx, func(ctx context.Context, _ int) (bool, error) {
		return l.IsVisible(ctx)
	}, nil, visibilityPollInterval, attempts)
	if errors.Is(err, poll.ErrExhausted) {
		return fmt.Errorf("%s after %s: %w", l.desc, timeout, browser.ErrTimeout)
	}
	return err
}

func (l *Locator) point(ctx context.Context) (float64, float64, error) {
	res, err := l.eval(ctx, "point", "")
	return res.X, res.Y, err
}

func (l *Locator) Click(ctx context.Context) error {
	x, y, err := l.point(ctx)
	if err != nil {
		return err
	}
	return l.page.run(ctx, chromedp.MouseClickXY(x, y))
}

func (l *Locator) Hover(ctx context.Context) error {
	x, y, err := l.point(ctx)
	if err != nil {
		return err
	}
	return l.page.run(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

func (l *Locator) Highlight(ctx context.Context) error {
	_, err := l.eval(ctx, "highlight", "")
	return err
}

// Fill clears the element and inserts value as a single input event.
func (l *Locator) Fill(ctx context.Context, value string) error {
	if _, err := l.eval(ctx, "clear", ""); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	return l.page.run(ctx, input.InsertText(value))
}

func (l *Locator) Press(ctx context.Context, key string) error {
	events, err := keyEvents(key)
	if err != nil {
		return err
	}
	if _, err := l.eval(ctx, "focus", ""); err != nil {
		return err
	}
	return l.page.run(ctx, events...)
}

func (l *Locator) SelectOption(ctx context.Context, value string) error {
	_, err := l.eval(ctx, "select", value)
	return err
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	res, err := l.eval(ctx, "text", "")
	return res.Value, err
}

func (l *Locator) InputValue(ctx context.Context) (string, error) {
	res, err := l.eval(ctx, "inputValue", "")
	return res.Value, err
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := l.eval(ctx, "attribute", name)
	return res.Value, res.Present, err
}
