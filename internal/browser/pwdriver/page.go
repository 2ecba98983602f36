package pwdriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

const highlightScript = `el => { el.style.outline = '3px solid #e53935'; el.style.outlineOffset = '2px'; }`

const attributeScript = `(el, name) => el.getAttribute(name)`

// Page wraps a Playwright page and the context that owns it.
type Page struct {
	logger *zap.Logger
	bctx   playwright.BrowserContext
	page   playwright.Page

	recording bool

	mu     sync.Mutex
	closed bool
	video  string
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, translate(err))
	}
	return nil
}

func (p *Page) Locate(sel browser.Selector) browser.Locator {
	loc, err := pageLocator(p.page, sel)
	return &Locator{loc: loc, err: err, desc: sel.String()}
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(p.page.Keyboard().Press(key))
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return translate(err)
}

func (p *Page) VideoPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

// Close closes the page and its context. Playwright writes the recording
// when the context closes.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.page.Close(); err != nil {
		p.logger.Debug("Page close returned an error.", zap.Error(err))
	}
	if p.recording {
		if path, err := p.page.Video().Path(); err == nil {
			p.video = path
		} else {
			p.logger.Warn("Could not resolve video path.", zap.Error(err))
		}
	}
	if err := p.bctx.Close(); err != nil {
		return fmt.Errorf("closing browser context: %w", err)
	}
	return nil
}

// Locator adapts playwright.Locator. A selector that failed to compile is
// carried in err and reported by the first operation.
type Locator struct {
	loc  playwright.Locator
	err  error
	desc string
}

var _ browser.Locator = (*Locator)(nil)

func (l *Locator) derive(desc string, fn func(playwright.Locator) (playwright.Locator, error)) *Locator {
	next := &Locator{err: l.err, desc: l.desc + " >> " + desc}
	if l.err == nil {
		next.loc, next.err = fn(l.loc)
	}
	return next
}

func (l *Locator) Locate(sel browser.Selector) browser.Locator {
	return l.derive(sel.String(), func(loc playwright.Locator) (playwright.Locator, error) {
		return childLocator(loc, sel)
	})
}

func (l *Locator) Filter(hasText, hasNot string) browser.Locator {
	return l.derive(fmt.Sprintf("filter(hasText=%q, hasNot=%q)", hasText, hasNot), func(loc playwright.Locator) (playwright.Locator, error) {
		var opts playwright.LocatorFilterOptions
		if hasText != "" {
			v, _, err := textArg(hasText, false)
			if err != nil {
				return nil, err
			}
			opts.HasText = v
		}
		if hasNot != "" {
			v, _, err := textArg(hasNot, false)
			if err != nil {
				return nil, err
			}
			opts.HasNotText = v
		}
		return loc.Filter(opts), nil
	})
}

func (l *Locator) Nth(i int) browser.Locator {
	return l.derive(fmt.Sprintf("nth=%d", i), func(loc playwright.Locator) (playwright.Locator, error) {
		return loc.Nth(i), nil
	})
}

func (l *Locator) String() string { return l.desc }

func (l *Locator) ready(ctx context.Context) error {
	if l.err != nil {
		return l.err
	}
	return ctx.Err()
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	if err := l.ready(ctx); err != nil {
		return 0, err
	}
	n, err := l.loc.Count()
	return n, translate(err)
}

func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	// Playwright reads a zero timeout as "wait forever".
	if timeout <= 0 {
		ok, err := l.loc.IsVisible()
		if err != nil {
			return translate(err)
		}
		if !ok {
			return fmt.Errorf("%s: %w", l.desc, browser.ErrTimeout)
		}
		return nil
	}
	err := l.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
	return translate(err)
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	if err := l.ready(ctx); err != nil {
		return false, err
	}
	ok, err := l.loc.IsVisible()
	return ok, translate(err)
}

func (l *Locator) Click(ctx context.Context) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	return translate(l.loc.Click())
}

func (l *Locator) Hover(ctx context.Context) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	return translate(l.loc.Hover())
}

func (l *Locator) Highlight(ctx context.Context) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	_, err := l.loc.Evaluate(highlightScript, nil)
	return translate(err)
}

func (l *Locator) Fill(ctx context.Context, value string) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	return translate(l.loc.Fill(value))
}

func (l *Locator) Press(ctx context.Context, key string) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	return translate(l.loc.Press(key))
}

func (l *Locator) SelectOption(ctx context.Context, value string) error {
	if err := l.ready(ctx); err != nil {
		return err
	}
	_, err := l.loc.SelectOption(playwright.SelectOptionValues{Values: playwright.StringSlice(value)})
	return translate(err)
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	if err := l.ready(ctx); err != nil {
		return "", err
	}
	s, err := l.loc.TextContent()
	return s, translate(err)
}

func (l *Locator) InputValue(ctx context.Context) (string, error) {
	if err := l.ready(ctx); err != nil {
		return "", err
	}
	s, err := l.loc.InputValue()
	return s, translate(err)
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := l.ready(ctx); err != nil {
		return "", false, err
	}
	v, err := l.loc.Evaluate(attributeScript, name)
	if err != nil {
		return "", false, translate(err)
	}
	s, ok := v.(string)
	return s, ok, nil
}
