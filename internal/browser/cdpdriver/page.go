package cdpdriver

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// Page is one chromedp tab.
type Page struct {
	logger     *zap.Logger
	tabCtx     context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	recorder   *recorder

	mu     sync.Mutex
	closed bool
	video  string
}

var _ browser.Page = (*Page)(nil)

// run executes actions against the tab while honouring ctx. chromedp needs
// the tab context as the parent, so ctx only contributes cancellation.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if p.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.navTimeout)
		defer cancel()
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigating to %s: %w", url, browser.ErrTimeout)
		}
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (p *Page) Locate(sel browser.Selector) browser.Locator {
	return (&Locator{page: p}).Locate(sel)
}

func (p *Page) Press(ctx context.Context, key string) error {
	events, err := keyEvents(key)
	if err != nil {
		return err
	}
	return p.run(ctx, events...)
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("capturing screenshot: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

func (p *Page) VideoPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

// Close stops the recorder, writes the GIF and closes the tab.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.recorder != nil {
		// One last frame so the recording ends on the final state.
		_ = p.run(ctx, chromedp.ActionFunc(p.recorder.snapshot))
		path, err := p.recorder.finish()
		if err != nil {
			p.logger.Warn("Could not write session recording.", zap.Error(err))
		}
		p.video = path
	}

	closeErr := chromedp.Run(p.tabCtx, page.Close())
	p.cancel()
	if closeErr != nil && p.tabCtx.Err() == nil {
		p.logger.Debug("Tab close returned an error.", zap.Error(closeErr))
	}
	return nil
}
