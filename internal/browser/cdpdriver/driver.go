// internal/browser/cdpdriver/driver.go
package cdpdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

const shutdownTimeout = 10 * time.Second

// Driver runs pages as tabs of a single Chrome instance driven over CDP.
type Driver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc

	initOnce sync.Once
	initErr  error

	mu    sync.Mutex
	pages []*Page
}

var _ browser.Driver = (*Driver)(nil)

// New creates a driver. Chrome starts with the first page.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	return &Driver{logger: logger.Named("cdpdriver"), cfg: cfg}
}

// allocatorOptions mirrors the flags the playwright driver launches with.
func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(d.cfg.Viewport.Width, d.cfg.Viewport.Height),
	}
	if d.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	for _, arg := range d.cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

func (d *Driver) initialize() error {
	d.initOnce.Do(func() {
		d.logger.Info("Launching Chrome over CDP.", zap.Bool("headless", d.cfg.Headless))
		// Chrome outlives any single request context.
		d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
		d.browserCtx, d.cancel = chromedp.NewContext(d.allocCtx,
			chromedp.WithErrorf(d.logger.Sugar().Debugf),
		)
		if err := chromedp.Run(d.browserCtx); err != nil {
			d.cancel()
			d.allocCancel()
			d.initErr = fmt.Errorf("failed to start browser: %w", err)
		}
	})
	return d.initErr
}

// NewPage opens a tab. Recording, when enabled, captures screenshots at the
// configured frame interval and encodes them as a GIF on Close.
func (d *Driver) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	if err := d.initialize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx)
	if err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(d.cfg.Viewport.Width), int64(d.cfg.Viewport.Height)),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := &Page{
		logger:     d.logger,
		tabCtx:     tabCtx,
		cancel:     cancel,
		navTimeout: d.cfg.NavigationTimeout,
	}
	if opts.VideoDir != "" && d.cfg.RecordVideo {
		p.recorder = newRecorder(d.logger, opts.VideoDir, d.cfg.VideoSize, d.cfg.FrameInterval)
		p.recorder.start(tabCtx)
	}

	d.mu.Lock()
	d.pages = append(d.pages, p)
	d.mu.Unlock()
	return p, nil
}

// Close closes open tabs and then Chrome itself.
func (d *Driver) Close(ctx context.Context) error {
	if d.browserCtx == nil {
		return nil
	}

	d.mu.Lock()
	pages := d.pages
	d.pages = nil
	d.mu.Unlock()
	for _, p := range pages {
		if err := p.Close(ctx); err != nil {
			d.logger.Warn("Error closing tab during shutdown.", zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(shutdownTimeout):
		d.logger.Warn("Browser shutdown timed out, forcing.", zap.Duration("timeout", shutdownTimeout))
	}
	d.cancel()
	d.allocCancel()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	d.logger.Info("Chrome shut down.")
	return nil
}
