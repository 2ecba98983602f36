// internal/browser/pwdriver/driver.go
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	launchTimeout            = 60 * time.Second
)

// Driver owns one Playwright process and one Chromium instance. Browser
// startup is deferred until the first page is requested.
type Driver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	pw      *playwright.Playwright
	browser playwright.Browser

	initOnce sync.Once
	initErr  error

	mu    sync.Mutex
	pages []*Page
}

var _ browser.Driver = (*Driver)(nil)

// New creates a driver. Nothing is launched until NewPage.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	d := &Driver{
		logger: logger.Named("pwdriver"),
		cfg:    cfg,
	}
	d.logger.Debug("Playwright driver created (launch deferred).")
	return d
}

func (d *Driver) initialize(ctx context.Context) error {
	d.initOnce.Do(func() {
		d.logger.Info("Starting Playwright and launching Chromium.")

		if d.cfg.Install {
			if err := d.ensureInstallation(ctx); err != nil {
				d.initErr = err
				return
			}
		}

		pw, err := playwright.Run()
		if err != nil {
			d.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}
		d.pw = pw

		b, err := pw.Chromium.Launch(d.launchOptions())
		if err != nil {
			_ = pw.Stop()
			d.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}
		d.browser = b
		d.logger.Info("Browser launched.", zap.String("browser_version", b.Version()), zap.Bool("headless", d.cfg.Headless))
	})
	return d.initErr
}

func (d *Driver) ensureInstallation(ctx context.Context) error {
	d.logger.Info("Verifying Playwright browser installation.")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			done <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (d *Driver) launchOptions() playwright.BrowserTypeLaunchOptions {
	defaultArgs := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
	}
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args:     append(defaultArgs, d.cfg.Args...),
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	}
}

// NewPage opens a fresh browser context with a single page. Each page owns
// its context so recordings and cookies never leak between scenarios.
func (d *Driver) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: d.cfg.Viewport.Width, Height: d.cfg.Viewport.Height},
	}
	if opts.VideoDir != "" && d.cfg.RecordVideo {
		ctxOpts.RecordVideo = &playwright.RecordVideo{
			Dir:  opts.VideoDir,
			Size: &playwright.Size{Width: d.cfg.VideoSize.Width, Height: d.cfg.VideoSize.Height},
		}
	}

	bctx, err := d.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if d.cfg.DefaultTimeout > 0 {
		pg.SetDefaultTimeout(float64(d.cfg.DefaultTimeout.Milliseconds()))
	}
	if d.cfg.NavigationTimeout > 0 {
		pg.SetDefaultNavigationTimeout(float64(d.cfg.NavigationTimeout.Milliseconds()))
	}

	p := &Page{logger: d.logger, bctx: bctx, page: pg, recording: ctxOpts.RecordVideo != nil}
	d.mu.Lock()
	d.pages = append(d.pages, p)
	d.mu.Unlock()
	return p, nil
}

// Close closes any pages still open, then the browser and the driver.
func (d *Driver) Close(ctx context.Context) error {
	if d.pw == nil {
		d.logger.Debug("Driver never started, nothing to shut down.")
		return nil
	}

	d.mu.Lock()
	pages := d.pages
	d.pages = nil
	d.mu.Unlock()
	for _, p := range pages {
		if err := p.Close(ctx); err != nil {
			d.logger.Warn("Error closing page during shutdown.", zap.Error(err))
		}
	}

	var errs []error
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			d.logger.Error("Failed to close browser instance.", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if err := d.pw.Stop(); err != nil {
		d.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to stop playwright driver: %w", err))
	}
	d.logger.Info("Playwright driver shut down.")
	return errors.Join(errs...)
}

// translate maps Playwright's timeout onto browser.ErrTimeout.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", browser.ErrTimeout, err)
	}
	return err
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
