// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/browser/cdpdriver"
	"github.com/xkilldash9x/flowreplay/internal/browser/pwdriver"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/store"
)

// newDriver picks the browser driver named by browser.driver.
func newDriver(cfg config.BrowserConfig, logger *zap.Logger) browser.Driver {
	if cfg.Driver == "chromedp" {
		return cdpdriver.New(cfg, logger)
	}
	return pwdriver.New(cfg, logger)
}

// dbComponents holds the database pool and the store on top of it.
type dbComponents struct {
	Pool  *pgxpool.Pool
	Store *store.Store
}

// Close releases the pool.
func (c *dbComponents) Close() {
	if c != nil && c.Pool != nil {
		c.Pool.Close()
	}
}

// openStore connects to database.url and applies the schema.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*dbComponents, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (FLOWREPLAY_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c := &dbComponents{Pool: pool}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.Store = st
	return c, nil
}
