// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/extservice"
	"github.com/xkilldash9x/flowreplay/internal/interpreter"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/runner"
)

// scenariosFailedError makes the process exit non-zero after a run in which
// at least one scenario failed.
type scenariosFailedError struct {
	Failed int
	Total  int
}

func (e *scenariosFailedError) Error() string {
	return fmt.Sprintf("%d of %d scenarios failed", e.Failed, e.Total)
}

func newRunCmd() *cobra.Command {
	var dataFile, reportID string

	runCmd := &cobra.Command{
		Use:         "run",
		Short:       "Runs the scenarios of a test-data file (worker mode)",
		Annotations: map[string]string{workerAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			if reportID != "" {
				logger = logger.With(zap.String("report_id", reportID))
			}

			data, err := os.ReadFile(dataFile)
			if err != nil {
				return fmt.Errorf("failed to read test data: %w", err)
			}
			td, err := schemas.DecodeTestData(data)
			if err != nil {
				return err
			}
			if err := runner.Prepare(td, cfg.Runner().StrictMode, logger); err != nil {
				return err
			}

			layout, err := artifacts.NewLayout(cfg.Artifacts().Dir)
			if err != nil {
				return err
			}
			reportDir := layout.ReportDir(reportID)

			driver := newDriver(cfg.Browser(), logger)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if err := driver.Close(closeCtx); err != nil {
					logger.Warn("Error during browser shutdown", zap.Error(err))
				}
			}()

			checker := extservice.NewChecker(logger, cfg.External())
			exec := interpreter.NewExecutor(logger, nil, checker, interpreter.OptionsFromConfig(cfg))
			r := runner.New(logger, driver, exec, runner.OptionsFromConfig(cfg))

			logger.Info("Worker started.", zap.String("data", dataFile), zap.Int("scenarios", len(td)), zap.String("driver", cfg.Browser().Driver))
			summary, runErr := r.Run(ctx, td, reportID, reportDir)

			if reportID != "" && cfg.Database().URL != "" {
				persistSummary(ctx, cfg.Database(), summary, logger)
			}

			for _, res := range summary.Scenarios {
				if res.Passed {
					logger.Info("Scenario passed.", zap.String("scenario", res.Scenario), zap.Int("steps", len(res.Steps)))
				} else {
					logger.Error("Scenario failed.", zap.String("scenario", res.Scenario), zap.String("error", res.Error))
				}
			}
			logger.Info("Worker finished.",
				zap.Int("passed", summary.Passed),
				zap.Int("failed", summary.Failed),
				zap.String("report_dir", reportDir),
			)

			if runErr != nil {
				return runErr
			}
			if summary.Failed > 0 {
				return &scenariosFailedError{Failed: summary.Failed, Total: len(summary.Scenarios)}
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&dataFile, "data", "", "Path to the test-data JSON file")
	runCmd.Flags().StringVar(&reportID, "report", "", "Report id the artifacts are filed under")
	runCmd.Flags().String("driver", "playwright", "Browser driver: playwright or chromedp (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless (Overrides config/env)")
	runCmd.Flags().Bool("strict", false, "Fail when a locator matches more than one element (Overrides config/env)")
	runCmd.Flags().Bool("soft", false, "Record assertion failures and continue (Overrides config/env)")
	runCmd.Flags().String("artifacts", "", "Artifacts root directory (Overrides config/env)")
	_ = runCmd.MarkFlagRequired("data")
	return runCmd
}

// persistSummary stores per-scenario results. The summary file on disk stays
// authoritative, so failures are only logged.
func persistSummary(ctx context.Context, cfg config.DatabaseConfig, summary schemas.RunSummary, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Skipping result persistence", zap.Error(err))
		return
	}
	defer db.Close()
	if err := db.Store.PersistSummary(ctx, summary); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Failed to persist run summary", zap.Error(err))
	}
}
