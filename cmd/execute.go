// File: cmd/execute.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/events"
	"github.com/xkilldash9x/flowreplay/internal/gateway"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/stream"
	"github.com/xkilldash9x/flowreplay/internal/supervisor"
)

func newExecuteCmd() *cobra.Command {
	var (
		scenarioFiles []string
		dataFile      string
		env           string
		quiet         bool
	)

	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "Assembles scenarios and runs them in a supervised worker, streaming its output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			td, err := gateway.LoadScenarios(scenarioFiles...)
			if err != nil {
				return err
			}
			layout, err := artifacts.NewLayout(cfg.Artifacts().Dir)
			if err != nil {
				return err
			}

			reportID := uuid.NewString()
			dataPath, expanded, err := gateway.NewAssembler(logger, layout, gateway.WithStrict(cfg.Runner().StrictMode)).Assemble(gateway.Request{
				ReportID:  reportID,
				Scenarios: td,
				DataFile:  dataFile,
				Env:       env,
			})
			if err != nil {
				return err
			}

			sinks := supervisor.MultiSink{supervisor.SinkFunc(func(_ context.Context, id string, status schemas.ReportStatus, exitCode *int) error {
				logger.Info("Report status changed.", zap.String("report_id", id), zap.String("status", string(status)))
				return nil
			})}
			if cfg.Database().URL != "" {
				db, err := openStore(ctx, cfg.Database(), logger)
				if err != nil {
					return err
				}
				defer db.Close()
				ids := make([]string, 0, len(expanded))
				for _, sc := range expanded {
					ids = append(ids, sc.Name)
				}
				if err := db.Store.CreateReport(ctx, schemas.Report{ID: reportID, ScenarioIDs: ids, ResultPath: layout.ReportDir(reportID)}); err != nil {
					return err
				}
				sinks = append(sinks, db.Store)
			}
			publisher, err := events.Connect(cfg.Events(), logger)
			if err != nil {
				logger.Warn("Status events disabled", zap.Error(err))
			}
			if publisher != nil {
				defer closeWithTimeout(ctx, publisher.Close, 5*time.Second)
				sinks = append(sinks, publisher)
			}

			hub := stream.NewHub(logger, nil)
			defer hub.Close()
			feed, unsubscribe := hub.Subscribe(reportID)
			defer unsubscribe()

			sup := supervisor.New(logger, supervisor.OptionsFromConfig(cfg), layout, sinks, hub, nil)
			defer closeWithTimeout(ctx, sup.Shutdown, 10*time.Second)

			if _, err := sup.Start(ctx, reportID, dataPath); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}
			status := relay(ctx, feed, out)

			info, err := sup.Wait(ctx, reportID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nReport %s: %s\nArtifacts: %s\n", reportID, status, layout.ReportDir(reportID))
			if status != schemas.ReportCompleted {
				code := -1
				if info.ExitCode != nil {
					code = *info.ExitCode
				}
				return fmt.Errorf("worker for report %s %s (exit code %d)", reportID, status, code)
			}
			return nil
		},
	}

	executeCmd.Flags().StringSliceVar(&scenarioFiles, "scenarios", nil, "Scenario JSON files (comma-separated or repeated)")
	executeCmd.Flags().StringVar(&dataFile, "data", "", "Environment YAML file with data rows")
	executeCmd.Flags().StringVar(&env, "env", "", "Environment to take rows from (optional when the file has one)")
	executeCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not echo worker output")
	executeCmd.Flags().String("artifacts", "", "Artifacts root directory (Overrides config/env)")
	executeCmd.Flags().String("database-url", "", "Record the report in PostgreSQL (Overrides config/env)")
	executeCmd.Flags().String("nats-url", "", "Publish status changes to NATS (Overrides config/env)")
	_ = executeCmd.MarkFlagRequired("scenarios")
	return executeCmd
}

// relay copies worker output to w until a terminal status arrives or ctx ends.
func relay(ctx context.Context, feed <-chan schemas.StreamEvent, w io.Writer) schemas.ReportStatus {
	status := schemas.ReportRunning
	for {
		select {
		case <-ctx.Done():
			return status
		case ev, ok := <-feed:
			if !ok {
				return status
			}
			switch payload := ev.Payload.(type) {
			case string:
				fmt.Fprintln(w, payload)
			case schemas.StatusPayload:
				status = payload.Status
				if status.Terminal() {
					return status
				}
			}
		}
	}
}

func closeWithTimeout(ctx context.Context, closeFn func(context.Context) error, timeout time.Duration) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := closeFn(closeCtx); err != nil {
		observability.GetLogger().Warn("Shutdown incomplete", zap.Error(err))
	}
}
