// File: cmd/serve.go
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/events"
	"github.com/xkilldash9x/flowreplay/internal/gateway"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/server"
	"github.com/xkilldash9x/flowreplay/internal/stream"
	"github.com/xkilldash9x/flowreplay/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API that accepts executions and streams their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			layout, err := artifacts.NewLayout(cfg.Artifacts().Dir)
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			sinks := supervisor.MultiSink{db.Store}
			publisher, err := events.Connect(cfg.Events(), logger)
			if err != nil {
				logger.Warn("Status events disabled", zap.Error(err))
			}
			if publisher != nil {
				defer closeWithTimeout(ctx, publisher.Close, 5*time.Second)
				sinks = append(sinks, publisher)
			}

			metrics := observability.NewMetrics()
			hub := stream.NewHub(logger, metrics)
			defer hub.Close()

			sup := supervisor.New(logger, supervisor.OptionsFromConfig(cfg), layout, sinks, hub, metrics)
			defer closeWithTimeout(ctx, sup.Shutdown, cfg.Server().ShutdownTimeout)

			handlers := server.NewHandlers(logger, db.Store, sup, gateway.NewAssembler(logger, layout, gateway.WithStrict(cfg.Runner().StrictMode)), layout, hub, cfg.Server().ScenarioDir)
			srv := server.NewServer(logger, cfg.Server(), handlers, metrics)

			logger.Info("Serving executions.", zap.String("addr", cfg.Server().Addr), zap.String("artifacts", layout.Root))
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().String("addr", ":8080", "Listen address (Overrides config/env)")
	serveCmd.Flags().String("database-url", "", "PostgreSQL URL (Overrides config/env)")
	serveCmd.Flags().String("nats-url", "", "Publish status changes to NATS (Overrides config/env)")
	serveCmd.Flags().String("scenario-dir", "", "Directory scenarioIds resolve against (Overrides config/env)")
	serveCmd.Flags().String("artifacts", "", "Artifacts root directory (Overrides config/env)")
	return serveCmd
}
