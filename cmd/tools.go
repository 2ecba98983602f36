// File: cmd/tools.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/dsl"
	"github.com/xkilldash9x/flowreplay/internal/logtail"
	"github.com/xkilldash9x/flowreplay/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Prints the JSON Schema of the test-data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schemas.GenerateJSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expression>",
		Short: "Parses an action expression and prints its structured form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := dsl.Parse(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(action, "", "  ")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, string(data))
			if canonical, err := dsl.Format(action); err == nil {
				fmt.Fprintf(out, "canonical: %s\n", canonical)
			}
			return nil
		},
	}
}

func newConvertCmd() *cobra.Command {
	var name, output string

	convertCmd := &cobra.Command{
		Use:   "convert <script>",
		Short: "Converts a recorded browser script into a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			if name == "" {
				base := filepath.Base(args[0])
				name = strings.TrimSuffix(strings.TrimSuffix(base, filepath.Ext(base)), ".spec")
			}
			res, err := dsl.ConvertScript(name, string(script))
			if err != nil {
				return err
			}
			for _, line := range res.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %s\n", line)
			}

			data, err := schemas.EncodeTestData(schemas.TestData{res.Scenario})
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write scenario: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d action(s) to %s\n", res.Scenario.ActionCount(), output)
			return nil
		},
	}
	convertCmd.Flags().StringVar(&name, "name", "", "Scenario name (defaults to the script file name)")
	convertCmd.Flags().StringVarP(&output, "output", "o", "", "Write the scenario to a file instead of stdout")
	return convertCmd
}

func newLogsCmd() *cobra.Command {
	var follow, poll bool

	logsCmd := &cobra.Command{
		Use:   "logs <reportId>",
		Short: "Prints the worker log of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			layout, err := artifacts.NewLayout(cfg.Artifacts().Dir)
			if err != nil {
				return err
			}
			return logtail.Copy(cmd.Context(), layout.WorkerLogPath(args[0]), cmd.OutOrStdout(),
				logtail.Options{Follow: follow, Poll: poll}, observability.GetLogger())
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing as the worker writes")
	logsCmd.Flags().BoolVar(&poll, "poll", false, "Poll for changes instead of using inotify")
	logsCmd.Flags().String("artifacts", "", "Artifacts root directory (Overrides config/env)")
	return logsCmd
}
