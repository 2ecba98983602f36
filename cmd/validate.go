// File: cmd/validate.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/runner"
)

// watchDebounce collapses the burst of events editors emit on save.
const watchDebounce = 300 * time.Millisecond

var errInvalidTestData = errors.New("test data is invalid")

func newValidateCmd() *cobra.Command {
	var watch, strict bool

	validateCmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Checks test-data files against the schema and the action grammar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			strict = cfg.Runner().StrictMode
			out := cmd.OutOrStdout()
			ok := true
			for _, path := range args {
				if !validateFile(path, out, strict) {
					ok = false
				}
			}
			if watch {
				return watchFiles(cmd.Context(), args, out, strict)
			}
			if !ok {
				return errInvalidTestData
			}
			return nil
		},
	}
	validateCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-validate whenever a file changes")
	validateCmd.Flags().BoolVar(&strict, "strict", false, "Reject actions whose raw text contradicts their structured fields")
	return validateCmd
}

// validateFile prints the issues found in path and reports whether it is valid.
func validateFile(path string, out io.Writer, strict bool) bool {
	issues, err := validateTestData(path, strict)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return false
	}
	if len(issues) == 0 {
		fmt.Fprintf(out, "%s: ok\n", path)
		return true
	}
	fmt.Fprintf(out, "%s: %d issue(s)\n", path, len(issues))
	for _, issue := range issues {
		fmt.Fprintf(out, "  %s\n", issue)
	}
	return false
}

func validateTestData(path string, strict bool) ([]schemas.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if issues := schemas.ValidateSchema(data); len(issues) > 0 {
		return issues, nil
	}
	td, err := schemas.DecodeTestData(data)
	if err != nil {
		return nil, err
	}
	if err := runner.Prepare(td, strict, nil); err != nil {
		return []schemas.Issue{{Phase: "domain", Message: err.Error()}}, nil
	}
	return nil, nil
}

// watchFiles re-validates a file after it is written. Directories are watched
// rather than files so editors that replace the file on save keep working.
func watchFiles(ctx context.Context, paths []string, out io.Writer, strict bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}
	fmt.Fprintln(out, "Watching for changes. Press Ctrl+C to stop.")

	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pending[filepath.Clean(event.Name)] = true
				timer.Reset(watchDebounce)
			}
		case <-timer.C:
			for path := range pending {
				validateFile(path, out, strict)
			}
			clear(pending)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "file watcher error: %v\n", err)
		}
	}
}
