// Package artifacts owns the on-disk layout of a run: one directory per
// report holding screenshots, recordings, the worker log and summary.json.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	SummaryFile   = "summary.json"
	WorkerLogFile = "worker.log"
	// TestDataFile is the assembled input the supervisor hands to a worker.
	TestDataFile = "testdata.json"

	timestampLayout = "20060102T150405"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName makes s usable as a file name component.
func SafeName(s string) string {
	s = strings.Trim(unsafeName.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "unnamed"
	}
	return s
}

// ScreenshotName is "<screen>_step<N>.png", or "<screen>_step<N>_failed.png".
func ScreenshotName(screen string, step int, failed bool) string {
	if failed {
		return fmt.Sprintf("%s_step%d_failed.png", SafeName(screen), step)
	}
	return fmt.Sprintf("%s_step%d.png", SafeName(screen), step)
}

// VideoName is "<scenario>_<timestamp><ext>". ext keeps its leading dot.
func VideoName(scenario string, at time.Time, ext string) string {
	return SafeName(scenario) + "_" + at.UTC().Format(timestampLayout) + ext
}

// Layout resolves paths under the artifacts root.
type Layout struct {
	Root string
}

// NewLayout expands a leading ~ in root.
func NewLayout(root string) (Layout, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to expand artifacts dir %q: %w", root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Layout{}, err
	}
	return Layout{Root: abs}, nil
}

// ReportDir is the directory of one report. An empty id names a local run
// after the current time.
func (l Layout) ReportDir(reportID string) string {
	if reportID == "" {
		reportID = "local-" + time.Now().UTC().Format(timestampLayout)
	}
	return filepath.Join(l.Root, SafeName(reportID))
}

// ScenarioDir is the directory screenshots and the recording of one scenario land in.
func (l Layout) ScenarioDir(reportDir, scenario string) string {
	return filepath.Join(reportDir, SafeName(scenario))
}

func (l Layout) SummaryPath(reportID string) string {
	return filepath.Join(l.ReportDir(reportID), SummaryFile)
}

func (l Layout) WorkerLogPath(reportID string) string {
	return filepath.Join(l.ReportDir(reportID), WorkerLogFile)
}

func (l Layout) TestDataPath(reportID string) string {
	return filepath.Join(l.ReportDir(reportID), TestDataFile)
}

// Ensure creates dir and its parents.
func Ensure(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir %s: %w", dir, err)
	}
	return nil
}
