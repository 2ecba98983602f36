// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/dsl"
	"github.com/xkilldash9x/flowreplay/internal/interpreter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// finalizeTimeout bounds the screenshot and recording work done after a
// scenario has been aborted.
const finalizeTimeout = 30 * time.Second

// Options controls a scenario run.
type Options struct {
	ScenarioTimeout time.Duration
	// RecordVideo asks the driver for a recording of every scenario.
	RecordVideo bool
}

// OptionsFromConfig reads runner options from the application config.
func OptionsFromConfig(cfg config.Interface) Options {
	return Options{
		ScenarioTimeout: cfg.Runner().ScenarioTimeout,
		RecordVideo:     cfg.Browser().RecordVideo,
	}
}

// Runner executes scenarios one after another on pages from a driver.
type Runner struct {
	logger *zap.Logger
	driver browser.Driver
	exec   *interpreter.Executor
	opts   Options
	now    func() time.Time
}

// New creates a runner.
func New(logger *zap.Logger, driver browser.Driver, exec *interpreter.Executor, opts Options) *Runner {
	return &Runner{
		logger: logger.Named("runner"),
		driver: driver,
		exec:   exec,
		opts:   opts,
		now:    time.Now,
	}
}

// Prepare fills missing structured fields from raw expressions and checks
// that the document only uses known verbs, locators and hints. An action
// that carries both raw text and structured fields must agree with itself:
// in strict mode a contradiction is an error, otherwise it is logged and the
// structured fields win.
func Prepare(td schemas.TestData, strict bool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var mismatches []error
	for i := range td {
		for j := range td[i].Screens {
			for k := range td[i].Screens[j].Actions {
				a := &td[i].Screens[j].Actions[k]
				where := fmt.Sprintf("scenario %q screen %q action %d", td[i].Name, td[i].Screens[j].ScreenName, k+1)
				structured := a.LocatorType != "" && a.ActionVerb != ""
				if err := dsl.Apply(a); err != nil {
					return fmt.Errorf("%s: %w", where, err)
				}
				if !structured || a.Raw == "" {
					continue
				}
				if err := dsl.Consistent(*a); err != nil {
					if strict {
						mismatches = append(mismatches, fmt.Errorf("%s: %w", where, err))
						continue
					}
					logger.Warn("Raw expression disagrees with structured fields; using structured fields.",
						zap.String("scenario", td[i].Name),
						zap.String("screen", td[i].Screens[j].ScreenName),
						zap.Int("action", k+1),
						zap.Error(err))
				}
			}
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("inconsistent actions: %w", errors.Join(mismatches...))
	}
	if issues := schemas.ValidateDomain(td); len(issues) > 0 {
		errs := make([]error, 0, len(issues))
		for _, issue := range issues {
			errs = append(errs, errors.New(issue.String()))
		}
		return fmt.Errorf("invalid test data: %w", errors.Join(errs...))
	}
	return nil
}

// Run executes every scenario in order and writes summary.json into
// reportDir. Scenarios are independent: a failure in one does not stop the
// next.
func (r *Runner) Run(ctx context.Context, td schemas.TestData, reportID, reportDir string) (schemas.RunSummary, error) {
	summary := schemas.RunSummary{ReportID: reportID, Scenarios: make([]schemas.ScenarioResult, 0, len(td))}
	if err := artifacts.Ensure(reportDir); err != nil {
		return summary, err
	}

	for _, sc := range td {
		if ctx.Err() != nil {
			break
		}
		res := r.RunScenario(ctx, sc, filepath.Join(reportDir, artifacts.SafeName(sc.Name)))
		if res.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Scenarios = append(summary.Scenarios, res)
	}

	if _, err := WriteSummary(reportDir, summary); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

// RunScenario executes one scenario on a fresh page and variable bag. It
// never returns an error; failures are recorded in the result.
func (r *Runner) RunScenario(ctx context.Context, sc schemas.Scenario, dir string) (res schemas.ScenarioResult) {
	log := r.logger.With(zap.String("scenario", sc.Name))
	res = schemas.ScenarioResult{Scenario: sc.Name, StartedAt: r.now(), Steps: []schemas.StepResult{}, Screenshots: []string{}}
	defer func() { res.FinishedAt = r.now() }()

	fail := func(err error) schemas.ScenarioResult {
		res.Passed = false
		res.Error = err.Error()
		log.Error("Scenario failed.", zap.Error(err))
		return res
	}

	if err := artifacts.Ensure(dir); err != nil {
		return fail(err)
	}

	if r.opts.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.ScenarioTimeout)
		defer cancel()
	}

	pageOpts := browser.PageOptions{}
	if r.opts.RecordVideo {
		pageOpts.VideoDir = dir
	}
	page, err := r.driver.NewPage(ctx, pageOpts)
	if err != nil {
		return fail(fmt.Errorf("failed to open page: %w", err))
	}
	// The recording is finalized even when the scenario aborts.
	defer func() {
		finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		res.Video = r.finalizeVideo(finalizeCtx, page, sc.Name, res.StartedAt, log)
	}()

	log.Info("Scenario started.", zap.String("url", sc.StartURL), zap.Int("screens", len(sc.Screens)), zap.Int("actions", sc.ActionCount()))
	if err := page.Goto(ctx, sc.StartURL); err != nil {
		r.captureAbort(ctx, page, dir, "navigation", 0, &res, log)
		return fail(fmt.Errorf("failed to open start url: %w", err))
	}

	vars := interpreter.NewVariables()
	exec := r.exec.WithScreenshotDir(dir)
	step := 0
	for _, screen := range sc.Screens {
		screenLog := log.Named(artifacts.SafeName(screen.ScreenName))
		screenLog.Info("Screen started.", zap.String("screen", screen.ScreenName), zap.Int("actions", len(screen.Actions)))

		for _, a := range screen.Actions {
			step++
			screenLog.Info("Step.", zap.Int("step", step), zap.String("raw", a.Describe()))

			started := r.now()
			out, err := exec.Execute(ctx, page, a, screen.ScreenName, step, vars)
			sr := schemas.StepResult{
				Step:       step,
				Screen:     screen.ScreenName,
				Verb:       a.ActionVerb,
				Raw:        a.Describe(),
				Status:     schemas.StepSucceeded,
				Screenshot: out.Screenshot,
				Variable:   out.Variable,
				Duration:   r.now().Sub(started),
			}
			if out.Screenshot != "" {
				res.Screenshots = appendUnique(res.Screenshots, out.Screenshot)
			}
			if out.Assertion != nil {
				res.SoftFailures = append(res.SoftFailures, fmt.Sprintf("step %d (%s): %s", step, screen.ScreenName, out.Assertion.Error()))
			}
			if err != nil {
				sr.Status = schemas.StepFailed
				sr.Error = err.Error()
				res.Steps = append(res.Steps, sr)
				res.Variables = vars.Snapshot()
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("scenario timed out after %s: %w", r.opts.ScenarioTimeout, err)
				}
				return fail(err)
			}
			res.Steps = append(res.Steps, sr)
		}

		shot := filepath.Join(dir, artifacts.ScreenshotName(screen.ScreenName, step, false))
		if err := page.Screenshot(ctx, shot); err != nil {
			screenLog.Warn("Failed to capture screen screenshot.", zap.Error(err))
		} else {
			res.Screenshots = appendUnique(res.Screenshots, shot)
		}
	}

	res.Variables = vars.Snapshot()
	if len(res.SoftFailures) > 0 {
		return fail(fmt.Errorf("%d soft assertion(s) failed: %s", len(res.SoftFailures), strings.Join(res.SoftFailures, "; ")))
	}
	res.Passed = true
	log.Info("Scenario passed.", zap.Int("steps", step))
	return res
}

// captureAbort takes a best-effort screenshot after an abort outside an action.
func (r *Runner) captureAbort(ctx context.Context, page browser.Page, dir, screen string, step int, res *schemas.ScenarioResult, log *zap.Logger) {
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	path := filepath.Join(dir, artifacts.ScreenshotName(screen, step, true))
	if err := page.Screenshot(shotCtx, path); err != nil {
		log.Warn("Failed to capture abort screenshot.", zap.Error(err))
		return
	}
	res.Screenshots = appendUnique(res.Screenshots, path)
}

// finalizeVideo closes the page and renames the recording to
// <scenario>_<timestamp><ext> next to the original.
func (r *Runner) finalizeVideo(ctx context.Context, page browser.Page, scenario string, startedAt time.Time, log *zap.Logger) string {
	if err := page.Close(ctx); err != nil {
		log.Warn("Error closing page.", zap.Error(err))
	}
	src := page.VideoPath()
	if src == "" {
		return ""
	}
	dst := filepath.Join(filepath.Dir(src), artifacts.VideoName(scenario, startedAt, filepath.Ext(src)))
	if err := os.Rename(src, dst); err != nil {
		log.Warn("Failed to rename recording.", zap.String("path", src), zap.Error(err))
		return src
	}
	log.Info("Recording saved.", zap.String("path", dst))
	return dst
}

// WriteSummary writes summary.json into dir and returns its path.
func WriteSummary(dir string, summary schemas.RunSummary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}
	path := filepath.Join(dir, artifacts.SummaryFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (schemas.RunSummary, error) {
	var summary schemas.RunSummary
	data, err := os.ReadFile(path)
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("failed to decode summary %s: %w", path, err)
	}
	return summary, nil
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
