// internal/interpreter/executor.go
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

// State is a step of the per-action state machine.
type State string

const (
	StatePending          State = "PENDING"
	StateResolvingLocator State = "RESOLVING_LOCATOR"
	StateAwaitingVisible  State = "AWAITING_VISIBLE"
	StateRetrying         State = "RETRYING"
	StatePerforming       State = "PERFORMING"
	StateSucceeded        State = "SUCCEEDED"
	StateFailed           State = "FAILED"
)

const (
	searchSelectOrderSelector = "//div[text()='Search and Select: Order']"
	listboxItemsSelector      = "//ul[@role='listbox']//li"
	noResultsSentinel         = "No results found."
	numericLinkSelector       = "//table[@summary='Search Results']//a[contains(text(), '1') or contains(text(), '2') or contains(text(), '3') or contains(text(), '4') or contains(text(), '5') or contains(text(), '6') or contains(text(), '7') or contains(text(), '8') or contains(text(), '9') or contains(text(), '0')]"
	pickWaveCountsText        = "Number of pick slips: 1 and number of picks: 1."
	expectedShippedStatus     = "Shipped"
)

var firstNumber = regexp.MustCompile(`\d+`)

// messagePattern locates a floating confirmation banner and names the
// variable its embedded ID is stored under.
type messagePattern struct {
	pattern  string
	re       *regexp.Regexp
	variable string
}

func newMessagePattern(pattern, variable string) messagePattern {
	return messagePattern{pattern: pattern, re: regexp.MustCompile(pattern), variable: variable}
}

var messagePatterns = map[schemas.BehaviorHint]messagePattern{
	schemas.HintPickWaveMessage:   newMessagePattern(`Pick wave \d+ was released`, VarPickWaveID),
	schemas.HintSalesOrderMessage: newMessagePattern(`Sales order \d+ was`, VarSalesOrderID),
	schemas.HintShipmentMessage:   newMessagePattern(`The shipment \d+ was confirmed.`, VarShipmentID),
	schemas.HintProcessMessage:    newMessagePattern(`Process \d+ was submitted.`, VarProcessID),
}

// ExternalChecker resolves an action's out-of-band HTTP correlation.
type ExternalChecker interface {
	Check(ctx context.Context, svc *schemas.ExternalService, vars map[string]string) error
}

// Options tunes the executor. Zero delays are valid and used by tests.
type Options struct {
	StrictMode            bool
	SoftAssertions        bool
	Highlight             bool
	ScreenshotEveryAction bool

	VisibleTimeout   time.Duration
	AssertionTimeout time.Duration
	RetryInterval    time.Duration
	Delays           config.DelayConfig

	RefreshMaxAttempts int
	RefreshInterval    time.Duration
	NavMaxAttempts     int
	NavSettle          time.Duration

	// ScreenshotDir receives step screenshots. Empty disables them.
	ScreenshotDir string
}

// OptionsFromConfig reads executor options from the application config.
func OptionsFromConfig(cfg config.Interface) Options {
	r := cfg.Runner()
	return Options{
		StrictMode:            r.StrictMode,
		SoftAssertions:        r.SoftAssertions,
		Highlight:             r.Highlight,
		ScreenshotEveryAction: r.ScreenshotEveryAction,
		VisibleTimeout:        r.VisibleTimeout,
		AssertionTimeout:      r.AssertionTimeout,
		RetryInterval:         r.RetryInterval,
		Delays:                r.Delays,
		RefreshMaxAttempts:    cfg.Poll().RefreshMaxAttempts,
		RefreshInterval:       cfg.Poll().RefreshInterval,
		NavMaxAttempts:        cfg.Navigation().MaxAttempts,
		NavSettle:             cfg.Navigation().Settle,
	}
}

// Outcome is what a successful action leaves behind.
type Outcome struct {
	// Variable and Value are set when the action captured a value.
	Variable string
	Value    string
	// Assertion is a soft assertion failure that did not abort the run.
	Assertion *AssertionError
	// Screenshot is the step screenshot, if one was taken.
	Screenshot string
}

// Executor performs single actions against a page.
type Executor struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	resolver  *Resolver
	evaluator *Evaluator
	external  ExternalChecker
	opts      Options
}

// NewExecutor creates an executor. metrics and external may be nil.
func NewExecutor(logger *zap.Logger, metrics *observability.Metrics, external ExternalChecker, opts Options) *Executor {
	if opts.RefreshMaxAttempts <= 0 {
		opts.RefreshMaxAttempts = 50
	}
	if opts.NavMaxAttempts <= 0 {
		opts.NavMaxAttempts = 20
	}
	return &Executor{
		logger:    logger.Named("executor"),
		metrics:   metrics,
		resolver:  NewResolver(opts.StrictMode),
		evaluator: NewEvaluator(opts.AssertionTimeout, opts.RetryInterval),
		external:  external,
		opts:      opts,
	}
}

// WithScreenshotDir returns a copy of the executor that writes step
// screenshots into dir.
func (e *Executor) WithScreenshotDir(dir string) *Executor {
	c := *e
	c.opts.ScreenshotDir = dir
	return &c
}

// Execute runs one action. On failure it captures a diagnostic screenshot
// and returns an *ActionExecutionError.
func (e *Executor) Execute(ctx context.Context, page browser.Page, a schemas.Action, screenName string, step int, vars *Variables) (Outcome, error) {
	start := time.Now()
	log := e.logger.With(
		zap.String("screen", screenName),
		zap.Int("step", step),
		zap.String("verb", string(a.ActionVerb)),
		zap.String("hint", string(a.Hint())),
	)
	verb := string(a.ActionVerb)
	state := StatePending
	transition := func(next State) {
		log.Debug("Action state transition.", zap.String("from", string(state)), zap.String("to", string(next)))
		state = next
		e.metrics.ActionTransition(verb, string(next))
	}
	transition(StatePending)

	out, err := e.run(ctx, page, a, vars, log, transition)
	if err != nil {
		transition(StateFailed)
		shot := e.screenshot(ctx, page, screenName, step, true, log)
		e.metrics.ActionDuration(verb, "failed", time.Since(start).Seconds())
		return Outcome{Screenshot: shot}, &ActionExecutionError{
			Verb: a.ActionVerb, Raw: a.Describe(), Screen: screenName, Step: step, Screenshot: shot, Cause: err,
		}
	}

	transition(StateSucceeded)
	if e.opts.ScreenshotEveryAction {
		out.Screenshot = e.screenshot(ctx, page, screenName, step, false, log)
	}
	e.metrics.ActionDuration(verb, "succeeded", time.Since(start).Seconds())
	return out, nil
}

func (e *Executor) run(ctx context.Context, page browser.Page, a schemas.Action, vars *Variables, log *zap.Logger, transition func(State)) (Outcome, error) {
	if !a.ActionVerb.Valid() {
		return Outcome{}, fmt.Errorf("unknown action verb %q", a.ActionVerb)
	}
	if !a.BehaviorHint.Valid() {
		return Outcome{}, fmt.Errorf("unknown behavior hint %q", a.BehaviorHint)
	}

	transition(StateResolvingLocator)
	set, err := e.resolver.Resolve(page, a)
	if err != nil {
		return Outcome{}, err
	}
	target, err := e.resolver.Target(ctx, set, a)
	if err != nil {
		return Outcome{}, err
	}
	target, await := e.effectiveTarget(page, a, target)

	if await {
		if err := e.awaitVisible(ctx, target, transition, log); err != nil {
			return Outcome{}, err
		}
	}

	transition(StatePerforming)
	if e.opts.Highlight && await {
		if err := target.Highlight(ctx); err != nil {
			log.Debug("Could not highlight element.", zap.Error(err))
		}
	}

	var out Outcome
	switch a.ActionVerb {
	case schemas.VerbClick:
		out, err = e.click(ctx, page, a, target, vars, log)
	case schemas.VerbFill:
		out, err = e.fill(ctx, page, a, target, vars, log)
	case schemas.VerbPress:
		err = e.press(ctx, a, target)
	case schemas.VerbSelectOption:
		err = e.selectOption(ctx, page, a, target, log)
	case schemas.VerbGetText:
		out, err = e.getText(ctx, a, target, vars, log)
	case schemas.VerbExpect:
		out, err = e.expect(ctx, a, target, log)
	}
	if err != nil {
		return out, err
	}

	if a.ExternalService != nil {
		if e.external == nil {
			return out, errors.New("action has an external service but no checker is configured")
		}
		log.Info("Resolving external service.", zap.String("url", a.ExternalService.URL))
		if err := e.external.Check(ctx, a.ExternalService, vars.Snapshot()); err != nil {
			return out, err
		}
	}
	return out, nil
}

// effectiveTarget substitutes the element some hints act on instead of the
// recorded locator, and reports whether visibility should be awaited first.
func (e *Executor) effectiveTarget(page browser.Page, a schemas.Action, target browser.Locator) (browser.Locator, bool) {
	if p, ok := messagePatterns[a.Hint()]; ok && a.ActionVerb == schemas.VerbGetText {
		return page.Locate(browser.Text("/"+p.pattern+"/", false)).Nth(0), true
	}
	switch {
	case a.ActionVerb == schemas.VerbClick && a.Hint() == schemas.HintNumericLink:
		return page.Locate(browser.CSS(numericLinkSelector)).Nth(0), true
	case a.ActionVerb == schemas.VerbClick && a.Hint() == schemas.HintTabNavigation:
		// The tab may sit on a navigation page that is not shown yet.
		return target, false
	case a.ActionVerb == schemas.VerbExpect:
		// Assertions wait on their own.
		return target, false
	}
	return target, true
}

// awaitVisible alternates between AWAITING_VISIBLE and RETRYING until the
// element is visible or the visibility budget is spent.
func (e *Executor) awaitVisible(ctx context.Context, target browser.Locator, transition func(State), log *zap.Logger) error {
	slice := e.opts.RetryInterval
	attempts := 1
	if slice > 0 && e.opts.VisibleTimeout > slice {
		attempts = int(e.opts.VisibleTimeout / slice)
	} else {
		slice = e.opts.VisibleTimeout
	}

	err := poll.Until(ctx, func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 1 {
			transition(StateRetrying)
		}
		transition(StateAwaitingVisible)
		err := target.WaitVisible(ctx, slice)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, browser.ErrTimeout), errors.Is(err, browser.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}, nil, 0, attempts)

	if isExhausted(err) {
		log.Warn("Element never became visible.", zap.String("locator", target.String()), zap.Duration("timeout", e.opts.VisibleTimeout))
		return fmt.Errorf("%s not visible after %s: %w", target, e.opts.VisibleTimeout, browser.ErrTimeout)
	}
	return err
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	return poll.Sleep(ctx, d)
}

func (e *Executor) click(ctx context.Context, page browser.Page, a schemas.Action, target browser.Locator, vars *Variables, log *zap.Logger) (Outcome, error) {
	switch a.Hint() {
	case schemas.HintRefresh:
		return Outcome{}, e.refreshUntilStatus(ctx, page, target, log)

	case schemas.HintTabNavigation:
		return Outcome{}, e.navigateTab(ctx, page, a, target, log)

	case schemas.HintNumericLink:
		text, err := target.TextContent(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("reading numeric link: %w", err)
		}
		id := strings.TrimSpace(text)
		vars.Set(VarPickSlipID, id)
		log.Info("Captured pick slip.", zap.String(VarPickSlipID, id))
		if err := target.Click(ctx); err != nil {
			return Outcome{}, err
		}
		return Outcome{Variable: VarPickSlipID, Value: id}, nil

	case schemas.HintDelayedClick:
		if err := e.sleep(ctx, e.opts.Delays.DelayedClick); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, target.Click(ctx)
	}

	if err := target.Hover(ctx); err != nil {
		return Outcome{}, fmt.Errorf("hovering: %w", err)
	}
	if err := e.sleep(ctx, e.opts.Delays.ClickSettle); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, target.Click(ctx)
}

func (e *Executor) fill(ctx context.Context, page browser.Page, a schemas.Action, target browser.Locator, vars *Variables, log *zap.Logger) (Outcome, error) {
	value, variable := fillValue(a, vars)
	if variable != "" {
		log.Info("Filling with captured variable.", zap.String("variable", variable), zap.String("value", value))
	}
	if err := target.Fill(ctx, value); err != nil {
		return Outcome{}, fmt.Errorf("filling: %w", err)
	}

	d := e.opts.Delays
	switch a.Hint() {
	case schemas.HintOrderRef:
		if err := e.tabOut(ctx, target); err != nil {
			return Outcome{}, err
		}
		dialog, err := page.Locate(browser.CSS(searchSelectOrderSelector)).Nth(0).IsVisible(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if dialog {
			return Outcome{}, errors.New("Please enter valid Order id to proceed.")
		}

	case schemas.HintProcessRef:
		if err := e.tabOut(ctx, target); err != nil {
			return Outcome{}, err
		}

	case schemas.HintComboBox:
		if err := e.comboBox(ctx, page, target, value, log); err != nil {
			return Outcome{}, err
		}

	case schemas.HintCopyPaste:
		if err := e.copyPaste(ctx, page, target); err != nil {
			return Outcome{}, err
		}

	case schemas.HintComboBoxCommit:
		if err := target.Click(ctx); err != nil {
			return Outcome{}, err
		}
		if err := e.sleep(ctx, d.ComboBox); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{}, nil
}

func (e *Executor) tabOut(ctx context.Context, target browser.Locator) error {
	if err := target.Press(ctx, "Tab"); err != nil {
		return err
	}
	return e.sleep(ctx, e.opts.Delays.TabOut)
}

// comboBox nudges the autocomplete after a fill. When suggestions appear the
// first one must not be the no-results sentinel; when none appear the value
// is typed again over the selection.
func (e *Executor) comboBox(ctx context.Context, page browser.Page, target browser.Locator, value string, log *zap.Logger) error {
	d := e.opts.Delays
	if err := target.Press(ctx, "Backspace"); err != nil {
		return err
	}
	if err := e.sleep(ctx, d.ComboBox); err != nil {
		return err
	}
	if err := target.Press(ctx, "Backspace"); err != nil {
		return err
	}

	items := page.Locate(browser.CSS(listboxItemsSelector))
	n, err := items.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		first, err := items.Nth(0).TextContent(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(first) == noResultsSentinel {
			return fmt.Errorf("no results found in the listbox for %q", value)
		}
		log.Debug("Listbox is showing suggestions.", zap.Int("items", n))
		return e.sleep(ctx, d.ListboxCheck)
	}

	log.Warn("Listbox did not appear, filling the input again.")
	if err := target.Press(ctx, "Shift+Home"); err != nil {
		return err
	}
	if err := e.sleep(ctx, d.ListboxCheck); err != nil {
		return err
	}
	return target.Fill(ctx, value)
}

func (e *Executor) copyPaste(ctx context.Context, page browser.Page, target browser.Locator) error {
	d := e.opts.Delays
	steps := []func() error{
		func() error { return target.Click(ctx) },
		func() error { return page.Press(ctx, "Control+A") },
		func() error { return page.Press(ctx, "Control+C") },
		func() error { return target.Press(ctx, "Backspace") },
		func() error { return e.sleep(ctx, d.CopyPaste) },
		func() error { return target.Press(ctx, "Control+V") },
		func() error { return e.sleep(ctx, d.CopyPaste) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("copy and paste: %w", err)
		}
	}
	return nil
}

func (e *Executor) press(ctx context.Context, a schemas.Action, target browser.Locator) error {
	if err := target.Press(ctx, a.Input()); err != nil {
		return err
	}
	return e.sleep(ctx, e.opts.Delays.PressSettle)
}

// selectOption opens the control and selects natively when the option text
// is present. Controls that are not native selects fall back to retyping the
// value and picking it from the listbox.
func (e *Executor) selectOption(ctx context.Context, page browser.Page, a schemas.Action, target browser.Locator, log *zap.Logger) error {
	value := a.Input()
	if err := target.Click(ctx); err != nil {
		return fmt.Errorf("opening select: %w", err)
	}

	text, err := target.TextContent(ctx)
	if err == nil && strings.Contains(text, value) {
		err := target.SelectOption(ctx, value)
		if err == nil {
			return nil
		}
		log.Debug("Native select failed, retyping into the combo box.", zap.Error(err))
	}
	return e.retypeAndPick(ctx, page, target, value)
}

func (e *Executor) retypeAndPick(ctx context.Context, page browser.Page, target browser.Locator, value string) error {
	if err := target.Fill(ctx, ""); err != nil {
		return fmt.Errorf("clearing combo box: %w", err)
	}
	if err := target.Fill(ctx, value); err != nil {
		return fmt.Errorf("typing into combo box: %w", err)
	}
	if err := e.sleep(ctx, e.opts.Delays.ComboBox); err != nil {
		return err
	}

	items := page.Locate(browser.CSS(listboxItemsSelector))
	n, err := items.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no listbox appeared for option %q", value)
	}
	first, err := items.Nth(0).TextContent(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(first) == noResultsSentinel {
		return fmt.Errorf("no results found in the listbox for %q", value)
	}

	option := items.Filter(value, "")
	if c, err := option.Count(ctx); err == nil && c > 0 {
		return option.Nth(0).Click(ctx)
	}
	return items.Nth(0).Click(ctx)
}

func (e *Executor) getText(ctx context.Context, a schemas.Action, target browser.Locator, vars *Variables, log *zap.Logger) (Outcome, error) {
	text, err := target.TextContent(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading text: %w", err)
	}
	text = strings.TrimSpace(text)
	hint := a.Hint()

	if p, ok := messagePatterns[hint]; ok {
		if !p.re.MatchString(text) {
			return Outcome{}, fmt.Errorf("message %q does not match %s", text, p.pattern)
		}
		if hint == schemas.HintPickWaveMessage && !strings.Contains(text, pickWaveCountsText) {
			return Outcome{}, fmt.Errorf("pick wave message %q does not report %q", text, pickWaveCountsText)
		}
		return e.capture(vars, p.variable, text, log)
	}

	switch hint {
	case schemas.HintRequisitionText:
		return e.capture(vars, VarRequisitionID, text, log)
	case schemas.HintPurchaseOrderText:
		return e.capture(vars, VarPurchaseOrderID, text, log)
	case schemas.HintStatusText:
		if text != expectedShippedStatus {
			return e.assertionFailed(&AssertionError{Type: schemas.AssertToHaveText, Expected: expectedShippedStatus, Actual: text}, log)
		}
		return Outcome{Value: text}, nil
	}

	if a.Variable != "" {
		vars.Set(a.Variable, text)
		log.Info("Captured text.", zap.String("variable", a.Variable), zap.String("value", text))
		return Outcome{Variable: a.Variable, Value: text}, nil
	}
	return Outcome{Value: text}, nil
}

// capture stores the first number in text under key.
func (e *Executor) capture(vars *Variables, key, text string, log *zap.Logger) (Outcome, error) {
	id := firstNumber.FindString(text)
	if id == "" {
		return Outcome{}, fmt.Errorf("no identifier in %q for %s", text, key)
	}
	vars.Set(key, id)
	log.Info("Captured identifier.", zap.String("variable", key), zap.String("value", id))
	return Outcome{Variable: key, Value: id}, nil
}

func (e *Executor) expect(ctx context.Context, a schemas.Action, target browser.Locator, log *zap.Logger) (Outcome, error) {
	err := e.evaluator.Evaluate(ctx, target, a.AssertionType, a.Input())
	var ae *AssertionError
	if errors.As(err, &ae) {
		return e.assertionFailed(ae, log)
	}
	return Outcome{}, err
}

// assertionFailed records a soft failure or returns a hard one.
func (e *Executor) assertionFailed(ae *AssertionError, log *zap.Logger) (Outcome, error) {
	if e.opts.SoftAssertions {
		log.Warn("Soft assertion failed.", zap.String("assertion", string(ae.Type)),
			zap.String("expected", ae.Expected), zap.String("actual", ae.Actual))
		return Outcome{Assertion: ae}, nil
	}
	return Outcome{}, ae
}

// screenshot is best effort; a failure is logged and an empty path returned.
func (e *Executor) screenshot(ctx context.Context, page browser.Page, screen string, step int, failed bool, log *zap.Logger) string {
	if e.opts.ScreenshotDir == "" {
		return ""
	}
	path := filepath.Join(e.opts.ScreenshotDir, artifacts.ScreenshotName(screen, step, failed))
	// The action context may already be cancelled; the capture still gets a short budget.
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := page.Screenshot(shotCtx, path); err != nil {
		log.Error("Failed to capture screenshot.", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}
