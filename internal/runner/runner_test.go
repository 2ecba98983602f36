package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/browser/browsertest"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/interpreter"
	"github.com/xkilldash9x/flowreplay/internal/mocks"
)

type el = browsertest.Element

// queueDriver hands out one prepared page per NewPage call.
type queueDriver struct {
	pages  []*browsertest.Page
	served int
}

func (d *queueDriver) NewPage(_ context.Context, opts browser.PageOptions) (browser.Page, error) {
	if d.served >= len(d.pages) {
		return nil, errors.New("no more pages")
	}
	p := d.pages[d.served]
	d.served++
	if opts.VideoDir != "" {
		p.SetVideoDir(opts.VideoDir)
	}
	return p, nil
}

func (d *queueDriver) Close(context.Context) error { return nil }

func newTestRunner(t *testing.T, driver browser.Driver, opts Options) *Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	exec := interpreter.NewExecutor(logger, nil, nil, interpreter.Options{RefreshMaxAttempts: 2, NavMaxAttempts: 2})
	r := New(logger, driver, exec, opts)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }
	return r
}

func loginPage() *browsertest.Page {
	return browsertest.NewPage(
		&el{Role: "textbox", Label: "User ID"},
		&el{Role: "textbox", Label: "Password"},
		&el{Role: "button", Name: "Sign In"},
		&el{Title: "banner", Text: "Sales order 98554 was submitted."},
	)
}

func loginScenario(name string) schemas.Scenario {
	return schemas.Scenario{
		Name:     name,
		StartURL: "https://erp.example.com/login",
		Screens: []schemas.Screen{
			{ScreenName: "Login", Actions: []schemas.Action{
				{Raw: "page.getByLabel('User ID').fill('bob')", LocatorType: schemas.LocatorByLabel, Selector: "User ID", ActionVerb: schemas.VerbFill, ParsedValue: "bob"},
				{Raw: "page.getByLabel('Password').fill('secret')", LocatorType: schemas.LocatorByLabel, Selector: "Password", ActionVerb: schemas.VerbFill, ParsedValue: "secret"},
				{Raw: "page.getByRole('button', { name: 'Sign In' }).click()", LocatorType: schemas.LocatorByRole, Selector: "button", Params: schemas.LocatorParams{Name: "Sign In"}, ActionVerb: schemas.VerbClick},
			}},
			{ScreenName: "Home", Actions: []schemas.Action{
				{LocatorType: schemas.LocatorByTitle, Selector: "banner", ActionVerb: schemas.VerbGetText, BehaviorHint: schemas.HintSalesOrderMessage},
			}},
		},
	}
}

func TestRunScenarioPasses(t *testing.T) {
	dir := t.TempDir()
	page := loginPage()
	r := newTestRunner(t, &browsertest.Driver{Page: page}, Options{ScenarioTimeout: time.Minute, RecordVideo: true})

	res := r.RunScenario(context.Background(), loginScenario("Login flow"), dir)

	require.True(t, res.Passed, res.Error)
	assert.Equal(t, "https://erp.example.com/login", page.URL())
	require.Len(t, res.Steps, 4)
	for i, s := range res.Steps {
		assert.Equal(t, i+1, s.Step)
		assert.Equal(t, schemas.StepSucceeded, s.Status)
	}
	assert.Equal(t, "Home", res.Steps[3].Screen)
	assert.Equal(t, interpreter.VarSalesOrderID, res.Steps[3].Variable)
	assert.Equal(t, map[string]string{interpreter.VarSalesOrderID: "98554"}, res.Variables)

	// One screenshot per screen, tagged with the screen and its last step.
	assert.Equal(t, []string{
		filepath.Join(dir, "Login_step3.png"),
		filepath.Join(dir, "Home_step4.png"),
	}, res.Screenshots)
	assert.Equal(t, []string{"screenshot Login_step3.png", "screenshot Home_step4.png"}, page.OpKinds("screenshot"))

	assert.True(t, page.Closed())
	assert.Equal(t, filepath.Join(dir, "Login_flow_20240501T103000.webm"), res.Video)
	assert.FileExists(t, res.Video)
	assert.NoFileExists(t, filepath.Join(dir, "page.webm"))
}

func TestRunScenarioFailure(t *testing.T) {
	dir := t.TempDir()
	page := browsertest.NewPage(&el{Role: "textbox", Label: "User ID"})
	r := newTestRunner(t, &browsertest.Driver{Page: page}, Options{RecordVideo: true})

	res := r.RunScenario(context.Background(), loginScenario("Login flow"), dir)

	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "step 2 (Login)")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, schemas.StepSucceeded, res.Steps[0].Status)
	assert.Equal(t, schemas.StepFailed, res.Steps[1].Status)
	assert.Equal(t, filepath.Join(dir, "Login_step2_failed.png"), res.Steps[1].Screenshot)

	// The failed action's screenshot is recorded and the screen screenshot is not taken.
	assert.Equal(t, []string{filepath.Join(dir, "Login_step2_failed.png")}, res.Screenshots)
	assert.NotEmpty(t, res.Video, "the recording is kept on failure")
	assert.True(t, page.Closed())
}

func TestRunScenarioNavigationFailure(t *testing.T) {
	dir := t.TempDir()
	page := loginPage()
	page.GotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	r := newTestRunner(t, &browsertest.Driver{Page: page}, Options{})

	res := r.RunScenario(context.Background(), loginScenario("Login flow"), dir)

	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "ERR_NAME_NOT_RESOLVED")
	assert.Empty(t, res.Steps)
	assert.Equal(t, []string{filepath.Join(dir, "navigation_step0_failed.png")}, res.Screenshots)
	assert.Empty(t, page.OpKinds("fill", "click"))
	assert.Empty(t, res.Video)
}

func TestRunScenarioPageError(t *testing.T) {
	r := newTestRunner(t, &browsertest.Driver{NewPageErr: errors.New("browser crashed")}, Options{})
	res := r.RunScenario(context.Background(), loginScenario("Login flow"), t.TempDir())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "browser crashed")
}

func TestRunScenarioSoftAssertions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	exec := interpreter.NewExecutor(logger, nil, nil, interpreter.Options{SoftAssertions: true, RefreshMaxAttempts: 1, NavMaxAttempts: 1})
	page := browsertest.NewPage(&el{Title: "status", Text: "Not Shipped Yet"})
	r := New(logger, &browsertest.Driver{Page: page}, exec, Options{})

	sc := schemas.Scenario{Name: "Ship", StartURL: "https://erp.example.com", Screens: []schemas.Screen{{
		ScreenName: "Status",
		Actions: []schemas.Action{{
			LocatorType: schemas.LocatorByTitle, Selector: "status",
			ActionVerb: schemas.VerbExpect, AssertionType: schemas.AssertToHaveText, ParsedValue: "Shipped",
		}},
	}}}
	res := r.RunScenario(context.Background(), sc, t.TempDir())

	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "1 soft assertion(s) failed")
	require.Len(t, res.SoftFailures, 1)
	assert.Contains(t, res.SoftFailures[0], "step 1 (Status)")
	assert.Contains(t, res.SoftFailures[0], `"Not Shipped Yet"`)
}

func TestRunSoftAssertionFailsScenario(t *testing.T) {
	logger := zaptest.NewLogger(t)
	exec := interpreter.NewExecutor(logger, nil, nil, interpreter.Options{SoftAssertions: true, RefreshMaxAttempts: 1, NavMaxAttempts: 1})
	page := browsertest.NewPage(
		&el{Title: "status", Text: "Not Shipped Yet"},
		&el{Role: "button", Name: "Close"},
	)
	r := New(logger, &browsertest.Driver{Page: page}, exec, Options{})

	td := schemas.TestData{{Name: "Ship", StartURL: "https://erp.example.com", Screens: []schemas.Screen{{
		ScreenName: "Status",
		Actions: []schemas.Action{
			{
				LocatorType: schemas.LocatorByTitle, Selector: "status",
				ActionVerb: schemas.VerbExpect, AssertionType: schemas.AssertToContainText, ParsedValue: "Shipped!",
			},
			{LocatorType: schemas.LocatorByRole, Selector: "button", Params: schemas.LocatorParams{Name: "Close"}, ActionVerb: schemas.VerbClick},
		},
	}}}}

	summary, err := r.Run(context.Background(), td, "r-soft", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)
	assert.Equal(t, 1, summary.Failed)

	res := summary.Scenarios[0]
	// The soft failure did not stop the remaining steps.
	require.Len(t, res.Steps, 2)
	assert.Equal(t, schemas.StepSucceeded, res.Steps[1].Status)
	assert.Contains(t, res.Error, "toContainText")
}

func TestRun(t *testing.T) {
	reportDir := filepath.Join(t.TempDir(), "r-1")
	// The second scenario gets a fresh variable bag, so its order ref falls
	// back to the literal.
	second := browsertest.NewPage(&el{Role: "textbox", Label: "Order"})
	driver := &queueDriver{pages: []*browsertest.Page{browsertest.NewPage(), loginPage(), second}}
	r := newTestRunner(t, driver, Options{})

	td := schemas.TestData{
		loginScenario("Broken"),
		loginScenario("Login flow"),
		{Name: "Lookup", StartURL: "https://erp.example.com/orders", Screens: []schemas.Screen{{
			ScreenName: "Orders",
			Actions: []schemas.Action{{
				LocatorType: schemas.LocatorByLabel, Selector: "Order", ActionVerb: schemas.VerbFill,
				ParsedValue: "11111", BehaviorHint: schemas.HintOrderRef,
			}},
		}}},
	}

	summary, err := r.Run(context.Background(), td, "r-1", reportDir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Scenarios, 3)
	assert.False(t, summary.Scenarios[0].Passed)
	assert.True(t, summary.Scenarios[1].Passed)

	var orderValue string
	for _, op := range second.Ops() {
		if op.Kind == "fill" {
			orderValue = op.Value
		}
	}
	assert.Equal(t, "11111", orderValue)

	assert.DirExists(t, filepath.Join(reportDir, "Login_flow"))
	loaded, err := ReadSummary(filepath.Join(reportDir, "summary.json"))
	require.NoError(t, err)
	assert.Equal(t, summary.Passed, loaded.Passed)
	assert.Equal(t, "r-1", loaded.ReportID)
	assert.Equal(t, "98554", loaded.Scenarios[1].Variables[interpreter.VarSalesOrderID])
}

func TestRunCancelled(t *testing.T) {
	reportDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t, &browsertest.Driver{Page: loginPage()}, Options{})
	summary, err := r.Run(ctx, schemas.TestData{loginScenario("Login flow")}, "", reportDir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Scenarios)
	assert.FileExists(t, filepath.Join(reportDir, "summary.json"))
}

func TestPrepare(t *testing.T) {
	t.Run("fills structured fields from raw", func(t *testing.T) {
		td := schemas.TestData{{Name: "S", StartURL: "https://x", Screens: []schemas.Screen{{
			ScreenName: "A",
			Actions: []schemas.Action{
				{Raw: "await page.getByLabel('User ID').fill('bob');"},
				{Raw: "page.getByRole('button', { name: 'Sign In' }).click()"},
			},
		}}}}
		require.NoError(t, Prepare(td, false, zaptest.NewLogger(t)))
		acts := td[0].Screens[0].Actions
		assert.Equal(t, schemas.LocatorByLabel, acts[0].LocatorType)
		assert.Equal(t, schemas.VerbFill, acts[0].ActionVerb)
		assert.Equal(t, "bob", acts[0].Input())
		assert.Equal(t, "Sign In", acts[1].Params.Name)
	})

	t.Run("unparseable raw", func(t *testing.T) {
		td := schemas.TestData{{Name: "S", StartURL: "https://x", Screens: []schemas.Screen{{
			ScreenName: "A", Actions: []schemas.Action{{Raw: "console.log('hi')"}},
		}}}}
		err := Prepare(td, false, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `scenario "S" screen "A" action 1`)
	})

	contradicting := func() schemas.TestData {
		return schemas.TestData{{Name: "S", StartURL: "https://x", Screens: []schemas.Screen{{
			ScreenName: "Login",
			Actions: []schemas.Action{{
				Raw:         "page.getByRole('button', { name: 'Sign In' }).click()",
				LocatorType: schemas.LocatorByLabel, Selector: "Password",
				ActionVerb: schemas.VerbFill, ParsedValue: "secret",
			}},
		}}}}
	}

	t.Run("strict rejects raw that contradicts structured fields", func(t *testing.T) {
		err := Prepare(contradicting(), true, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `scenario "S" screen "Login" action 1`)
		assert.Contains(t, err.Error(), "contradicts structured locator")
	})

	t.Run("lenient logs the contradiction and keeps structured fields", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		td := contradicting()
		require.NoError(t, Prepare(td, false, zap.New(core)))

		require.Equal(t, 1, logs.Len())
		entry := logs.All()[0]
		assert.Contains(t, entry.Message, "disagrees")
		assert.Equal(t, int64(1), entry.ContextMap()["action"])
		assert.Equal(t, schemas.LocatorByLabel, td[0].Screens[0].Actions[0].LocatorType)
		assert.Equal(t, schemas.VerbFill, td[0].Screens[0].Actions[0].ActionVerb)
	})

	t.Run("strict accepts agreeing fields", func(t *testing.T) {
		td := schemas.TestData{loginScenario("Login flow")}
		assert.NoError(t, Prepare(td, true, zaptest.NewLogger(t)))
	})

	t.Run("domain issues", func(t *testing.T) {
		td := schemas.TestData{{Screens: []schemas.Screen{{
			ScreenName: "A", Actions: []schemas.Action{{LocatorType: schemas.LocatorByText, Selector: "x", ActionVerb: schemas.VerbExpect}},
		}}}}
		err := Prepare(td, false, nil)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "scenario name is required"))
		assert.Contains(t, err.Error(), "expect actions need an assertion type")
	})
}

func TestWriteSummaryIsIndented(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSummary(dir, schemas.RunSummary{Passed: 1, Scenarios: []schemas.ScenarioResult{{Scenario: "A", Passed: true}}})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"passed\": 1")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := new(mocks.MockConfig)
	cfg.On("Runner").Return(config.RunnerConfig{ScenarioTimeout: 5 * time.Minute})
	cfg.On("Browser").Return(config.BrowserConfig{RecordVideo: true})

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, Options{ScenarioTimeout: 5 * time.Minute, RecordVideo: true}, opts)
	cfg.AssertExpectations(t)
}
