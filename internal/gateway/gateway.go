// Package gateway assembles the test-data file a worker runs: it loads
// scenarios, expands them over data rows and writes the result into the
// report directory.
package gateway

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/runner"
)

// Row is one set of template values.
type Row map[string]any

// environmentFile is the layout of qa.yml / production.yml style files.
type environmentFile struct {
	Environments map[string][]Row `yaml:"environments"`
}

// Request describes one execution to assemble.
type Request struct {
	ReportID    string
	ScenarioIDs []string
	Scenarios   schemas.TestData
	// Rows are used as is. When empty and DataFile is set, rows come from
	// environments.<Env> in that file.
	Rows     []Row
	DataFile string
	Env      string
}

// Assembler writes worker input files under the artifacts root.
type Assembler struct {
	logger *zap.Logger
	layout artifacts.Layout
	strict bool
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithStrict rejects actions whose raw text contradicts their structured fields.
func WithStrict(strict bool) AssemblerOption {
	return func(a *Assembler) { a.strict = strict }
}

func NewAssembler(logger *zap.Logger, layout artifacts.Layout, opts ...AssemblerOption) *Assembler {
	a := &Assembler{logger: logger.Named("gateway"), layout: layout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble expands, validates and writes the request. It returns the path of
// the written file and the expanded scenarios.
func (a *Assembler) Assemble(req Request) (string, schemas.TestData, error) {
	if len(req.Scenarios) == 0 {
		return "", nil, fmt.Errorf("no scenarios to run")
	}
	rows := req.Rows
	if len(rows) == 0 && req.DataFile != "" {
		loaded, err := LoadEnvironment(req.DataFile, req.Env)
		if err != nil {
			return "", nil, err
		}
		rows = loaded
	}

	td, err := Expand(req.Scenarios, rows)
	if err != nil {
		return "", nil, err
	}
	if err := runner.Prepare(td, a.strict, a.logger); err != nil {
		return "", nil, err
	}

	data, err := schemas.EncodeTestData(td)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode test data: %w", err)
	}
	dir := a.layout.ReportDir(req.ReportID)
	if err := artifacts.Ensure(dir); err != nil {
		return "", nil, err
	}
	path := a.layout.TestDataPath(req.ReportID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("failed to write test data: %w", err)
	}
	a.logger.Info("Test data assembled.",
		zap.String("report_id", req.ReportID),
		zap.String("path", path),
		zap.Int("scenarios", len(td)),
		zap.Int("rows", len(rows)),
	)
	return path, td, nil
}

// LoadScenarios reads scenario files. Each file holds one scenario object or
// an array of them.
func LoadScenarios(paths ...string) (schemas.TestData, error) {
	var td schemas.TestData
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file: %w", err)
		}
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			trimmed = append(append([]byte{'['}, trimmed...), ']')
		}
		part, err := schemas.DecodeTestData(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		td = append(td, part...)
	}
	return td, nil
}

// LoadEnvironment reads the rows of env from an environments YAML file.
func LoadEnvironment(path, env string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	var f environmentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse data file %s: %w", filepath.Base(path), err)
	}
	if env == "" && len(f.Environments) == 1 {
		for name := range f.Environments {
			env = name
		}
	}
	rows, ok := f.Environments[env]
	if !ok {
		names := make([]string, 0, len(f.Environments))
		for name := range f.Environments {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("environment %q not found in %s (have: %s)", env, filepath.Base(path), strings.Join(names, ", "))
	}
	return rows, nil
}

// Expand returns one copy of every scenario per row, named "<scenario> #<n>",
// with {{.field}} references resolved. Without rows td is returned unchanged.
func Expand(td schemas.TestData, rows []Row) (schemas.TestData, error) {
	if len(rows) == 0 {
		return td, nil
	}
	out := make(schemas.TestData, 0, len(td)*len(rows))
	for _, sc := range td {
		for i, row := range rows {
			dup, err := render(sc, row)
			if err != nil {
				return nil, fmt.Errorf("scenario %q row %d: %w", sc.Name, i+1, err)
			}
			dup.Name = fmt.Sprintf("%s #%d", sc.Name, i+1)
			out = append(out, dup)
		}
	}
	return out, nil
}

func render(sc schemas.Scenario, row Row) (schemas.Scenario, error) {
	var err error
	if sc.StartURL, err = resolve(sc.StartURL, row); err != nil {
		return sc, fmt.Errorf("url: %w", err)
	}
	screens := make([]schemas.Screen, len(sc.Screens))
	for i, screen := range sc.Screens {
		actions := make([]schemas.Action, len(screen.Actions))
		for j, a := range screen.Actions {
			if a, err = renderAction(a, row); err != nil {
				return sc, fmt.Errorf("screen %q action %d: %w", screen.ScreenName, j+1, err)
			}
			actions[j] = a
		}
		screens[i] = schemas.Screen{ScreenName: screen.ScreenName, Actions: actions}
	}
	sc.Screens = screens
	return sc, nil
}

func renderAction(a schemas.Action, row Row) (schemas.Action, error) {
	var err error
	for _, field := range []*string{&a.Raw, &a.Value, &a.ParsedValue} {
		if *field, err = resolve(*field, row); err != nil {
			return a, err
		}
	}
	if a.ExternalService == nil {
		return a, nil
	}
	es := *a.ExternalService
	if es.URL, err = resolve(es.URL, row); err != nil {
		return a, err
	}
	if len(es.Body) > 0 {
		body, err := resolve(string(es.Body), row)
		if err != nil {
			return a, err
		}
		es.Body = schemas.RawJSON(body)
	}
	if len(es.ExpectedBody) > 0 {
		body, err := resolve(string(es.ExpectedBody), row)
		if err != nil {
			return a, err
		}
		es.ExpectedBody = schemas.RawJSON(body)
	}
	if len(es.Headers) > 0 {
		headers := make(map[string]string, len(es.Headers))
		for k, v := range es.Headers {
			if headers[k], err = resolve(v, row); err != nil {
				return a, err
			}
		}
		es.Headers = headers
	}
	a.ExternalService = &es
	return a, nil
}

// resolve executes s as a template against row. Strings without actions are
// returned as is.
func resolve(s string, row Row) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("resolve").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(row)); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
