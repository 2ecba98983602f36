package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/mocks"
	"github.com/xkilldash9x/flowreplay/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess stands in for the worker. Its behavior is chosen by the
// content of the --data file.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) != 5 || args[0] != "run" || args[1] != "--data" || args[3] != "--report" {
		fmt.Fprintf(os.Stderr, "unexpected args: %q\n", args)
		os.Exit(2)
	}
	mode, err := os.ReadFile(args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch strings.TrimSpace(string(mode)) {
	case "ok":
		fmt.Println("Scenario started.")
		fmt.Println("Scenario passed.")
		os.Exit(0)
	case "fail":
		fmt.Println("Scenario started.")
		fmt.Fprintln(os.Stderr, "locator not found")
		os.Exit(3)
	case "marker":
		fmt.Println("Test timeout of 300000ms exceeded.")
		time.Sleep(300 * time.Millisecond)
		os.Exit(0)
	case "long":
		w := bufio.NewWriter(os.Stdout)
		w.WriteString(strings.Repeat("x", 2*1024*1024) + "\n")
		for i := 0; i < 200; i++ {
			fmt.Fprintf(w, "line %d %s\n", i, strings.Repeat("y", 1024))
		}
		w.WriteString("Scenario passed.\n")
		w.Flush()
		os.Exit(0)
	case "hang":
		fmt.Println("waiting")
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

// recordingSink collects status transitions.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) SetStatus(_ context.Context, _ string, status schemas.ReportStatus, exitCode *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exitCode != nil {
		r.events = append(r.events, fmt.Sprintf("%s:%d", status, *exitCode))
	} else {
		r.events = append(r.events, string(status))
	}
	return nil
}

func (r *recordingSink) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fixture struct {
	sup    *Supervisor
	sink   *recordingSink
	hub    *stream.Hub
	layout artifacts.Layout
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	layout, err := artifacts.NewLayout(t.TempDir())
	require.NoError(t, err)
	opts := Options{
		Command:        os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess", "--"},
		Env:            []string{"GO_WANT_HELPER_PROCESS=1"},
		TimeoutMarkers: []string{"Test timeout", "exceeded"},
		ProcessTimeout: 20 * time.Second,
		LogOutput:      true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f := &fixture{sink: &recordingSink{}, hub: stream.NewHub(zaptest.NewLogger(t), nil), layout: layout}
	f.sup = New(zaptest.NewLogger(t), opts, layout, f.sink, f.hub, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, f.sup.Shutdown(ctx))
		f.hub.Close()
	})
	return f
}

func dataFile(t *testing.T, mode string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testdata.json")
	require.NoError(t, os.WriteFile(path, []byte(mode), 0o644))
	return path
}

func waitFor(t *testing.T, sup *Supervisor, reportID string) schemas.ProcessInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	info, err := sup.Wait(ctx, reportID)
	require.NoError(t, err)
	return info
}

func TestCommand(t *testing.T) {
	s := New(zaptest.NewLogger(t), Options{Command: "flowreplay", Args: []string{"--config", "c.yaml"}}, artifacts.Layout{}, nil, nil, nil)
	name, args, err := s.command("r-1", "/tmp/data.json")
	require.NoError(t, err)
	assert.Equal(t, "flowreplay", name)
	assert.Equal(t, []string{"--config", "c.yaml", "run", "--data", "/tmp/data.json", "--report", "r-1"}, args)

	t.Run("defaults to self", func(t *testing.T) {
		s := New(zaptest.NewLogger(t), Options{}, artifacts.Layout{}, nil, nil, nil)
		name, _, err := s.command("r-1", "d.json")
		require.NoError(t, err)
		self, _ := os.Executable()
		assert.Equal(t, self, name)
	})
}

func TestSupervisorCompleted(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.hub.Subscribe("r-ok")
	defer cancel()

	info, err := f.sup.Start(context.Background(), "r-ok", dataFile(t, "ok"))
	require.NoError(t, err)
	assert.True(t, info.IsRunning)
	assert.NotZero(t, info.PID)
	assert.Nil(t, info.ExitCode)

	final := waitFor(t, f.sup, "r-ok")
	assert.False(t, final.IsRunning)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
	assert.Equal(t, []string{"running", "completed:0"}, f.sink.get())

	var lines []string
	var statuses []schemas.ReportStatus
	for len(statuses) < 2 {
		select {
		case ev := <-events:
			switch ev.Type {
			case schemas.EventOutput:
				lines = append(lines, ev.Payload.(string))
			case schemas.EventStatus:
				statuses = append(statuses, ev.Payload.(schemas.StatusPayload).Status)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("missing stream events")
		}
	}
	assert.Equal(t, []string{"Scenario started.", "Scenario passed."}, lines)
	assert.Equal(t, []schemas.ReportStatus{schemas.ReportRunning, schemas.ReportCompleted}, statuses)

	t.Run("worker log", func(t *testing.T) {
		file, err := os.Open(f.layout.WorkerLogPath("r-ok"))
		require.NoError(t, err)
		defer file.Close()
		var logged []string
		sc := bufio.NewScanner(file)
		for sc.Scan() {
			logged = append(logged, sc.Text())
		}
		assert.Equal(t, []string{"Scenario started.", "Scenario passed."}, logged)
	})
}

func TestSupervisorFailedExit(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.hub.Subscribe("r-fail")
	defer cancel()

	_, err := f.sup.Start(context.Background(), "r-fail", dataFile(t, "fail"))
	require.NoError(t, err)
	final := waitFor(t, f.sup, "r-fail")
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
	assert.Equal(t, []string{"running", "failed:3"}, f.sink.get())

	var stderr []string
	deadline := time.After(5 * time.Second)
	for len(stderr) == 0 {
		select {
		case ev := <-events:
			if ev.Type == schemas.EventError {
				stderr = append(stderr, ev.Payload.(string))
			}
		case <-deadline:
			t.Fatal("missing stderr event")
		}
	}
	assert.Equal(t, []string{"locator not found"}, stderr)
}

func TestSupervisorTimeoutMarker(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sup.Start(context.Background(), "r-marker", dataFile(t, "marker"))
	require.NoError(t, err)

	final := waitFor(t, f.sup, "r-marker")
	// The marker wins; the later clean exit does not produce a second terminal status.
	assert.Equal(t, []string{"running", "failed:-1"}, f.sink.get())
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
}

func TestSupervisorLongLine(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ProcessTimeout = 10 * time.Second })
	_, err := f.sup.Start(context.Background(), "r-long", dataFile(t, "long"))
	require.NoError(t, err)

	final := waitFor(t, f.sup, "r-long")
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
	assert.Equal(t, []string{"running", "completed:0"}, f.sink.get())

	file, err := os.Open(f.layout.WorkerLogPath("r-long"))
	require.NoError(t, err)
	defer file.Close()
	var logged []string
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 2*maxLineLength)
	for sc.Scan() {
		logged = append(logged, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, logged, 202)
	assert.Len(t, logged[0], maxLineLength+len(truncatedSuffix))
	assert.True(t, strings.HasSuffix(logged[0], truncatedSuffix))
	assert.True(t, strings.HasPrefix(logged[1], "line 0 "))
	assert.Equal(t, "Scenario passed.", logged[201])
}

func TestSupervisorBackstop(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ProcessTimeout = 500 * time.Millisecond })
	_, err := f.sup.Start(context.Background(), "r-hang", dataFile(t, "hang"))
	require.NoError(t, err)

	final := waitFor(t, f.sup, "r-hang")
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, -1, *final.ExitCode)
	assert.Equal(t, []string{"running", "failed:-1"}, f.sink.get())
}

func TestSupervisorStop(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sup.Start(context.Background(), "r-stop", dataFile(t, "hang"))
	require.NoError(t, err)

	t.Run("already running", func(t *testing.T) {
		_, err := f.sup.Start(context.Background(), "r-stop", dataFile(t, "ok"))
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	})

	require.NoError(t, f.sup.Stop("r-stop"))
	final := waitFor(t, f.sup, "r-stop")
	assert.False(t, final.IsRunning)
	assert.Equal(t, []string{"running", "failed:-1"}, f.sink.get())

	assert.ErrorIs(t, f.sup.Stop("missing"), ErrUnknownReport)
}

func TestSupervisorSpawnFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Command = filepath.Join(t.TempDir(), "does-not-exist") })
	info, err := f.sup.Start(context.Background(), "r-spawn", dataFile(t, "ok"))
	require.Error(t, err)
	assert.False(t, info.IsRunning)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, -1, *info.ExitCode)
	assert.Equal(t, []string{"failed:-1"}, f.sink.get())

	got, ok := f.sup.Process("r-spawn")
	require.True(t, ok)
	assert.Equal(t, -1, *got.ExitCode)

	t.Run("restart after failure is allowed", func(t *testing.T) {
		_, err := f.sup.Start(context.Background(), "r-spawn", dataFile(t, "ok"))
		assert.NotErrorIs(t, err, ErrAlreadyRunning)
	})
}

func TestSupervisorShutdown(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sup.Start(context.Background(), "r-a", dataFile(t, "hang"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Shutdown(ctx))

	info, ok := f.sup.Process("r-a")
	require.True(t, ok)
	assert.False(t, info.IsRunning)

	_, err = f.sup.Start(context.Background(), "r-b", dataFile(t, "ok"))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestMultiSink(t *testing.T) {
	first := new(mocks.MockStatusSink)
	second := new(mocks.MockStatusSink)
	code := 0
	first.On("SetStatus", mock.Anything, "r-1", schemas.ReportCompleted, &code).Return(errors.New("db down"))
	second.On("SetStatus", mock.Anything, "r-1", schemas.ReportCompleted, &code).Return(nil)

	err := MultiSink{first, nil, second}.SetStatus(context.Background(), "r-1", schemas.ReportCompleted, &code)
	assert.ErrorContains(t, err, "db down")
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := new(mocks.MockConfig)
	cfg.On("Supervisor").Return(config.SupervisorConfig{
		Command:        "/usr/local/bin/flowreplay",
		Args:           []string{"--config", "/etc/flowreplay.yaml"},
		TimeoutMarkers: []string{"Test timeout"},
		ProcessTimeout: 15 * time.Minute,
		LogOutput:      true,
	})

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "/usr/local/bin/flowreplay", opts.Command)
	assert.Equal(t, []string{"--config", "/etc/flowreplay.yaml"}, opts.Args)
	assert.Equal(t, []string{"Test timeout"}, opts.TimeoutMarkers)
	assert.Equal(t, 15*time.Minute, opts.ProcessTimeout)
	assert.True(t, opts.LogOutput)
	cfg.AssertExpectations(t)
}

func TestSupervisorPublishesToStream(t *testing.T) {
	layout, err := artifacts.NewLayout(t.TempDir())
	require.NoError(t, err)
	pub := &mocks.MockPublisher{}
	sup := New(zaptest.NewLogger(t), Options{
		Command:        os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess", "--"},
		Env:            []string{"GO_WANT_HELPER_PROCESS=1"},
		TimeoutMarkers: []string{"Test timeout"},
		ProcessTimeout: 20 * time.Second,
	}, layout, nil, pub, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, sup.Shutdown(ctx))
	})

	_, err = sup.Start(context.Background(), "r-pub", dataFile(t, "marker"))
	require.NoError(t, err)
	waitFor(t, sup, "r-pub")

	var output []string
	var statuses []string
	for _, ev := range pub.Snapshot() {
		assert.Equal(t, "r-pub", ev.ReportID)
		switch ev.Type {
		case schemas.EventOutput:
			output = append(output, ev.Payload.(string))
		case schemas.EventStatus:
			p := ev.Payload.(schemas.StatusPayload)
			statuses = append(statuses, string(p.Status))
		}
	}
	assert.Equal(t, []string{"Test timeout of 300000ms exceeded."}, output)
	assert.Equal(t, []string{"running", "failed"}, statuses)
}
