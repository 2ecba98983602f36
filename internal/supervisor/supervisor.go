// internal/supervisor/supervisor.go
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/stream"
)

const (
	// spawnFailedCode marks a process that never started or was declared hung.
	spawnFailedCode = -1
	sinkTimeout     = 10 * time.Second
	// waitDelay bounds how long Wait blocks on output pipes after the
	// process has been killed.
	waitDelay     = 5 * time.Second
	maxLineLength = 1024 * 1024
	logFileMode   = 0o644

	// truncatedSuffix ends a worker output line that was cut at maxLineLength.
	truncatedSuffix = " [truncated]"
)

var (
	ErrAlreadyRunning = errors.New("a process is already running for this report")
	ErrUnknownReport  = errors.New("no process for this report")
	ErrShutdown       = errors.New("supervisor is shut down")
)

// StatusSink receives report status transitions. Terminal statuses are
// delivered at most once per process.
type StatusSink interface {
	SetStatus(ctx context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error
}

// SinkFunc adapts a function to StatusSink.
type SinkFunc func(ctx context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error

func (f SinkFunc) SetStatus(ctx context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error {
	return f(ctx, reportID, status, exitCode)
}

// MultiSink delivers every transition to each sink in order and joins their errors.
type MultiSink []StatusSink

func (m MultiSink) SetStatus(ctx context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SetStatus(ctx, reportID, status, exitCode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options controls how workers are spawned.
type Options struct {
	// Command defaults to the running executable.
	Command string
	// Args are placed before "run --data <file> --report <id>".
	Args           []string
	TimeoutMarkers []string
	// ProcessTimeout kills a worker that outlives it. Zero disables it.
	ProcessTimeout time.Duration
	// LogOutput tees worker output into the report's worker.log.
	LogOutput bool
	// Env is appended to the inherited environment.
	Env []string
}

// OptionsFromConfig reads supervisor options from the application config.
func OptionsFromConfig(cfg config.Interface) Options {
	sc := cfg.Supervisor()
	return Options{
		Command:        sc.Command,
		Args:           sc.Args,
		TimeoutMarkers: sc.TimeoutMarkers,
		ProcessTimeout: sc.ProcessTimeout,
		LogOutput:      sc.LogOutput,
	}
}

type process struct {
	reportID string
	info     schemas.ProcessInfo
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	// terminal is set once a terminal status has been delivered.
	terminal bool
}

func (p *process) reaped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor runs one worker process per report and tracks it.
type Supervisor struct {
	logger  *zap.Logger
	opts    Options
	layout  artifacts.Layout
	sink    StatusSink
	pub     stream.Publisher
	metrics *observability.Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	procs  map[string]*process
	closed bool
}

// New creates a supervisor. sink, pub and metrics may be nil.
func New(logger *zap.Logger, opts Options, layout artifacts.Layout, sink StatusSink, pub stream.Publisher, metrics *observability.Metrics) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:     logger.Named("supervisor"),
		opts:       opts,
		layout:     layout,
		sink:       sink,
		pub:        pub,
		metrics:    metrics,
		baseCtx:    ctx,
		baseCancel: cancel,
		procs:      make(map[string]*process),
	}
}

// command resolves the executable and arguments for a worker.
func (s *Supervisor) command(reportID, dataFile string) (string, []string, error) {
	name := s.opts.Command
	if name == "" {
		self, err := os.Executable()
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		name = self
	}
	args := make([]string, 0, len(s.opts.Args)+5)
	args = append(args, s.opts.Args...)
	args = append(args, "run", "--data", dataFile, "--report", reportID)
	return name, args, nil
}

// Start spawns the worker for reportID. The process outlives ctx; use Stop
// or Shutdown to end it. A spawn failure marks the report failed and is
// also returned.
func (s *Supervisor) Start(ctx context.Context, reportID, dataFile string) (schemas.ProcessInfo, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schemas.ProcessInfo{}, ErrShutdown
	}
	if existing, ok := s.procs[reportID]; ok && !existing.reaped() {
		s.mu.Unlock()
		return existing.info, ErrAlreadyRunning
	}
	p := &process{reportID: reportID, done: make(chan struct{})}
	s.procs[reportID] = p
	s.mu.Unlock()

	log := s.logger.With(zap.String("report_id", reportID))
	s.metrics.ProcessStarted()

	name, args, err := s.command(reportID, dataFile)
	if err != nil {
		return s.spawnFailed(ctx, p, err, log)
	}

	var (
		procCtx context.Context
		cancel  context.CancelFunc
	)
	if s.opts.ProcessTimeout > 0 {
		procCtx, cancel = context.WithTimeout(s.baseCtx, s.opts.ProcessTimeout)
	} else {
		procCtx, cancel = context.WithCancel(s.baseCtx)
	}
	cmd := exec.CommandContext(procCtx, name, args...)
	cmd.Env = append(os.Environ(), s.opts.Env...)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return s.spawnFailed(ctx, p, err, log)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return s.spawnFailed(ctx, p, err, log)
	}

	logw, err := s.openLog(reportID)
	if err != nil {
		log.Warn("Worker log unavailable, output is only streamed.", zap.Error(err))
		logw = nil
	}

	if err := cmd.Start(); err != nil {
		cancel()
		closeQuietly(logw)
		return s.spawnFailed(ctx, p, err, log)
	}

	s.mu.Lock()
	p.cmd = cmd
	p.cancel = cancel
	p.info = schemas.ProcessInfo{PID: cmd.Process.Pid, StartTime: time.Now().UTC(), IsRunning: true}
	info := p.info
	s.mu.Unlock()

	log.Info("Worker process started.", zap.Int("pid", info.PID), zap.String("command", name), zap.Strings("args", args))
	s.deliver(p, schemas.ReportRunning, nil)

	s.wg.Add(1)
	go s.monitor(p, stdout, stderr, logw, log)
	return info, nil
}

func (s *Supervisor) spawnFailed(ctx context.Context, p *process, err error, log *zap.Logger) (schemas.ProcessInfo, error) {
	log.Error("Failed to start worker process.", zap.Error(err))
	code := spawnFailedCode

	s.mu.Lock()
	p.info = schemas.ProcessInfo{StartTime: time.Now().UTC(), ExitCode: &code}
	info := p.info
	close(p.done)
	s.mu.Unlock()

	s.metrics.ProcessFinished(string(schemas.ReportFailed))
	s.deliverCtx(ctx, p, schemas.ReportFailed, &code)
	return info, fmt.Errorf("failed to start worker for report %s: %w", p.reportID, err)
}

// monitor pumps output until both pipes close, then reaps the process.
func (s *Supervisor) monitor(p *process, stdout, stderr io.Reader, logw io.WriteCloser, log *zap.Logger) {
	defer s.wg.Done()
	defer p.cancel()

	sw := &syncWriter{w: logw}
	g := new(errgroup.Group)
	g.Go(func() error { return s.pump(p, stdout, schemas.EventOutput, sw) })
	g.Go(func() error { return s.pump(p, stderr, schemas.EventError, sw) })
	if err := g.Wait(); err != nil {
		log.Warn("Error reading worker output.", zap.Error(err))
	}

	waitErr := p.cmd.Wait()
	closeQuietly(logw)

	code := exitCode(waitErr)
	status := schemas.ReportCompleted
	if waitErr != nil {
		status = schemas.ReportFailed
	}

	s.mu.Lock()
	p.info.IsRunning = false
	p.info.ExitCode = &code
	s.mu.Unlock()

	log.Info("Worker process exited.", zap.Int("exit_code", code), zap.String("status", string(status)), zap.NamedError("wait", waitErr))
	s.metrics.ProcessFinished(string(status))
	s.deliver(p, status, &code)
	close(p.done)
}

// pump forwards each line of r to subscribers and the worker log, watching
// for timeout markers. Lines longer than maxLineLength are cut short and the
// rest of the line is discarded, so the pipe is always drained.
func (s *Supervisor) pump(p *process, r io.Reader, kind schemas.StreamEventType, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := make([]byte, 0, 1024)
	truncated := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				s.forward(p, kind, w, line, truncated)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := maxLineLength - len(line); len(chunk) > room {
			chunk = chunk[:max(room, 0)]
			truncated = true
		}
		line = append(line, chunk...)
		if isPrefix {
			continue
		}
		s.forward(p, kind, w, line, truncated)
		line, truncated = line[:0], false
	}
}

func (s *Supervisor) forward(p *process, kind schemas.StreamEventType, w io.Writer, raw []byte, truncated bool) {
	line := string(raw)
	if truncated {
		s.logger.Warn("Worker output line truncated.", zap.String("report_id", p.reportID), zap.Int("limit", maxLineLength))
		line += truncatedSuffix
	}
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		s.logger.Debug("Failed to write worker log.", zap.Error(err))
	}
	s.publish(schemas.StreamEvent{Type: kind, ReportID: p.reportID, Payload: line})
	if marker := s.matchMarker(line); marker != "" {
		s.timedOut(p, marker)
	}
}

func (s *Supervisor) matchMarker(line string) string {
	for _, m := range s.opts.TimeoutMarkers {
		if m != "" && strings.Contains(line, m) {
			return m
		}
	}
	return ""
}

// timedOut marks the report failed as soon as the worker reports a timeout.
// The process itself is left to exit or hit the backstop.
func (s *Supervisor) timedOut(p *process, marker string) {
	s.logger.Warn("Timeout marker in worker output, marking report failed.", zap.String("report_id", p.reportID), zap.String("marker", marker))
	code := spawnFailedCode
	s.deliver(p, schemas.ReportFailed, &code)
}

func (s *Supervisor) deliver(p *process, status schemas.ReportStatus, exitCode *int) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	s.deliverCtx(ctx, p, status, exitCode)
}

// deliverCtx forwards a transition to the sink and the live stream. Only the
// first terminal status of a process gets through.
func (s *Supervisor) deliverCtx(ctx context.Context, p *process, status schemas.ReportStatus, exitCode *int) {
	if status.Terminal() {
		s.mu.Lock()
		if p.terminal {
			s.mu.Unlock()
			return
		}
		p.terminal = true
		s.mu.Unlock()
	}

	s.publish(stream.Status(p.reportID, status, exitCode))
	if s.sink == nil {
		return
	}
	if err := s.sink.SetStatus(context.WithoutCancel(ctx), p.reportID, status, exitCode); err != nil {
		s.logger.Error("Failed to record report status.", zap.String("report_id", p.reportID), zap.String("status", string(status)), zap.Error(err))
	}
}

func (s *Supervisor) publish(ev schemas.StreamEvent) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

func (s *Supervisor) openLog(reportID string) (io.WriteCloser, error) {
	if !s.opts.LogOutput || s.layout.Root == "" {
		return nil, nil
	}
	if err := artifacts.Ensure(s.layout.ReportDir(reportID)); err != nil {
		return nil, err
	}
	return os.OpenFile(s.layout.WorkerLogPath(reportID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode)
}

// Process returns the bookkeeping for reportID.
func (s *Supervisor) Process(reportID string) (schemas.ProcessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[reportID]
	if !ok {
		return schemas.ProcessInfo{}, false
	}
	return p.info, true
}

// Wait blocks until the worker for reportID has been reaped.
func (s *Supervisor) Wait(ctx context.Context, reportID string) (schemas.ProcessInfo, error) {
	s.mu.Lock()
	p, ok := s.procs[reportID]
	s.mu.Unlock()
	if !ok {
		return schemas.ProcessInfo{}, ErrUnknownReport
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return schemas.ProcessInfo{}, ctx.Err()
	}
	info, _ := s.Process(reportID)
	return info, nil
}

// Stop kills the worker for reportID. The report ends up failed.
func (s *Supervisor) Stop(reportID string) error {
	s.mu.Lock()
	p, ok := s.procs[reportID]
	var cancel context.CancelFunc
	if ok {
		cancel = p.cancel
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownReport
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Shutdown kills every worker and waits for them to be reaped.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

// exitCode maps a Wait error to a process exit code. Signals and other
// failures become -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return spawnFailedCode
}

// syncWriter serializes writes from both pumps. A nil target discards.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(b []byte) (int, error) {
	if w.w == nil {
		return len(b), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(b)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
