// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	args := m.Called()
	return args.Get(0).(config.RunnerConfig)
}

func (m *MockConfig) Poll() config.PollConfig {
	args := m.Called()
	return args.Get(0).(config.PollConfig)
}

func (m *MockConfig) Navigation() config.NavigationConfig {
	args := m.Called()
	return args.Get(0).(config.NavigationConfig)
}

func (m *MockConfig) Supervisor() config.SupervisorConfig {
	args := m.Called()
	return args.Get(0).(config.SupervisorConfig)
}

func (m *MockConfig) Artifacts() config.ArtifactsConfig {
	args := m.Called()
	return args.Get(0).(config.ArtifactsConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

func (m *MockConfig) Events() config.EventsConfig {
	args := m.Called()
	return args.Get(0).(config.EventsConfig)
}

func (m *MockConfig) External() config.ExternalConfig {
	args := m.Called()
	return args.Get(0).(config.ExternalConfig)
}

// -- Status Sink Mock --

// MockStatusSink mocks supervisor.StatusSink.
type MockStatusSink struct {
	mock.Mock
}

func (m *MockStatusSink) SetStatus(ctx context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error {
	args := m.Called(ctx, reportID, status, exitCode)
	return args.Error(0)
}

// -- Report Store Mock --

// MockReportStore mocks the report persistence used by the HTTP server.
type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) CreateReport(ctx context.Context, r schemas.Report) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockReportStore) GetReport(ctx context.Context, id string) (schemas.Report, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(schemas.Report), args.Error(1)
}

// -- Process Supervisor Mock --

// MockProcessRunner mocks the supervisor as seen by the HTTP server.
type MockProcessRunner struct {
	mock.Mock
}

func (m *MockProcessRunner) Start(ctx context.Context, reportID, dataFile string) (schemas.ProcessInfo, error) {
	args := m.Called(ctx, reportID, dataFile)
	return args.Get(0).(schemas.ProcessInfo), args.Error(1)
}

func (m *MockProcessRunner) Process(reportID string) (schemas.ProcessInfo, bool) {
	args := m.Called(reportID)
	return args.Get(0).(schemas.ProcessInfo), args.Bool(1)
}

// -- Stream Publisher Mock --

// MockPublisher records published events instead of using expectations,
// since publishers are called from background goroutines.
type MockPublisher struct {
	mu     sync.Mutex
	Events []schemas.StreamEvent
}

func (m *MockPublisher) Publish(ev schemas.StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
}

// Snapshot returns a copy of the events published so far.
func (m *MockPublisher) Snapshot() []schemas.StreamEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.StreamEvent(nil), m.Events...)
}
