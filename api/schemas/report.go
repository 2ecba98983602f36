package schemas

import (
	"time"
)

// -- Report Schemas --

// ReportStatus is the sole externally visible outcome of an execution request.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportRunning   ReportStatus = "running"
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// Report is the persisted record of one execution request.
type Report struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId,omitempty"`
	ScenarioIDs []string     `json:"scenarioIds"`
	Status      ReportStatus `json:"status"`
	ResultPath  string       `json:"resultPath,omitempty"`
	ExitCode    *int         `json:"exitCode,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// ProcessInfo is the supervisor's bookkeeping for one worker process.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"startTime"`
	IsRunning bool      `json:"isRunning"`
	// ExitCode is nil while the process runs. -1 marks a spawn failure or a
	// detected hang.
	ExitCode *int `json:"exitCode"`
}

// -- Stream Schemas --

// StreamEventType classifies a live-stream event.
type StreamEventType string

const (
	EventStatus StreamEventType = "status"
	EventOutput StreamEventType = "output"
	EventError  StreamEventType = "error"
)

// StreamEvent is one message on a report's live broadcast.
type StreamEvent struct {
	ID        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	ReportID  string          `json:"reportId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   interface{}     `json:"payload"`
}

// StatusPayload is the payload of an EventStatus event.
type StatusPayload struct {
	Status   ReportStatus `json:"status"`
	ExitCode *int         `json:"exitCode,omitempty"`
}

// -- Run Summary Schemas --

// StepStatus is the terminal state of one executed action.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one executed action.
type StepResult struct {
	Step       int           `json:"step"`
	Screen     string        `json:"screen"`
	Verb       ActionVerb    `json:"verb"`
	Raw        string        `json:"raw"`
	Status     StepStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	Screenshot string        `json:"screenshot,omitempty"`
	Variable   string        `json:"variable,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ScenarioResult records one scenario run.
type ScenarioResult struct {
	Scenario     string            `json:"scenario"`
	Passed       bool              `json:"passed"`
	Error        string            `json:"error,omitempty"`
	Steps        []StepResult      `json:"steps"`
	SoftFailures []string          `json:"softFailures,omitempty"`
	Screenshots  []string          `json:"screenshots"`
	Video        string            `json:"video,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
}

// RunSummary is written next to the artifacts at the end of a worker run.
type RunSummary struct {
	ReportID  string           `json:"reportId,omitempty"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}
