// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/artifacts"
	"github.com/xkilldash9x/flowreplay/internal/gateway"
	"github.com/xkilldash9x/flowreplay/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReportStore persists execution reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r schemas.Report) error
	GetReport(ctx context.Context, id string) (schemas.Report, error)
}

// ResultSource is implemented by stores that also keep per-scenario results.
type ResultSource interface {
	GetScenarioResults(ctx context.Context, reportID string) ([]schemas.ScenarioResult, error)
}

// ProcessRunner spawns and tracks worker processes.
type ProcessRunner interface {
	Start(ctx context.Context, reportID, dataFile string) (schemas.ProcessInfo, error)
	Process(reportID string) (schemas.ProcessInfo, bool)
}

// Streamer serves the live feed of one report.
type Streamer interface {
	ServeReport(w http.ResponseWriter, r *http.Request, reportID string)
}

// ExecutionRequest is the body of POST /api/v1/executions.
type ExecutionRequest struct {
	UserID      string              `json:"userId"`
	ScenarioIDs []string            `json:"scenarioIds"`
	Scenarios   jsoniter.RawMessage `json:"scenarios"`
	Rows        []gateway.Row       `json:"rows"`
}

// ExecutionResponse acknowledges an accepted execution.
type ExecutionResponse struct {
	ReportID string               `json:"reportId"`
	Status   schemas.ReportStatus `json:"status"`
	PID      int                  `json:"pid"`
}

// ReportResponse is a report with whatever results are available so far.
type ReportResponse struct {
	Report  schemas.Report           `json:"report"`
	Results []schemas.ScenarioResult `json:"results,omitempty"`
	Summary *schemas.RunSummary      `json:"summary,omitempty"`
}

// Response is the envelope of every JSON reply.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Handlers manages the HTTP request handling for the server.
type Handlers struct {
	log         *zap.Logger
	store       ReportStore
	runner      ProcessRunner
	assembler   *gateway.Assembler
	layout      artifacts.Layout
	streamer    Streamer
	scenarioDir string
	newID       func() string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, st ReportStore, runner ProcessRunner, assembler *gateway.Assembler, layout artifacts.Layout, streamer Streamer, scenarioDir string) *Handlers {
	return &Handlers{
		log:         logger.Named("handlers"),
		store:       st,
		runner:      runner,
		assembler:   assembler,
		layout:      layout,
		streamer:    streamer,
		scenarioDir: scenarioDir,
		newID:       uuid.NewString,
	}
}

// RegisterRoutes sets up the request/response API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/executions", h.HandleCreateExecution)
		r.Get("/processes/{reportID}", h.HandleGetProcess)
		r.Get("/reports/{reportID}", h.HandleGetReport)
	})
}

// RegisterStreamRoutes sets up the long-lived websocket routes. They must not
// sit behind a request timeout.
func (h *Handlers) RegisterStreamRoutes(r chi.Router) {
	r.Get("/api/v1/reports/{reportID}/stream", h.HandleStream)
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleCreateExecution assembles the test data, creates a pending report
// and spawns the worker. The run continues after the response is sent.
func (h *Handlers) HandleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	td, err := h.scenarios(req)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	reportID := h.newID()
	log := h.log.With(zap.String("report_id", reportID))
	dataFile, expanded, err := h.assembler.Assemble(gateway.Request{
		ReportID:    reportID,
		ScenarioIDs: req.ScenarioIDs,
		Scenarios:   td,
		Rows:        req.Rows,
	})
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := req.ScenarioIDs
	if len(ids) == 0 {
		for _, sc := range expanded {
			ids = append(ids, sc.Name)
		}
	}
	report := schemas.Report{
		ID:          reportID,
		UserID:      req.UserID,
		ScenarioIDs: ids,
		Status:      schemas.ReportPending,
		ResultPath:  h.layout.ReportDir(reportID),
	}
	if err := h.store.CreateReport(r.Context(), report); err != nil {
		log.Error("Failed to create report", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "failed to create report")
		return
	}

	info, err := h.runner.Start(r.Context(), reportID, dataFile)
	if err != nil {
		log.Error("Failed to start worker", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start worker: %v", err))
		return
	}

	log.Info("Execution accepted.", zap.Int("pid", info.PID), zap.Int("scenarios", len(expanded)))
	h.respondWithSuccess(w, http.StatusAccepted, ExecutionResponse{
		ReportID: reportID,
		Status:   schemas.ReportRunning,
		PID:      info.PID,
	})
}

// scenarios merges inline scenarios with those referenced by id.
func (h *Handlers) scenarios(req ExecutionRequest) (schemas.TestData, error) {
	var td schemas.TestData
	if len(req.Scenarios) > 0 {
		inline, err := decodeScenarios(req.Scenarios)
		if err != nil {
			return nil, err
		}
		td = append(td, inline...)
	}
	if len(req.ScenarioIDs) > 0 && len(td) == 0 {
		if h.scenarioDir == "" {
			return nil, errors.New("scenarioIds given but no scenario directory is configured")
		}
		paths := make([]string, 0, len(req.ScenarioIDs))
		for _, id := range req.ScenarioIDs {
			if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
				return nil, fmt.Errorf("invalid scenario id %q", id)
			}
			paths = append(paths, filepath.Join(h.scenarioDir, id+".json"))
		}
		loaded, err := gateway.LoadScenarios(paths...)
		if err != nil {
			return nil, err
		}
		td = append(td, loaded...)
	}
	if len(td) == 0 {
		return nil, errors.New("no scenarios to run")
	}
	return td, nil
}

func decodeScenarios(raw jsoniter.RawMessage) (schemas.TestData, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		trimmed = "[" + trimmed + "]"
	}
	td, err := schemas.DecodeTestData([]byte(trimmed))
	if err != nil {
		return nil, fmt.Errorf("invalid scenarios: %w", err)
	}
	return td, nil
}

// HandleGetProcess reports the supervisor's view of a worker.
func (h *Handlers) HandleGetProcess(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	info, ok := h.runner.Process(reportID)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "Process not found")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, info)
}

// HandleGetReport returns the report row plus any persisted results. When the
// store has none, the worker's summary file is used.
func (h *Handlers) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	report, err := h.store.GetReport(r.Context(), reportID)
	if errors.Is(err, store.ErrNotFound) {
		h.respondWithError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to load report", zap.String("report_id", reportID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	resp := ReportResponse{Report: report}
	if src, ok := h.store.(ResultSource); ok {
		results, err := src.GetScenarioResults(r.Context(), reportID)
		if err != nil {
			h.log.Warn("Failed to load scenario results", zap.String("report_id", reportID), zap.Error(err))
		}
		resp.Results = results
	}
	if len(resp.Results) == 0 {
		resp.Summary = h.readSummary(reportID)
	}
	h.respondWithSuccess(w, http.StatusOK, resp)
}

func (h *Handlers) readSummary(reportID string) *schemas.RunSummary {
	data, err := os.ReadFile(h.layout.SummaryPath(reportID))
	if err != nil {
		return nil
	}
	var summary schemas.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		h.log.Warn("Unreadable run summary", zap.String("report_id", reportID), zap.Error(err))
		return nil
	}
	return &summary
}

// HandleStream upgrades to a websocket carrying the report's live events.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	h.streamer.ServeReport(w, r, chi.URLParam(r, "reportID"))
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respond(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
