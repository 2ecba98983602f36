package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a report does not exist.
var ErrNotFound = errors.New("report not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    scenario_ids TEXT[] NOT NULL DEFAULT '{}',
    status TEXT NOT NULL,
    result_path TEXT NOT NULL DEFAULT '',
    exit_code INTEGER,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS scenario_results (
    report_id TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
    scenario TEXT NOT NULL,
    passed BOOLEAN NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    result JSONB NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
`

// Store persists reports and their results in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates the tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// CreateReport inserts a new report. An empty status becomes pending.
func (s *Store) CreateReport(ctx context.Context, r schemas.Report) error {
	if r.Status == "" {
		r.Status = schemas.ReportPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.ScenarioIDs == nil {
		r.ScenarioIDs = []string{}
	}

	query := `
        INSERT INTO reports (id, user_id, scenario_ids, status, result_path, exit_code, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.UserID, r.ScenarioIDs, string(r.Status), r.ResultPath, r.ExitCode,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
	}
	return nil
}

// GetReport loads one report.
func (s *Store) GetReport(ctx context.Context, id string) (schemas.Report, error) {
	query := `
        SELECT id, user_id, scenario_ids, status, result_path, exit_code, created_at, updated_at
        FROM reports
        WHERE id = $1;
    `
	var (
		r      schemas.Report
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.UserID, &r.ScenarioIDs, &status, &r.ResultPath, &r.ExitCode, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schemas.Report{}, fmt.Errorf("failed to query report %s: %w", id, err)
	}
	r.Status = schemas.ReportStatus(status)
	return r, nil
}

// ListReports returns the most recent reports first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]schemas.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, user_id, scenario_ids, status, result_path, exit_code, created_at, updated_at
        FROM reports
        ORDER BY created_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []schemas.Report{}
	for rows.Next() {
		var (
			r      schemas.Report
			status string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ScenarioIDs, &status, &r.ResultPath, &r.ExitCode, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r.Status = schemas.ReportStatus(status)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return reports, nil
}

// SetStatus records a status transition. Reports that already reached a
// terminal status are left untouched.
func (s *Store) SetStatus(ctx context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error {
	query := `
        UPDATE reports
        SET status = $2, exit_code = COALESCE($3, exit_code), updated_at = $4
        WHERE id = $1 AND status NOT IN ('completed', 'failed');
    `
	tag, err := s.pool.Exec(ctx, query, reportID, string(status), exitCode, s.now())
	if err != nil {
		return fmt.Errorf("failed to update report %s: %w", reportID, err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		s.log.Debug("Ignoring transition of a finished report.",
			zap.String("report_id", reportID),
			zap.String("current", string(current.Status)),
			zap.String("requested", string(status)),
		)
	}
	return nil
}

// PersistSummary replaces the stored scenario results of a report in one transaction.
func (s *Store) PersistSummary(ctx context.Context, summary schemas.RunSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM scenario_results WHERE report_id = $1;`, summary.ReportID); err != nil {
		return fmt.Errorf("failed to clear scenario results: %w", err)
	}

	if len(summary.Scenarios) > 0 {
		rows := make([][]interface{}, len(summary.Scenarios))
		for i, sc := range summary.Scenarios {
			result, err := json.Marshal(sc)
			if err != nil {
				return fmt.Errorf("failed to encode result of %q: %w", sc.Scenario, err)
			}
			rows[i] = []interface{}{
				summary.ReportID, sc.Scenario, sc.Passed, sc.Error, result,
				sc.StartedAt.UTC(), sc.FinishedAt.UTC(),
			}
		}

		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"scenario_results"},
			[]string{"report_id", "scenario", "passed", "error", "result", "started_at", "finished_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy scenario results: %w", err)
		}
		if int(copyCount) != len(summary.Scenarios) {
			return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(summary.Scenarios), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetScenarioResults returns the stored results of a report in start order.
func (s *Store) GetScenarioResults(ctx context.Context, reportID string) ([]schemas.ScenarioResult, error) {
	query := `
        SELECT result
        FROM scenario_results
        WHERE report_id = $1
        ORDER BY started_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario results: %w", err)
	}
	defer rows.Close()

	results := []schemas.ScenarioResult{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		var res schemas.ScenarioResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("failed to decode scenario result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}
