package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var reportColumns = []string{"id", "user_id", "scenario_ids", "status", "result_path", "exit_code", "created_at", "updated_at"}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }
	return s, mockPool
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS reports").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCreateReport(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults status and timestamps", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		now := s.now()
		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO reports (id, user_id, scenario_ids, status, result_path, exit_code, created_at, updated_at)`)).
			WithArgs("r-1", "u-7", []string{"login"}, "pending", "/tmp/r-1", (*int)(nil), now, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.CreateReport(ctx, schemas.Report{ID: "r-1", UserID: "u-7", ScenarioIDs: []string{"login"}, ResultPath: "/tmp/r-1"})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wraps insert errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec("INSERT INTO reports").WillReturnError(errors.New("duplicate key"))
		err := s.CreateReport(ctx, schemas.Report{ID: "r-1"})
		assert.ErrorContains(t, err, "failed to insert report r-1: duplicate key")
	})
}

func TestGetReport(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		code := 0
		mockPool.ExpectQuery("SELECT id, user_id, scenario_ids").
			WithArgs("r-1").
			WillReturnRows(pgxmock.NewRows(reportColumns).
				AddRow("r-1", "u-7", []string{"login", "order"}, "completed", "/tmp/r-1", &code, created, created))

		r, err := s.GetReport(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.ReportCompleted, r.Status)
		assert.Equal(t, []string{"login", "order"}, r.ScenarioIDs)
		require.NotNil(t, r.ExitCode)
		assert.Equal(t, 0, *r.ExitCode)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery("SELECT id, user_id, scenario_ids").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

		_, err := s.GetReport(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListReports(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mockPool.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(reportColumns).
			AddRow("r-2", "", []string{}, "running", "", (*int)(nil), at, at).
			AddRow("r-1", "", []string{}, "pending", "", (*int)(nil), at, at))

	reports, err := s.ListReports(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "r-2", reports[0].ID)
	assert.Equal(t, schemas.ReportRunning, reports[0].Status)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	updateSQL := flexibleSQLMatcher(`UPDATE reports SET status = $2, exit_code = COALESCE($3, exit_code), updated_at = $4`)

	t.Run("transition applied", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		code := 3
		mockPool.ExpectExec(updateSQL).
			WithArgs("r-1", "failed", &code, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.SetStatus(ctx, "r-1", schemas.ReportFailed, &code))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("terminal report is left alone", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		s, mockPool := newMockStore(t, zap.New(core))
		at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		code := -1
		mockPool.ExpectExec(updateSQL).
			WithArgs("r-1", "completed", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery("SELECT id, user_id, scenario_ids").
			WithArgs("r-1").
			WillReturnRows(pgxmock.NewRows(reportColumns).AddRow("r-1", "", []string{}, "failed", "", &code, at, at))

		zero := 0
		require.NoError(t, s.SetStatus(ctx, "r-1", schemas.ReportCompleted, &zero))
		assert.Equal(t, 1, logs.FilterMessage("Ignoring transition of a finished report.").Len())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown report", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(updateSQL).
			WithArgs("ghost", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery("SELECT id, user_id, scenario_ids").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

		err := s.SetStatus(ctx, "ghost", schemas.ReportRunning, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPersistSummary(t *testing.T) {
	ctx := context.Background()
	columns := []string{"report_id", "scenario", "passed", "error", "result", "started_at", "finished_at"}
	summary := schemas.RunSummary{
		ReportID: "r-1",
		Passed:   1,
		Failed:   1,
		Scenarios: []schemas.ScenarioResult{
			{Scenario: "Login", Passed: true, StartedAt: time.Now(), FinishedAt: time.Now()},
			{Scenario: "Order", Error: "locator not found", StartedAt: time.Now(), FinishedAt: time.Now()},
		},
	}

	t.Run("should persist results without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))

		mockPool.ExpectBegin()
		mockPool.ExpectExec("DELETE FROM scenario_results").WithArgs("r-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, columns).WillReturnResult(2)
		// Expect Commit AND the subsequent Rollback (which returns ErrTxClosed)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistSummary(ctx, summary))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back on copy mismatch", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec("DELETE FROM scenario_results").WithArgs("r-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, columns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistSummary(ctx, summary)
		assert.ErrorContains(t, err, "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetScenarioResults(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT result FROM scenario_results`)).
		WithArgs("r-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).
			AddRow([]byte(`{"scenario":"Login","passed":true,"steps":[],"screenshots":["Login_step3.png"],"startedAt":"2024-05-01T10:30:00Z","finishedAt":"2024-05-01T10:31:00Z"}`)))

	results, err := s.GetScenarioResults(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Login", results[0].Scenario)
	assert.True(t, results[0].Passed)
	assert.Equal(t, []string{"Login_step3.png"}, results[0].Screenshots)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
