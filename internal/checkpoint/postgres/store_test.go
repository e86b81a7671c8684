package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

const insertCheckpointSQL = `
INSERT INTO workflow_checkpoint (run_id, sequence, stage, state_json)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING recorded_at`

const stateJSON = `{"question":"q","table_schemas":"s","database":"d","sql":"SELECT 1","feedback_history":["f"],"accepted":false,"revision":1,"max_revision":3}`

func testState() workflow.State {
	return workflow.State{
		Question:        "q",
		TableSchemas:    "s",
		Database:        "d",
		SQL:             "SELECT 1",
		FeedbackHistory: []string{"f"},
		Revision:        1,
		MaxRevision:     3,
	}
}

func TestAppendFirstCheckpoint(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(insertCheckpointSQL)).
		WithArgs("run-1", int64(0), "schema_lookup", stateJSON).
		WillReturnRows(sqlmock.NewRows([]string{"recorded_at"}).AddRow(now))
	mock.ExpectCommit()

	cp, err := store.Append(context.Background(), workflow.Checkpoint{RunID: "run-1", Sequence: 0, Stage: workflow.StageSchemaLookup, State: testState()})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !cp.RecordedAt.Equal(now) {
		t.Fatalf("RecordedAt = %v, want %v", cp.RecordedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestAppendDuplicateRunReturnsErrRunExists(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(insertCheckpointSQL)).
		WithArgs("run-1", int64(0), "schema_lookup", stateJSON).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), workflow.Checkpoint{RunID: "run-1", Stage: workflow.StageSchemaLookup, State: testState()})
	if !errors.Is(err, workflow.ErrRunExists) {
		t.Fatalf("Append() error = %v, want ErrRunExists", err)
	}
	assertSQLMock(t, mock)
}

func TestAppendOutOfOrderReturnsConflict(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(sequence), -1)`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), workflow.Checkpoint{RunID: "run-1", Sequence: 2, Stage: workflow.StageDrafting, State: testState()})
	if !errors.Is(err, workflow.ErrCheckpointConflict) {
		t.Fatalf("Append() error = %v, want ErrCheckpointConflict", err)
	}
	assertSQLMock(t, mock)
}

func TestAppendNextSequence(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(sequence), -1)`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(insertCheckpointSQL)).
		WithArgs("run-1", int64(1), "drafting", stateJSON).
		WillReturnRows(sqlmock.NewRows([]string{"recorded_at"}).AddRow(now))
	mock.ExpectCommit()

	if _, err := store.Append(context.Background(), workflow.Checkpoint{RunID: "run-1", Sequence: 1, Stage: workflow.StageDrafting, State: testState()}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListDecodesCheckpoints(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT run_id, sequence, stage, state_json, recorded_at
FROM workflow_checkpoint
WHERE run_id = $1
ORDER BY sequence ASC`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "sequence", "stage", "state_json", "recorded_at"}).
			AddRow("run-1", 0, "schema_lookup", []byte(`{"question":"q","max_revision":3}`), now).
			AddRow("run-1", 1, "drafting", []byte(stateJSON), now))

	log, err := store.List(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(log) != 2 || log[1].Stage != workflow.StageDrafting || log[1].State.SQL != "SELECT 1" {
		t.Fatalf("List() = %#v", log)
	}
	if log[0].State.FeedbackHistory == nil {
		t.Fatal("FeedbackHistory should decode to an empty slice")
	}
	assertSQLMock(t, mock)
}

func TestListUnknownRun(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM workflow_checkpoint`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "sequence", "stage", "state_json", "recorded_at"}))

	if _, err := store.List(context.Background(), "missing"); !errors.Is(err, workflow.ErrRunNotFound) {
		t.Fatalf("List() error = %v, want ErrRunNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestLatestReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY sequence DESC
LIMIT 1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Latest(context.Background(), "missing"); !errors.Is(err, workflow.ErrRunNotFound) {
		t.Fatalf("Latest() error = %v, want ErrRunNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListRunsSummarizes(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	started := time.Now().UTC().Add(-time.Minute)
	updated := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE first.sequence = 0
ORDER BY first.recorded_at DESC, first.run_id ASC
LIMIT $1`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "recorded_at", "sequence", "stage", "state_json", "recorded_at"}).
			AddRow("run-1", started, 2, "reviewing", []byte(`{"accepted":true,"revision":1,"max_revision":3}`), updated))

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns() = %#v", runs)
	}
	run := runs[0]
	if run.RunID != "run-1" || !run.Done || !run.Accepted || run.Checkpoints != 3 || !run.StartedAt.Equal(started) {
		t.Fatalf("summary = %#v", run)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
