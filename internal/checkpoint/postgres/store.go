package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

const uniqueViolation = "23505"

// Store is a workflow.Checkpointer backed by the workflow_checkpoint table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping checkpoint db: %w", err)
	}
	return nil
}

// Append inserts the next entry of a run. The primary key on (run_id, sequence)
// rejects a second sequence zero and concurrent writers racing for the same slot.
func (s *Store) Append(ctx context.Context, cp workflow.Checkpoint) (workflow.Checkpoint, error) {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return workflow.Checkpoint{}, fmt.Errorf("marshal checkpoint state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Checkpoint{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if cp.Sequence > 0 {
		var latest int
		err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(sequence), -1)
FROM workflow_checkpoint
WHERE run_id = $1`, cp.RunID).Scan(&latest)
		if err != nil {
			return workflow.Checkpoint{}, fmt.Errorf("read latest checkpoint sequence: %w", err)
		}
		if latest != cp.Sequence-1 {
			return workflow.Checkpoint{}, workflow.ErrCheckpointConflict
		}
	}

	query := `
INSERT INTO workflow_checkpoint (run_id, sequence, stage, state_json)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING recorded_at`
	if err := tx.QueryRowContext(ctx, query, cp.RunID, cp.Sequence, string(cp.Stage), string(stateJSON)).Scan(&cp.RecordedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if cp.Sequence == 0 {
				return workflow.Checkpoint{}, workflow.ErrRunExists
			}
			return workflow.Checkpoint{}, workflow.ErrCheckpointConflict
		}
		return workflow.Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return workflow.Checkpoint{}, fmt.Errorf("commit checkpoint: %w", err)
	}
	cp.State = cp.State.Clone()
	return cp, nil
}

func (s *Store) List(ctx context.Context, runID string) ([]workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, sequence, stage, state_json, recorded_at
FROM workflow_checkpoint
WHERE run_id = $1
ORDER BY sequence ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	checkpoints := make([]workflow.Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	if len(checkpoints) == 0 {
		return nil, workflow.ErrRunNotFound
	}
	return checkpoints, nil
}

func (s *Store) Latest(ctx context.Context, runID string) (workflow.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, sequence, stage, state_json, recorded_at
FROM workflow_checkpoint
WHERE run_id = $1
ORDER BY sequence DESC
LIMIT 1`, runID)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.Checkpoint{}, workflow.ErrRunNotFound
		}
		return workflow.Checkpoint{}, err
	}
	return cp, nil
}

// ListRuns summarizes runs by start time, newest first. limit <= 0 lists all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]workflow.RunSummary, error) {
	query := `
SELECT first.run_id, first.recorded_at, latest.sequence, latest.stage, latest.state_json, latest.recorded_at
FROM workflow_checkpoint AS first
JOIN LATERAL (
	SELECT c.sequence, c.stage, c.state_json, c.recorded_at
	FROM workflow_checkpoint AS c
	WHERE c.run_id = first.run_id
	ORDER BY c.sequence DESC
	LIMIT 1
) AS latest ON TRUE
WHERE first.sequence = 0
ORDER BY first.recorded_at DESC, first.run_id ASC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+`
LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]workflow.RunSummary, 0)
	for rows.Next() {
		var (
			runID      string
			startedAt  time.Time
			sequence   int
			stage      string
			stateJSON  []byte
			recordedAt time.Time
		)
		if err := rows.Scan(&runID, &startedAt, &sequence, &stage, &stateJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		var state workflow.State
		if err := json.Unmarshal(stateJSON, &state); err != nil {
			return nil, fmt.Errorf("decode run %s state: %w", runID, err)
		}
		first := workflow.Checkpoint{RunID: runID, RecordedAt: startedAt}
		latest := workflow.Checkpoint{RunID: runID, Sequence: sequence, Stage: workflow.Stage(stage), State: state, RecordedAt: recordedAt}
		runs = append(runs, workflow.Summarize(first, latest, sequence+1))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (workflow.Checkpoint, error) {
	var (
		cp        workflow.Checkpoint
		stage     string
		stateJSON []byte
	)
	if err := row.Scan(&cp.RunID, &cp.Sequence, &stage, &stateJSON, &cp.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.Checkpoint{}, err
		}
		return workflow.Checkpoint{}, fmt.Errorf("scan checkpoint row: %w", err)
	}
	cp.Stage = workflow.Stage(stage)
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return workflow.Checkpoint{}, fmt.Errorf("decode checkpoint state: %w", err)
	}
	if cp.State.FeedbackHistory == nil {
		cp.State.FeedbackHistory = []string{}
	}
	return cp, nil
}
