package workflow

import (
	"context"
	"time"
)

// Checkpoint is one entry of a run's append-only log, written after each
// completed stage. Sequence starts at zero.
type Checkpoint struct {
	RunID      string    `json:"run_id"`
	Sequence   int       `json:"sequence"`
	Stage      Stage     `json:"stage"`
	State      State     `json:"state"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Checkpointer stores checkpoints. Append returns ErrRunExists for a second
// sequence zero and ErrCheckpointConflict for any other out of order sequence.
// List and Latest return ErrRunNotFound for unknown runs.
type Checkpointer interface {
	Append(ctx context.Context, cp Checkpoint) (Checkpoint, error)
	List(ctx context.Context, runID string) ([]Checkpoint, error)
	Latest(ctx context.Context, runID string) (Checkpoint, error)
}

type RunSummary struct {
	RunID       string    `json:"run_id"`
	Stage       Stage     `json:"stage"`
	Revision    int       `json:"revision"`
	Accepted    bool      `json:"accepted"`
	Done        bool      `json:"done"`
	Checkpoints int       `json:"checkpoints"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunLister is implemented by checkpoint stores that can enumerate runs, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// Summarize builds a RunSummary from the first and latest checkpoint of a run.
func Summarize(first, latest Checkpoint, count int) RunSummary {
	next, _ := Next(latest.Stage, latest.State)
	return RunSummary{
		RunID:       latest.RunID,
		Stage:       latest.Stage,
		Revision:    latest.State.Revision,
		Accepted:    latest.State.Accepted,
		Done:        next == StageTerminated,
		Checkpoints: count,
		StartedAt:   first.RecordedAt,
		UpdatedAt:   latest.RecordedAt,
	}
}
