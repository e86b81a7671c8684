// Package workflow drives the text-to-SQL revision loop: schema lookup, drafting,
// review and feedback until a draft is accepted or the revision cap is reached.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sqlcrew/sqlcrew/internal/gateway"
	"github.com/sqlcrew/sqlcrew/internal/observability"
)

type Config struct {
	Gateway  gateway.Gateway
	Model    string
	Schema   string
	Database string
	Prompts  Prompts
	// Checkpointer is optional; without it runs cannot be inspected or resumed.
	Checkpointer Checkpointer
	// Observer is called after every checkpoint, in order.
	Observer func(Checkpoint)
	Logger   *slog.Logger
	NewRunID func() string
}

type Result struct {
	RunID           string            `json:"run_id"`
	SQL             string            `json:"sql"`
	Accepted        bool              `json:"accepted"`
	Revision        int               `json:"revision"`
	FeedbackHistory []string          `json:"feedback_history"`
	Reason          TerminationReason `json:"reason"`
	State           State             `json:"-"`
}

func resultFrom(runID string, s State) Result {
	snapshot := s.Clone()
	return Result{
		RunID:           runID,
		SQL:             snapshot.SQL,
		Accepted:        snapshot.Accepted,
		Revision:        snapshot.Revision,
		FeedbackHistory: snapshot.FeedbackHistory,
		Reason:          snapshot.Reason(),
		State:           snapshot,
	}
}

// Controller is safe for concurrent use; every run owns its own State.
type Controller struct {
	gateway      gateway.Gateway
	model        string
	schema       string
	database     string
	prompts      Prompts
	checkpointer Checkpointer
	observer     func(Checkpoint)
	logger       *slog.Logger
	newRunID     func() string
}

func New(cfg Config) (*Controller, error) {
	if cfg.Gateway == nil {
		return nil, &ConfigurationError{Field: "gateway"}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &ConfigurationError{Field: "model"}
	}
	if strings.TrimSpace(cfg.Schema) == "" {
		return nil, &ConfigurationError{Field: "schema"}
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, &ConfigurationError{Field: "database"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	newRunID := cfg.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}
	return &Controller{
		gateway:      cfg.Gateway,
		model:        strings.TrimSpace(cfg.Model),
		schema:       cfg.Schema,
		database:     strings.TrimSpace(cfg.Database),
		prompts:      cfg.Prompts.withDefaults(),
		checkpointer: cfg.Checkpointer,
		observer:     cfg.Observer,
		logger:       logger,
		newRunID:     newRunID,
	}, nil
}

// Run executes a new run to completion under a generated run ID. maxRevision zero
// selects DefaultMaxRevision.
func (c *Controller) Run(ctx context.Context, question string, maxRevision int) (Result, error) {
	return c.RunWithID(ctx, c.newRunID(), question, maxRevision)
}

// RunWithID is Run with a caller-chosen run ID. Reusing an ID fails with ErrRunExists
// before the gateway is called. On error the Result carries the run ID and the last
// consistent state.
func (c *Controller) RunWithID(ctx context.Context, runID, question string, maxRevision int) (Result, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Result{}, &ConfigurationError{Field: "run_id"}
	}
	if strings.TrimSpace(question) == "" {
		return Result{}, ErrEmptyQuestion
	}
	if maxRevision < 0 {
		return Result{}, &ConfigurationError{Field: "max_revision", Reason: "must be >= 0"}
	}
	if maxRevision == 0 {
		maxRevision = DefaultMaxRevision
	}

	state := NewState(question, maxRevision)
	c.logger.Info("workflow run started", "run_id", runID, "max_revision", maxRevision)
	return c.execute(ctx, runID, state, StageSchemaLookup, 0)
}

// Resume continues a run from its latest checkpoint. A finished run is returned as is.
func (c *Controller) Resume(ctx context.Context, runID string) (Result, error) {
	if c.checkpointer == nil {
		return Result{}, fmt.Errorf("resume run %s: %w", runID, ErrRunNotFound)
	}
	latest, err := c.checkpointer.Latest(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("load latest checkpoint: %w", err)
	}
	next, err := Next(latest.Stage, latest.State)
	if err != nil {
		return Result{}, err
	}
	if next == StageTerminated {
		return resultFrom(runID, latest.State), nil
	}
	state := latest.State.Clone()
	c.logger.Info("workflow run resumed", "run_id", runID, "stage", next, "revision", state.Revision)
	return c.execute(ctx, runID, &state, next, latest.Sequence+1)
}

// Checkpoints returns the log of a run.
func (c *Controller) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	if c.checkpointer == nil {
		return nil, ErrRunNotFound
	}
	return c.checkpointer.List(ctx, runID)
}

func (c *Controller) execute(ctx context.Context, runID string, state *State, stage Stage, sequence int) (Result, error) {
	for stage != StageTerminated {
		if err := ctx.Err(); err != nil {
			observability.ObserveRun("failed", state.Revision)
			return resultFrom(runID, *state), err
		}

		start := time.Now()
		if err := c.runStage(ctx, stage, state); err != nil {
			observability.ObserveRun("failed", state.Revision)
			c.logger.Error("workflow stage failed", "run_id", runID, "stage", stage, "revision", state.Revision, "error", err)
			return resultFrom(runID, *state), &StageError{RunID: runID, Stage: stage, Err: err}
		}
		observability.ObserveStage(string(stage), time.Since(start))
		c.logger.Debug("workflow stage completed", "run_id", runID, "stage", stage, "revision", state.Revision, "accepted", state.Accepted)

		if err := c.record(ctx, runID, sequence, stage, *state); err != nil {
			if !errors.Is(err, ErrRunExists) {
				observability.ObserveRun("failed", state.Revision)
			}
			return resultFrom(runID, *state), err
		}
		sequence++

		next, err := Next(stage, *state)
		if err != nil {
			return resultFrom(runID, *state), err
		}
		stage = next
	}

	result := resultFrom(runID, *state)
	observability.ObserveRun(string(result.Reason), result.Revision)
	c.logger.Info("workflow run finished", "run_id", runID, "reason", result.Reason, "revision", result.Revision)
	return result, nil
}

func (c *Controller) record(ctx context.Context, runID string, sequence int, stage Stage, state State) error {
	cp := Checkpoint{RunID: runID, Sequence: sequence, Stage: stage, State: state.Clone()}
	if c.checkpointer != nil {
		stored, err := c.checkpointer.Append(ctx, cp)
		if err != nil {
			return fmt.Errorf("append checkpoint %d for run %s: %w", sequence, runID, err)
		}
		cp = stored
	}
	if c.observer != nil {
		c.observer(cp)
	}
	return nil
}
