package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sqlcrew/sqlcrew/internal/auth"
	"github.com/sqlcrew/sqlcrew/internal/gateway"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 500
)

type createRunRequest struct {
	Question    string `json:"question"`
	MaxRevision int    `json:"max_revision"`
	RunID       string `json:"run_id"`
}

type runResponse struct {
	RunID      string           `json:"run_id"`
	Stage      workflow.Stage   `json:"stage"`
	Sequence   int              `json:"sequence"`
	Done       bool             `json:"done"`
	RecordedAt time.Time        `json:"recorded_at"`
	State      workflow.State   `json:"state"`
	Result     *workflow.Result `json:"result,omitempty"`
}

func handleCreateRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !workflowConfigured(deps, w, r) {
		return
	}
	if err := auth.RequireRole(r, auth.RoleWorkflowRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createRunRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid run request body", false, map[string]any{"details": err.Error()})
		return
	}

	ctx, cancel := runContext(r.Context(), deps.RunTimeout)
	defer cancel()

	var (
		result workflow.Result
		err    error
	)
	if strings.TrimSpace(request.RunID) != "" {
		result, err = deps.Workflow.RunWithID(ctx, request.RunID, request.Question, request.MaxRevision)
	} else {
		result, err = deps.Workflow.Run(ctx, request.Question, request.MaxRevision)
	}
	if err != nil {
		writeRunError(r, w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleResumeRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !workflowConfigured(deps, w, r) {
		return
	}
	if err := auth.RequireRole(r, auth.RoleWorkflowRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	ctx, cancel := runContext(r.Context(), deps.RunTimeout)
	defer cancel()

	result, err := deps.Workflow.Resume(ctx, r.PathValue("run_id"))
	if err != nil {
		writeRunError(r, w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleGetRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	checkpoints, ok := loadCheckpoints(deps, w, r)
	if !ok {
		return
	}
	latest := checkpoints[len(checkpoints)-1]
	next, err := workflow.Next(latest.Stage, latest.State)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHECKPOINT_INVALID", err.Error(), false, nil)
		return
	}

	response := runResponse{
		RunID:      latest.RunID,
		Stage:      latest.Stage,
		Sequence:   latest.Sequence,
		Done:       next == workflow.StageTerminated,
		RecordedAt: latest.RecordedAt,
		State:      latest.State,
	}
	if response.Done {
		result := workflow.Result{
			RunID:           latest.RunID,
			SQL:             latest.State.SQL,
			Accepted:        latest.State.Accepted,
			Revision:        latest.State.Revision,
			FeedbackHistory: latest.State.FeedbackHistory,
			Reason:          latest.State.Reason(),
		}
		response.Result = &result
	}
	writeJSON(w, http.StatusOK, response)
}

func handleListCheckpoints(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	checkpoints, ok := loadCheckpoints(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": r.PathValue("run_id"), "checkpoints": checkpoints})
}

func handleListRuns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runs == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNS_NOT_CONFIGURED", "run listing is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleWorkflowReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultRunListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRunListLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	runs, err := deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHECKPOINT_STORE_ERROR", "failed to list runs", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func loadCheckpoints(deps Dependencies, w http.ResponseWriter, r *http.Request) ([]workflow.Checkpoint, bool) {
	if !workflowConfigured(deps, w, r) {
		return nil, false
	}
	if err := auth.RequireRole(r, auth.RoleWorkflowReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return nil, false
	}
	runID := r.PathValue("run_id")
	checkpoints, err := deps.Workflow.Checkpoints(r.Context(), runID)
	if err != nil || len(checkpoints) == 0 {
		if err == nil || errors.Is(err, workflow.ErrRunNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "RUN_NOT_FOUND", "run was not found", false, map[string]any{"run_id": runID})
			return nil, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHECKPOINT_STORE_ERROR", "failed to load checkpoints", true, map[string]any{"details": err.Error()})
		return nil, false
	}
	return checkpoints, true
}

func workflowConfigured(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Workflow == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WORKFLOW_NOT_CONFIGURED", "workflow is not configured", false, nil)
		return false
	}
	return true
}

func runContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// writeRunError maps workflow failures onto the error envelope. Gateway failures
// carry the partial result so callers can resume.
func writeRunError(r *http.Request, w http.ResponseWriter, result workflow.Result, err error) {
	ctx := r.Context()
	var configErr *workflow.ConfigurationError
	var gatewayErr *gateway.Error
	switch {
	case errors.Is(err, workflow.ErrEmptyQuestion):
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
	case errors.As(err, &configErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, map[string]any{"field": configErr.Field})
	case errors.Is(err, workflow.ErrRunExists):
		writeError(ctx, w, http.StatusConflict, "RUN_EXISTS", "run id is already in use", false, map[string]any{"run_id": result.RunID})
	case errors.Is(err, workflow.ErrRunNotFound):
		writeError(ctx, w, http.StatusNotFound, "RUN_NOT_FOUND", "run was not found", false, map[string]any{"run_id": r.PathValue("run_id")})
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		writeError(ctx, w, http.StatusGatewayTimeout, "RUN_INTERRUPTED", err.Error(), true, runErrorContext(result, err))
	case errors.As(err, &gatewayErr):
		extra := runErrorContext(result, err)
		extra["provider"] = gatewayErr.Provider
		extra["status"] = gateway.Status(err)
		writeError(ctx, w, http.StatusBadGateway, "GATEWAY_FAILED", err.Error(), gateway.Retryable(err), extra)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "WORKFLOW_FAILED", err.Error(), false, runErrorContext(result, err))
	}
}

func runErrorContext(result workflow.Result, err error) map[string]any {
	extra := map[string]any{"run_id": result.RunID, "revision": result.Revision}
	var stageErr *workflow.StageError
	if errors.As(err, &stageErr) {
		extra["stage"] = stageErr.Stage
	}
	return extra
}
