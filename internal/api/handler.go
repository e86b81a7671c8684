// Package api serves the workflow over HTTP: run, inspect and resume runs, and
// read the schema description the workflow drafts against.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlcrew/sqlcrew/internal/config"
	"github.com/sqlcrew/sqlcrew/internal/observability"
	"github.com/sqlcrew/sqlcrew/internal/schema"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

type ReadinessCheck func(ctx context.Context) error

// WorkflowRunner is satisfied by *workflow.Controller.
type WorkflowRunner interface {
	Run(ctx context.Context, question string, maxRevision int) (workflow.Result, error)
	RunWithID(ctx context.Context, runID, question string, maxRevision int) (workflow.Result, error)
	Resume(ctx context.Context, runID string) (workflow.Result, error)
	Checkpoints(ctx context.Context, runID string) ([]workflow.Checkpoint, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Workflow          WorkflowRunner
	// Runs enumerates runs for GET /v1/runs; usually the checkpoint store.
	Runs   workflow.RunLister
	Schema schema.Source
	// RunTimeout bounds one synchronous run; zero means the request context only.
	RunTimeout time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		handleCreateRun(deps, w, r)
	})
	protected.HandleFunc("GET /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		handleListRuns(deps, w, r)
	})
	protected.HandleFunc("GET /v1/runs/{run_id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetRun(deps, w, r)
	})
	protected.HandleFunc("GET /v1/runs/{run_id}/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		handleListCheckpoints(deps, w, r)
	})
	protected.HandleFunc("POST /v1/runs/{run_id}/resume", func(w http.ResponseWriter, r *http.Request) {
		handleResumeRun(deps, w, r)
	})
	protected.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/runs", protectedHandler)
	mux.Handle("GET /v1/runs", protectedHandler)
	mux.Handle("GET /v1/runs/{run_id}", protectedHandler)
	mux.Handle("GET /v1/runs/{run_id}/checkpoints", protectedHandler)
	mux.Handle("POST /v1/runs/{run_id}/resume", protectedHandler)
	mux.Handle("GET /v1/schema", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckSchema fails while the schema source cannot produce a description.
func CheckSchema(source schema.Source) ReadinessCheck {
	return func(ctx context.Context) error {
		if source == nil {
			return errors.New("schema source is not configured")
		}
		if _, err := source.Describe(ctx); err != nil {
			return err
		}
		return nil
	}
}

// HealthChecker is implemented by the postgres checkpoint store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func CheckCheckpointStore(store HealthChecker) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return nil
		}
		return store.HealthCheck(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
