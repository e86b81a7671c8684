package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlcrew/sqlcrew/internal/api"
	"github.com/sqlcrew/sqlcrew/internal/auth"
	"github.com/sqlcrew/sqlcrew/internal/bootstrap"
	"github.com/sqlcrew/sqlcrew/internal/config"
	"github.com/sqlcrew/sqlcrew/internal/gateway"
	"github.com/sqlcrew/sqlcrew/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlcrew-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	checkpoints, err := bootstrap.OpenCheckpoints(startupCtx, cfg.Checkpoint, nil)
	if err != nil {
		logger.Error("failed to open checkpoint store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = checkpoints.Close() }()

	schemaSource, err := bootstrap.OpenSchemaSource(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to open schema source", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = schemaSource.Close() }()

	modelGateway, err := gateway.New(cfg.Model, logger)
	if err != nil {
		logger.Error("failed to initialize model gateway", slog.Any("error", err))
		os.Exit(1)
	}

	controller, _, err := bootstrap.NewController(startupCtx, cfg, logger, modelGateway, schemaSource, checkpoints.Store)
	if err != nil {
		logger.Error("failed to initialize workflow", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{api.CheckSchema(schemaSource)}
	if checkpoints.Health != nil {
		readiness = append(readiness, api.CheckCheckpointStore(checkpoints.Health))
	}
	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
		Workflow:          controller,
		Runs:              checkpoints.Runs,
		Schema:            schemaSource,
		RunTimeout:        cfg.HTTP.WriteTimeout,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}
	if !checkpoints.Persistent {
		logger.Warn("checkpoints are kept in memory; runs cannot be resumed after a restart")
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
