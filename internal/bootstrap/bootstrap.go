// Package bootstrap assembles the workflow controller and its collaborators from
// configuration. Binaries call it instead of wiring stores and sources by hand.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/sqlcrew/sqlcrew/internal/checkpoint"
	checkpointpostgres "github.com/sqlcrew/sqlcrew/internal/checkpoint/postgres"
	"github.com/sqlcrew/sqlcrew/internal/config"
	"github.com/sqlcrew/sqlcrew/internal/gateway"
	"github.com/sqlcrew/sqlcrew/internal/introspect"
	"github.com/sqlcrew/sqlcrew/internal/observability"
	"github.com/sqlcrew/sqlcrew/internal/schema"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

var ErrNoSchemaSource = errors.New("no schema source configured: set SQLCREW_WORKFLOW_SCHEMA_FILE or SQLCREW_INTROSPECT_DSN")

// Checkpoints is the configured checkpoint backend.
type Checkpoints struct {
	Store workflow.Checkpointer
	Runs  workflow.RunLister
	// Health is nil for the memory backend.
	Health interface {
		HealthCheck(ctx context.Context) error
	}
	// Persistent reports whether checkpoints outlive the process.
	Persistent bool
	close      func() error
}

func (c *Checkpoints) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	return c.close()
}

func OpenCheckpoints(ctx context.Context, cfg config.CheckpointConfig, clock clockwork.Clock) (*Checkpoints, error) {
	switch cfg.Backend {
	case config.CheckpointBackendMemory, "":
		store := checkpoint.NewMemoryStore(clock)
		return &Checkpoints{Store: store, Runs: store}, nil
	case config.CheckpointBackendPostgres:
		db, err := checkpointpostgres.Open(ctx, checkpointpostgres.DBConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		store := checkpointpostgres.NewStore(db)
		return &Checkpoints{
			Store:      store,
			Runs:       store,
			Health:     store,
			Persistent: true,
			close:      db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend %q", cfg.Backend)
	}
}

// SchemaSource is the configured schema description provider.
type SchemaSource struct {
	schema.Source
	// Inspector is set when the description comes from live metadata.
	Inspector *introspect.Inspector
}

func (s *SchemaSource) Close() error {
	if s == nil || s.Inspector == nil {
		return nil
	}
	return s.Inspector.Close()
}

// OpenSchemaSource prefers a schema file over live introspection. Introspected
// descriptions are cached for Introspect.CacheTTL when it is positive.
func OpenSchemaSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (*SchemaSource, error) {
	if path := strings.TrimSpace(cfg.Workflow.SchemaFile); path != "" {
		static, err := schema.LoadFile(path, cfg.Workflow.Database)
		if err != nil {
			return nil, err
		}
		return &SchemaSource{Source: static}, nil
	}
	if dsn := strings.TrimSpace(cfg.Introspect.DSN); dsn != "" {
		inspector, err := introspect.Connect(ctx, dsn, introspect.Options{
			MaxOpenConns: cfg.Introspect.MaxOpenConns,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		var source schema.Source = schema.NewIntrospected(inspector, cfg.Introspect.SchemaFilter, cfg.Workflow.Database)
		if cfg.Introspect.CacheTTL > 0 {
			source = schema.NewCached(source, cfg.Introspect.CacheTTL)
		}
		return &SchemaSource{Source: source, Inspector: inspector}, nil
	}
	return nil, ErrNoSchemaSource
}

// NewController describes the schema once and builds a controller drafting against
// that description.
func NewController(ctx context.Context, cfg config.Config, logger *slog.Logger, gw gateway.Gateway, source schema.Source, store workflow.Checkpointer) (*workflow.Controller, schema.Description, error) {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	description, err := source.Describe(ctx)
	if err != nil {
		return nil, schema.Description{}, fmt.Errorf("describe schema: %w", err)
	}

	prompts := workflow.DefaultPrompts()
	if path := strings.TrimSpace(cfg.Workflow.PromptsFile); path != "" {
		prompts, err = workflow.LoadPrompts(path)
		if err != nil {
			return nil, schema.Description{}, err
		}
	}

	controller, err := workflow.New(workflow.Config{
		Gateway:      gw,
		Model:        cfg.Model.Name,
		Schema:       description.Text,
		Database:     description.Database,
		Prompts:      prompts,
		Checkpointer: store,
		Logger:       logger,
	})
	if err != nil {
		return nil, schema.Description{}, err
	}
	logger.Info("workflow controller ready",
		slog.String("database", description.Database),
		slog.String("model", cfg.Model.Name),
		slog.Int("schema_bytes", len(description.Text)),
	)
	return controller, description, nil
}
