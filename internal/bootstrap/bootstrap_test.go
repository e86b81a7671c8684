package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/sqlcrew/sqlcrew/internal/config"
	"github.com/sqlcrew/sqlcrew/internal/gateway/gatewaytest"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

func TestOpenCheckpointsMemory(t *testing.T) {
	checkpoints, err := OpenCheckpoints(context.Background(), config.CheckpointConfig{Backend: config.CheckpointBackendMemory}, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("OpenCheckpoints() error = %v", err)
	}
	defer func() { _ = checkpoints.Close() }()
	if checkpoints.Persistent || checkpoints.Health != nil {
		t.Fatalf("memory backend = %+v", checkpoints)
	}
	if checkpoints.Store == nil || checkpoints.Runs == nil {
		t.Fatal("expected store and run lister")
	}
}

func TestOpenCheckpointsRejectsUnknownBackend(t *testing.T) {
	if _, err := OpenCheckpoints(context.Background(), config.CheckpointConfig{Backend: "redis"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := OpenCheckpoints(context.Background(), config.CheckpointConfig{Backend: config.CheckpointBackendPostgres}, nil); err == nil {
		t.Fatal("expected error for postgres backend without dsn")
	}
}

func TestOpenSchemaSourceRequiresConfiguration(t *testing.T) {
	_, err := OpenSchemaSource(context.Background(), config.Config{}, nil)
	if !errors.Is(err, ErrNoSchemaSource) {
		t.Fatalf("OpenSchemaSource() error = %v, want ErrNoSchemaSource", err)
	}
}

func TestOpenSchemaSourcePrefersSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.txt")
	if err := os.WriteFile(path, []byte("CREATE TABLE orders (id INT);"), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	cfg := config.Config{
		Workflow:   config.WorkflowConfig{SchemaFile: path, Database: "shop"},
		Introspect: config.IntrospectConfig{DSN: "redis://ignored"},
	}
	source, err := OpenSchemaSource(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenSchemaSource() error = %v", err)
	}
	defer func() { _ = source.Close() }()
	if source.Inspector != nil {
		t.Fatal("schema file source should not open an inspector")
	}
	description, err := source.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if description.Database != "shop" || !strings.Contains(description.Text, "orders") {
		t.Fatalf("description = %+v", description)
	}
}

func TestOpenSchemaSourceIntrospectsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_ = db.Close()

	cfg := config.Config{
		Introspect: config.IntrospectConfig{DSN: "sqlite:///" + path, CacheTTL: time.Minute},
	}
	source, err := OpenSchemaSource(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenSchemaSource() error = %v", err)
	}
	defer func() { _ = source.Close() }()
	if source.Inspector == nil {
		t.Fatal("expected inspector")
	}
	description, err := source.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if description.Database != "sqlite" {
		t.Fatalf("Database = %q", description.Database)
	}
	if !strings.Contains(description.Text, "table main.customers (") {
		t.Fatalf("Text = %q", description.Text)
	}
	if description.Structure == nil {
		t.Fatal("expected structure")
	}
}

func TestNewControllerRunsAgainstDescribedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.txt")
	if err := os.WriteFile(path, []byte("CREATE TABLE orders (id INT);"), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	cfg := config.Config{
		Model:    config.ModelConfig{Name: "test-model"},
		Workflow: config.WorkflowConfig{SchemaFile: path, Database: "shop"},
	}
	source, err := OpenSchemaSource(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenSchemaSource() error = %v", err)
	}
	checkpoints, err := OpenCheckpoints(context.Background(), cfg.Checkpoint, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("OpenCheckpoints() error = %v", err)
	}

	prompts := workflow.DefaultPrompts()
	gw := gatewaytest.New().
		On(prompts.SQLWriter, gatewaytest.Text("SELECT COUNT(*) FROM orders;")...).
		On(prompts.QAReviewer, gatewaytest.Text("ACCEPT")...)

	controller, description, err := NewController(context.Background(), cfg, nil, gw, source, checkpoints.Store)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if description.Database != "shop" {
		t.Fatalf("description = %+v", description)
	}
	result, err := controller.Run(context.Background(), "how many orders?", 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Accepted || result.SQL != "SELECT COUNT(*) FROM orders;" {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(gw.Calls()[0].Instruction, "CREATE TABLE orders") {
		t.Fatalf("draft instruction = %q", gw.Calls()[0].Instruction)
	}
}

func TestNewControllerRejectsMissingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.txt")
	if err := os.WriteFile(path, []byte("CREATE TABLE orders (id INT);"), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	source, err := OpenSchemaSource(context.Background(), config.Config{
		Workflow: config.WorkflowConfig{SchemaFile: path, Database: "shop"},
	}, nil)
	if err != nil {
		t.Fatalf("OpenSchemaSource() error = %v", err)
	}
	_, _, err = NewController(context.Background(), config.Config{}, nil, gatewaytest.New(), source, nil)
	var cfgErr *workflow.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "model" {
		t.Fatalf("NewController() error = %v, want model ConfigurationError", err)
	}
}
