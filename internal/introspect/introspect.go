// Package introspect reads schema metadata from PostgreSQL, MySQL, SQLite, SQL Server,
// Oracle, DuckDB and ClickHouse and exports it as a structure document.
package introspect

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/sqlcrew/sqlcrew/internal/observability"
)

type Table struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	IsForeignKey bool    `json:"is_foreign_key"`
	References   string  `json:"references,omitempty"`
}

type Structure struct {
	DatabaseType string            `json:"database_type"`
	Schemas      []SchemaStructure `json:"schemas"`
}

type SchemaStructure struct {
	SchemaName string           `json:"schema_name"`
	Tables     []TableStructure `json:"tables"`
}

type TableStructure struct {
	TableName string   `json:"table_name"`
	TableType string   `json:"table_type"`
	Columns   []Column `json:"columns"`
}

type Options struct {
	MaxOpenConns int
	Logger       *slog.Logger
}

// Inspector wraps one connection pool. It is safe for concurrent use.
type Inspector struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Connect opens a pool for connString and verifies it with a ping. The dialect is
// chosen from the URL scheme.
func Connect(ctx context.Context, connString string, opts Options) (*Inspector, error) {
	t, err := parseTarget(connString)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if t.clickhouse != nil {
		db, err = openClickHouse(t)
	} else {
		db, err = sql.Open(t.driver, t.dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", t.dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	// every in-memory sqlite connection is a separate database
	if t.dialect == DialectSQLite && strings.Contains(t.dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s connection: %w", t.dialect, err)
	}

	inspector, err := New(db, t.dialect, opts.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	inspector.logger.Info("database connection established", "dialect", t.dialect)
	return inspector, nil
}

// New wraps an existing pool. dialectName is one of the Dialect constants.
func New(db *sql.DB, dialectName string, logger *slog.Logger) (*Inspector, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	d, ok := dialects[dialectName]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialectName)
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Inspector{db: db, dialect: d, logger: logger}, nil
}

func openClickHouse(t target) (*sql.DB, error) {
	u := t.clickhouse
	password, _ := u.User.Password()
	opts := &clickhouse.Options{
		Addr: []string{hostPort(u, "9000")},
		Auth: clickhouse.Auth{
			Database: strings.TrimPrefix(u.Path, "/"),
			Username: u.User.Username(),
			Password: password,
		},
	}
	if secure := u.Query().Get("secure"); secure == "true" || secure == "1" {
		opts.TLS = &tls.Config{}
	}
	return clickhouse.OpenDB(opts), nil
}

func (i *Inspector) DatabaseType() string {
	return i.dialect.name()
}

// DB exposes the pool for callers that need raw access.
func (i *Inspector) DB() *sql.DB {
	return i.db
}

func (i *Inspector) Close() error {
	if err := i.db.Close(); err != nil {
		return fmt.Errorf("close %s connection: %w", i.dialect.name(), err)
	}
	i.logger.Info("database connection closed", "dialect", i.dialect.name())
	return nil
}

func (i *Inspector) ListSchemas(ctx context.Context) ([]string, error) {
	schemas, err := i.dialect.listSchemas(ctx, i.db)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return schemas, nil
}

// ListTables lists tables and views of schema; empty means the connection's default schema.
func (i *Inspector) ListTables(ctx context.Context, schema string) ([]Table, error) {
	tables, err := i.dialect.listTables(ctx, i.db, strings.TrimSpace(schema))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// ListColumns lists the columns of table in schema order; empty schema means the default schema.
func (i *Inspector) ListColumns(ctx context.Context, table, schema string) ([]Column, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table name is required")
	}
	columns, err := i.dialect.listColumns(ctx, i.db, strings.TrimSpace(schema), strings.TrimSpace(table))
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return columns, nil
}

// ExportStructure walks schemas, tables and columns. An empty filter exports every
// schema ListSchemas returns.
func (i *Inspector) ExportStructure(ctx context.Context, schemaFilter string) (Structure, error) {
	schemas := []string{strings.TrimSpace(schemaFilter)}
	if schemas[0] == "" {
		all, err := i.ListSchemas(ctx)
		if err != nil {
			return Structure{}, err
		}
		schemas = all
	}

	out := Structure{DatabaseType: i.dialect.name(), Schemas: make([]SchemaStructure, 0, len(schemas))}
	for _, schema := range schemas {
		tables, err := i.ListTables(ctx, schema)
		if err != nil {
			return Structure{}, err
		}
		entry := SchemaStructure{SchemaName: schema, Tables: make([]TableStructure, 0, len(tables))}
		for _, table := range tables {
			columns, err := i.ListColumns(ctx, table.Name, schema)
			if err != nil {
				return Structure{}, err
			}
			entry.Tables = append(entry.Tables, TableStructure{TableName: table.Name, TableType: table.Type, Columns: columns})
		}
		out.Schemas = append(out.Schemas, entry)
	}
	i.logger.Debug("structure exported", "dialect", out.DatabaseType, "schemas", len(out.Schemas))
	return out, nil
}
