package introspect

import (
	"context"
	"database/sql"
	"fmt"
)

// sqliteDialect reads metadata through the pragma table-valued functions. Attached
// databases are the schemas; "main" is the default.
type sqliteDialect struct{}

func (sqliteDialect) name() string { return DialectSQLite }

func (sqliteDialect) pingQuery() string { return "SELECT 1" }

func (sqliteDialect) listSchemas(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_database_list ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schemas := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		if name == "temp" {
			continue
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schemas, nil
}

func (sqliteDialect) listTables(ctx context.Context, q querier, schema string) ([]Table, error) {
	rows, err := q.QueryContext(ctx, `
SELECT name, CASE type WHEN 'view' THEN 'VIEW' ELSE 'BASE TABLE' END
FROM pragma_table_list
WHERE schema = ?
  AND type IN ('table', 'view')
  AND name NOT LIKE 'sqlite_%'
ORDER BY name`, sqliteSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]Table, 0)
	for rows.Next() {
		var table Table
		if err := rows.Scan(&table.Name, &table.Type); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

func (d sqliteDialect) listColumns(ctx context.Context, q querier, schema, table string) ([]Column, error) {
	schema = sqliteSchema(schema)
	references, err := d.foreignKeys(ctx, q, schema, table)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
SELECT name, type, "notnull", dflt_value, pk
FROM pragma_table_info(?, ?)
ORDER BY cid`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			column  Column
			notNull int64
			pk      int64
			def     sql.NullString
		)
		if err := rows.Scan(&column.Name, &column.Type, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		column.Nullable = notNull == 0
		column.IsPrimaryKey = pk > 0
		if def.Valid {
			value := def.String
			column.Default = &value
		}
		if ref, ok := references[column.Name]; ok {
			column.IsForeignKey = true
			column.References = ref
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

// foreignKeys maps a local column to "table.column". A reference that omits the
// parent column points at the parent's primary key and is recorded as just the table.
func (sqliteDialect) foreignKeys(ctx context.Context, q querier, schema, table string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `
SELECT "from", "table", "to"
FROM pragma_foreign_key_list(?, ?)
ORDER BY id, seq`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var (
			from   string
			parent string
			to     sql.NullString
		)
		if err := rows.Scan(&from, &parent, &to); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		if _, seen := out[from]; seen {
			continue
		}
		ref := parent
		if to.Valid && to.String != "" {
			ref = parent + "." + to.String
		}
		out[from] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}
	return out, nil
}

func sqliteSchema(schema string) string {
	if schema == "" {
		return "main"
	}
	return schema
}
