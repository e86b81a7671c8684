package introspect

import (
	"context"
	"database/sql"
	"fmt"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type dialect interface {
	name() string
	pingQuery() string
	listSchemas(ctx context.Context, q querier) ([]string, error)
	listTables(ctx context.Context, q querier, schema string) ([]Table, error)
	listColumns(ctx context.Context, q querier, schema, table string) ([]Column, error)
}

var dialects = map[string]dialect{
	DialectPostgres:   postgresDialect,
	DialectMySQL:      mysqlDialect,
	DialectSQLite:     sqliteDialect{},
	DialectSQLServer:  sqlServerDialect,
	DialectOracle:     oracleDialect,
	DialectDuckDB:     duckDBDialect,
	DialectClickHouse: clickHouseDialect,
}

// catalogDialect covers engines whose metadata fits three queries. The tables query
// takes the schema; the columns query takes schema then table and returns
// name, type, nullable flag, default, primary key flag, foreign key flag, reference.
type catalogDialect struct {
	dialectName  string
	ping         string
	schemasQuery string
	tablesQuery  string
	columnsQuery string
}

func (d catalogDialect) name() string { return d.dialectName }

func (d catalogDialect) pingQuery() string {
	if d.ping == "" {
		return "SELECT 1"
	}
	return d.ping
}

func (d catalogDialect) listSchemas(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, d.schemasQuery)
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
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schemas, nil
}

func (d catalogDialect) listTables(ctx context.Context, q querier, schema string) ([]Table, error) {
	rows, err := q.QueryContext(ctx, d.tablesQuery, schema)
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

func (d catalogDialect) listColumns(ctx context.Context, q querier, schema, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, d.columnsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			column     Column
			nullable   int64
			primary    int64
			foreign    int64
			def        sql.NullString
			references sql.NullString
		)
		if err := rows.Scan(&column.Name, &column.Type, &nullable, &def, &primary, &foreign, &references); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		column.Nullable = nullable != 0
		column.IsPrimaryKey = primary != 0
		column.IsForeignKey = foreign != 0
		if def.Valid {
			value := def.String
			column.Default = &value
		}
		if references.Valid {
			column.References = references.String
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

var postgresDialect = catalogDialect{
	dialectName: DialectPostgres,
	schemasQuery: `
SELECT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
  AND schema_name NOT LIKE 'pg_toast%'
  AND schema_name NOT LIKE 'pg_temp%'
ORDER BY schema_name`,
	tablesQuery: `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
ORDER BY table_name`,
	columnsQuery: `
SELECT
	c.column_name,
	c.data_type,
	CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END,
	c.column_default,
	CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	CASE WHEN fk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	fk.ref
FROM information_schema.columns AS c
LEFT JOIN (
	SELECT kcu.table_schema, kcu.table_name, kcu.column_name
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY'
) AS pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
	SELECT kcu.table_schema, kcu.table_name, kcu.column_name, MIN(ccu.table_name || '.' || ccu.column_name) AS ref
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
	JOIN information_schema.constraint_column_usage AS ccu
		ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.constraint_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
	GROUP BY kcu.table_schema, kcu.table_name, kcu.column_name
) AS fk ON fk.table_schema = c.table_schema AND fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema = COALESCE(NULLIF($1, ''), current_schema())
  AND c.table_name = $2
ORDER BY c.ordinal_position`,
}

var mysqlDialect = catalogDialect{
	dialectName: DialectMySQL,
	schemasQuery: `
SELECT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
ORDER BY schema_name`,
	tablesQuery: `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
ORDER BY table_name`,
	columnsQuery: `
SELECT
	c.column_name,
	c.column_type,
	CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END,
	c.column_default,
	CASE WHEN c.column_key = 'PRI' THEN 1 ELSE 0 END,
	CASE WHEN fk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	fk.ref
FROM information_schema.columns AS c
LEFT JOIN (
	SELECT table_schema, table_name, column_name, MIN(CONCAT(referenced_table_name, '.', referenced_column_name)) AS ref
	FROM information_schema.key_column_usage
	WHERE referenced_table_name IS NOT NULL
	GROUP BY table_schema, table_name, column_name
) AS fk ON fk.table_schema = c.table_schema AND fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema = COALESCE(NULLIF(?, ''), DATABASE())
  AND c.table_name = ?
ORDER BY c.ordinal_position`,
}

var sqlServerDialect = catalogDialect{
	dialectName: DialectSQLServer,
	schemasQuery: `
SELECT name
FROM sys.schemas
WHERE principal_id < 16384
  AND name NOT IN ('guest', 'INFORMATION_SCHEMA', 'sys')
ORDER BY name`,
	tablesQuery: `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = COALESCE(NULLIF(@p1, ''), SCHEMA_NAME())
ORDER BY table_name`,
	columnsQuery: `
SELECT
	c.column_name,
	c.data_type,
	CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END,
	c.column_default,
	CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	CASE WHEN fk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	fk.ref
FROM information_schema.columns AS c
LEFT JOIN (
	SELECT kcu.table_schema, kcu.table_name, kcu.column_name
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY'
) AS pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
	SELECT
		SCHEMA_NAME(pt.schema_id) AS table_schema,
		pt.name AS table_name,
		pc.name AS column_name,
		MIN(rt.name + '.' + rc.name) AS ref
	FROM sys.foreign_key_columns AS fkc
	JOIN sys.tables AS pt ON pt.object_id = fkc.parent_object_id
	JOIN sys.columns AS pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
	JOIN sys.tables AS rt ON rt.object_id = fkc.referenced_object_id
	JOIN sys.columns AS rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
	GROUP BY SCHEMA_NAME(pt.schema_id), pt.name, pc.name
) AS fk ON fk.table_schema = c.table_schema AND fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema = COALESCE(NULLIF(@p1, ''), SCHEMA_NAME())
  AND c.table_name = @p2
ORDER BY c.ordinal_position`,
}

// Oracle treats '' as NULL, so NVL picks the session schema for an empty argument.
var oracleDialect = catalogDialect{
	dialectName: DialectOracle,
	ping:        "SELECT 1 FROM DUAL",
	schemasQuery: `
SELECT username
FROM all_users
WHERE oracle_maintained = 'N'
ORDER BY username`,
	tablesQuery: `
WITH target AS (
	SELECT NVL(:1, SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA')) AS owner FROM dual
)
SELECT t.table_name, 'BASE TABLE' FROM all_tables t JOIN target ON t.owner = target.owner
UNION ALL
SELECT v.view_name, 'VIEW' FROM all_views v JOIN target ON v.owner = target.owner
ORDER BY 1`,
	columnsQuery: `
SELECT
	c.column_name,
	c.data_type,
	CASE WHEN c.nullable = 'Y' THEN 1 ELSE 0 END,
	c.data_default,
	CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	CASE WHEN fk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	fk.ref
FROM all_tab_columns c
LEFT JOIN (
	SELECT acc.owner, acc.table_name, acc.column_name
	FROM all_constraints ac
	JOIN all_cons_columns acc ON acc.owner = ac.owner AND acc.constraint_name = ac.constraint_name
	WHERE ac.constraint_type = 'P'
) pk ON pk.owner = c.owner AND pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
	SELECT acc.owner, acc.table_name, acc.column_name, MIN(rcc.table_name || '.' || rcc.column_name) AS ref
	FROM all_constraints ac
	JOIN all_cons_columns acc ON acc.owner = ac.owner AND acc.constraint_name = ac.constraint_name
	JOIN all_cons_columns rcc ON rcc.owner = ac.r_owner AND rcc.constraint_name = ac.r_constraint_name AND rcc.position = acc.position
	WHERE ac.constraint_type = 'R'
	GROUP BY acc.owner, acc.table_name, acc.column_name
) fk ON fk.owner = c.owner AND fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.owner = NVL(:1, SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA'))
  AND c.table_name = :2
ORDER BY c.column_id`,
}

var duckDBDialect = catalogDialect{
	dialectName: DialectDuckDB,
	schemasQuery: `
SELECT DISTINCT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('information_schema', 'pg_catalog')
ORDER BY schema_name`,
	tablesQuery: `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema())
ORDER BY table_name`,
	columnsQuery: `
SELECT
	c.column_name,
	c.data_type,
	CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END,
	c.column_default,
	CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	CASE WHEN fk.column_name IS NOT NULL THEN 1 ELSE 0 END,
	fk.ref
FROM information_schema.columns AS c
LEFT JOIN (
	SELECT DISTINCT schema_name, table_name, UNNEST(constraint_column_names) AS column_name
	FROM duckdb_constraints()
	WHERE constraint_type = 'PRIMARY KEY'
) AS pk ON pk.schema_name = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
	SELECT schema_name, table_name, column_name, MIN(ref) AS ref
	FROM (
		SELECT
			schema_name,
			table_name,
			UNNEST(constraint_column_names) AS column_name,
			referenced_table || '.' || UNNEST(referenced_column_names) AS ref
		FROM duckdb_constraints()
		WHERE constraint_type = 'FOREIGN KEY'
	)
	GROUP BY schema_name, table_name, column_name
) AS fk ON fk.schema_name = c.table_schema AND fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema = COALESCE(NULLIF(?, ''), current_schema())
  AND c.table_name = ?
ORDER BY c.ordinal_position`,
}

// ClickHouse has no foreign keys; the sorting key stands in for the primary key.
var clickHouseDialect = catalogDialect{
	dialectName: DialectClickHouse,
	schemasQuery: `
SELECT name
FROM system.databases
WHERE name NOT IN ('system', 'INFORMATION_SCHEMA', 'information_schema')
ORDER BY name`,
	tablesQuery: `
SELECT name, if(engine LIKE '%View', 'VIEW', 'BASE TABLE')
FROM system.tables
WHERE database = coalesce(nullIf(?, ''), currentDatabase())
ORDER BY name`,
	columnsQuery: `
SELECT
	name,
	type,
	if(startsWith(type, 'Nullable('), 1, 0),
	nullIf(default_expression, ''),
	toUInt8(is_in_primary_key),
	0,
	CAST(NULL AS Nullable(String))
FROM system.columns
WHERE database = coalesce(nullIf(?, ''), currentDatabase())
  AND table = ?
ORDER BY position`,
}
