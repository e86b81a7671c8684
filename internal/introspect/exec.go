package introspect

import (
	"context"
	"database/sql"
	"fmt"
)

// Statement is one SQL text with its positional arguments.
type Statement struct {
	Query string
	Args  []any
}

// TestConnection reports whether a trivial query succeeds on the pool.
func (i *Inspector) TestConnection(ctx context.Context) bool {
	var one int
	if err := i.db.QueryRowContext(ctx, i.dialect.pingQuery()).Scan(&one); err != nil {
		i.logger.Warn("connection test failed", "dialect", i.dialect.name(), "error", err)
		return false
	}
	return true
}

// Query runs a row-returning statement and returns each row as a column to value map.
// Byte slices are returned as strings.
func (i *Inspector) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		i.logger.Error("query failed", "dialect", i.dialect.name(), "error", err)
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for idx := range values {
			pointers[idx] = &values[idx]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for idx, name := range columns {
			if raw, ok := values[idx].([]byte); ok {
				row[name] = string(raw)
				continue
			}
			row[name] = values[idx]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return out, nil
}

// Exec runs one modifying statement in its own transaction and returns the affected rows.
func (i *Inspector) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := i.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	return affected, nil
}

// ExecMany runs query once per argument set inside one transaction and returns the
// total affected rows. Any failure rolls back every set.
func (i *Inspector) ExecMany(ctx context.Context, query string, argSets [][]any) (int64, error) {
	var total int64
	err := i.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for idx, args := range argSets {
			result, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("argument set %d: %w", idx, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			total += affected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("execute batch: %w", err)
	}
	return total, nil
}

// ExecTx runs statements in order inside one transaction.
func (i *Inspector) ExecTx(ctx context.Context, statements []Statement) error {
	err := i.WithTx(ctx, func(tx *sql.Tx) error {
		for idx, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt.Query, stmt.Args...); err != nil {
				return fmt.Errorf("statement %d: %w", idx, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("execute transaction: %w", err)
	}
	return nil
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (i *Inspector) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		i.logger.Error("transaction rolled back", "dialect", i.dialect.name(), "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
