package export

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlcrew/sqlcrew/internal/introspect"
)

// ColumnRow is one column of the flat Parquet inventory.
type ColumnRow struct {
	DatabaseType string  `parquet:"database_type"`
	SchemaName   string  `parquet:"schema_name"`
	TableName    string  `parquet:"table_name"`
	TableType    string  `parquet:"table_type"`
	Ordinal      int32   `parquet:"ordinal"`
	ColumnName   string  `parquet:"column_name"`
	DataType     string  `parquet:"data_type"`
	Nullable     bool    `parquet:"nullable"`
	DefaultValue *string `parquet:"default_value,optional"`
	IsPrimaryKey bool    `parquet:"is_primary_key"`
	IsForeignKey bool    `parquet:"is_foreign_key"`
	References   string  `parquet:"references"`
}

func inventory(structure introspect.Structure) []ColumnRow {
	rows := make([]ColumnRow, 0)
	for _, schema := range structure.Schemas {
		for _, table := range schema.Tables {
			for idx, column := range table.Columns {
				rows = append(rows, ColumnRow{
					DatabaseType: structure.DatabaseType,
					SchemaName:   schema.SchemaName,
					TableName:    table.TableName,
					TableType:    table.TableType,
					Ordinal:      int32(idx + 1),
					ColumnName:   column.Name,
					DataType:     column.Type,
					Nullable:     column.Nullable,
					DefaultValue: column.Default,
					IsPrimaryKey: column.IsPrimaryKey,
					IsForeignKey: column.IsForeignKey,
					References:   column.References,
				})
			}
		}
	}
	return rows
}

// EncodeParquet flattens structure into one row per column.
func EncodeParquet(structure introspect.Structure) ([]byte, error) {
	rows := inventory(structure)
	if len(rows) == 0 {
		return nil, fmt.Errorf("structure has no columns to export")
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[ColumnRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
