package introspect

import (
	"fmt"
	"strings"
)

// Describe renders a structure as the plain-text schema the drafting stage reads:
// one block per table listing columns with type, nullability and key markers.
func Describe(s Structure) string {
	var b strings.Builder
	if s.DatabaseType != "" {
		fmt.Fprintf(&b, "Database type: %s\n", s.DatabaseType)
	}
	for _, schema := range s.Schemas {
		for _, table := range schema.Tables {
			name := table.TableName
			if schema.SchemaName != "" {
				name = schema.SchemaName + "." + table.TableName
			}
			kind := "table"
			if strings.EqualFold(table.TableType, "VIEW") {
				kind = "view"
			}
			fmt.Fprintf(&b, "\n%s %s (\n", kind, name)
			for _, column := range table.Columns {
				b.WriteString("  " + column.Name + " " + column.Type)
				if !column.Nullable {
					b.WriteString(" NOT NULL")
				}
				if column.IsPrimaryKey {
					b.WriteString(" PRIMARY KEY")
				}
				if column.IsForeignKey {
					if column.References != "" {
						b.WriteString(" REFERENCES " + column.References)
					} else {
						b.WriteString(" FOREIGN KEY")
					}
				}
				if column.Default != nil {
					b.WriteString(" DEFAULT " + *column.Default)
				}
				b.WriteString("\n")
			}
			b.WriteString(")\n")
		}
	}
	return b.String()
}
