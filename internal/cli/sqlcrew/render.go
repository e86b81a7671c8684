package sqlcrew

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sqlcrew/sqlcrew/internal/introspect"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

func writeJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

func renderResult(w io.Writer, result workflow.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, result)
	}

	table := newTable(w, []string{"Run ID", "Accepted", "Revision", "Reason"})
	table.Append([]string{
		result.RunID,
		strconv.FormatBool(result.Accepted),
		strconv.Itoa(result.Revision),
		string(result.Reason),
	})
	table.Render()

	_, _ = fmt.Fprintf(w, "\n%s\n", result.SQL)

	if len(result.FeedbackHistory) > 0 {
		_, _ = fmt.Fprintln(w)
		feedback := newTable(w, []string{"#", "Feedback"})
		for i, entry := range result.FeedbackHistory {
			feedback.Append([]string{strconv.Itoa(i + 1), entry})
		}
		feedback.Render()
	}
	return nil
}

func renderRuns(w io.Writer, runs []workflow.RunSummary) {
	table := newTable(w, []string{"Run ID", "Stage", "Revision", "Accepted", "Done", "Checkpoints", "Updated"})
	for _, run := range runs {
		table.Append([]string{
			run.RunID,
			string(run.Stage),
			strconv.Itoa(run.Revision),
			strconv.FormatBool(run.Accepted),
			strconv.FormatBool(run.Done),
			strconv.Itoa(run.Checkpoints),
			run.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	table.Render()
}

func renderCheckpoints(w io.Writer, log []workflow.Checkpoint) {
	table := newTable(w, []string{"Seq", "Stage", "Revision", "Accepted", "Recorded"})
	for _, cp := range log {
		table.Append([]string{
			strconv.Itoa(cp.Sequence),
			string(cp.Stage),
			strconv.Itoa(cp.State.Revision),
			strconv.FormatBool(cp.State.Accepted),
			cp.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	table.Render()
}

func renderTables(w io.Writer, tables []introspect.Table) {
	table := newTable(w, []string{"Table", "Type"})
	for _, t := range tables {
		table.Append([]string{t.Name, t.Type})
	}
	table.Render()
}

func renderColumns(w io.Writer, columns []introspect.Column) {
	table := newTable(w, []string{"Column", "Type", "Nullable", "Default", "PK", "FK", "References"})
	for _, c := range columns {
		def := ""
		if c.Default != nil {
			def = *c.Default
		}
		table.Append([]string{
			c.Name,
			c.Type,
			strconv.FormatBool(c.Nullable),
			def,
			flag(c.IsPrimaryKey),
			flag(c.IsForeignKey),
			c.References,
		})
	}
	table.Render()
}

// renderRows prints query results with columns in name order; row maps carry no
// column order of their own.
func renderRows(w io.Writer, rows []map[string]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	header := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		header = append(header, name)
	}
	sort.Strings(header)

	table := newTable(w, header)
	for _, row := range rows {
		values := make([]string, len(header))
		for i, name := range header {
			if v := row[name]; v != nil {
				values[i] = fmt.Sprint(v)
			} else {
				values[i] = "NULL"
			}
		}
		table.Append(values)
	}
	table.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func flag(v bool) string {
	if v {
		return "yes"
	}
	return ""
}
