package db

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/nickyhof/CommitQuery/core"
)

const (
	// MaterializedViewsProperty maps each referenced view to its last refresh
	// time in epoch milliseconds, -1 when it was never computed.
	MaterializedViewsProperty = "materializedViews"
	// ExecutionTimeProperty is the total wall-clock time in milliseconds.
	ExecutionTimeProperty = "executionTime"
)

// QueryResult is either a set of rows or a failure.
type QueryResult struct {
	Columns    []core.Column    `json:"columns,omitempty"`
	Rows       [][]any          `json:"rows,omitempty"`
	Properties map[string]any   `json:"properties,omitempty"`
	Error      *core.QueryError `json:"error,omitempty"`
}

func SuccessResult(columns []core.Column, rows [][]any) *QueryResult {
	return &QueryResult{Columns: columns, Rows: rows}
}

func ErrorResult(err *core.QueryError) *QueryResult {
	return &QueryResult{Error: err}
}

func (result *QueryResult) IsFailed() bool {
	return result.Error != nil
}

// WithProperties returns a copy of the result with properties added. The
// receiver is not modified.
func (result *QueryResult) WithProperties(properties map[string]any) *QueryResult {
	copied := *result
	copied.Properties = make(map[string]any, len(result.Properties)+len(properties))
	maps.Copy(copied.Properties, result.Properties)
	maps.Copy(copied.Properties, properties)
	return &copied
}

// formatDuration formats a duration in human-readable form
func formatDuration(duration time.Duration) string {
	secs := duration.Seconds()
	switch {
	case secs < 0.001:
		return "<1ms"
	case secs < 1:
		return fmt.Sprintf("%dms", duration.Milliseconds())
	case secs < 10:
		return fmt.Sprintf("%.1fs", secs)
	case secs < 60:
		return fmt.Sprintf("%ds", int(secs))
	default:
		mins := int(secs / 60)
		remainSecs := int(secs) % 60
		if remainSecs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm%ds", mins, remainSecs)
	}
}

func (result *QueryResult) Display() {
	result.Fprint(os.Stdout)
}

// Fprint writes the rows as a table followed by a one-line summary.
func (result *QueryResult) Fprint(w io.Writer) {
	if result.IsFailed() {
		fmt.Fprintf(w, "Error: %s\n", result.Error)
		return
	}

	if len(result.Columns) > 0 {
		data := NewTable(w)
		headers := make([]string, len(result.Columns))
		for i, column := range result.Columns {
			headers[i] = column.Name
		}
		data.Header(headers)
		rows := make([][]string, len(result.Rows))
		for i, row := range result.Rows {
			rows[i] = make([]string, len(row))
			for j, value := range row {
				rows[i][j] = formatValue(value)
			}
		}
		data.Bulk(rows)
		data.Render()
	}

	var elapsed string
	if millis, ok := result.Properties[ExecutionTimeProperty].(int64); ok {
		elapsed = " (" + formatDuration(time.Duration(millis)*time.Millisecond) + ")"
	}
	fmt.Fprintf(w, "%d rows%s\n", len(result.Rows), elapsed)

	if views, ok := result.Properties[MaterializedViewsProperty].(map[string]int64); ok && len(views) > 0 {
		for _, name := range slices.Sorted(maps.Keys(views)) {
			lastUpdate := views[name]
			if lastUpdate < 0 {
				fmt.Fprintf(w, "materialized.%s: never refreshed\n", name)
				continue
			}
			fmt.Fprintf(w, "materialized.%s: refreshed %s\n", name, time.UnixMilli(lastUpdate).UTC().Format(time.RFC3339))
		}
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("%x", v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
