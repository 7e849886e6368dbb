package db

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SimpleTable renders rows as an ASCII grid. Columns whose cells are all
// numeric are right-aligned.
type SimpleTable struct {
	writer  io.Writer
	headers []string
	rows    [][]string
}

func NewTable(w io.Writer) *SimpleTable {
	return &SimpleTable{writer: w}
}

func (t *SimpleTable) Header(headers []string) {
	t.headers = headers
}

func (t *SimpleTable) Row(row []string) {
	t.rows = append(t.rows, row)
}

func (t *SimpleTable) Bulk(rows [][]string) {
	t.rows = append(t.rows, rows...)
}

func (t *SimpleTable) Render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}

	widths, numeric := t.layout()
	separator := buildSeparator(widths)

	fmt.Fprintln(t.writer, separator)
	if len(t.headers) > 0 {
		fmt.Fprintln(t.writer, formatRow(t.headers, widths, nil))
		fmt.Fprintln(t.writer, strings.ReplaceAll(separator, "-", "="))
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.writer, formatRow(row, widths, numeric))
	}
	fmt.Fprintln(t.writer, separator)
}

func (t *SimpleTable) layout() (widths []int, numeric []bool) {
	columns := len(t.headers)
	for _, row := range t.rows {
		columns = max(columns, len(row))
	}

	widths = make([]int, columns)
	numeric = make([]bool, columns)
	for i := range numeric {
		numeric[i] = len(t.rows) > 0
	}

	for i, header := range t.headers {
		widths[i] = max(widths[i], utf8.RuneCountInString(header))
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
			if _, err := strconv.ParseFloat(cell, 64); err != nil && cell != "NULL" {
				numeric[i] = false
			}
		}
	}
	for i := range widths {
		widths[i] = max(widths[i], 1)
	}
	return widths, numeric
}

func buildSeparator(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

func formatRow(row []string, widths []int, numeric []bool) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		padding := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if numeric != nil && numeric[i] {
			parts[i] = " " + padding + cell + " "
		} else {
			parts[i] = " " + cell + padding + " "
		}
	}
	return "|" + strings.Join(parts, "|") + "|"
}
