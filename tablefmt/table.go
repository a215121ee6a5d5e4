// Package tablefmt renders aligned text tables for status output. Cell
// widths account for ANSI color sequences so colorized values line up.
package tablefmt

import (
	"fmt"
	"io"
	"strings"
)

// FormatFunc colorizes or rewrites a cell value after width measurement
type FormatFunc func(value string) string

// ColumnSpec defines one column
type ColumnSpec struct {
	Header     string
	BlankValue string // shown for empty cells, default "-"
	FormatFunc FormatFunc
	MinWidth   int
}

// Table accumulates rows and renders them aligned under their headers
type Table struct {
	columns []ColumnSpec
	rows    [][]string
	widths  []int
}

// NewTable creates a table with the given columns
func NewTable(cols ...ColumnSpec) *Table {
	t := &Table{
		columns: cols,
		widths:  make([]int, len(cols)),
	}
	for i, col := range cols {
		t.widths[i] = len(col.Header)
		if col.MinWidth > t.widths[i] {
			t.widths[i] = col.MinWidth
		}
		if t.columns[i].BlankValue == "" {
			t.columns[i].BlankValue = "-"
		}
	}
	return t
}

// AddRow appends one row. Missing or empty cells render the column's
// blank value.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(cells) && cells[i] != "" {
			row[i] = cells[i]
		} else {
			row[i] = t.columns[i].BlankValue
		}
		if w := visibleLength(row[i]); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

// Render writes the headers, a separator and every row to w
func (t *Table) Render(w io.Writer) error {
	headers := make([]string, len(t.columns))
	sep := make([]string, len(t.columns))
	for i, col := range t.columns {
		headers[i] = t.pad(col.Header, t.widths[i])
		sep[i] = strings.Repeat("-", t.widths[i])
	}
	if _, err := fmt.Fprintln(w, strings.Join(headers, "  ")); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Join(sep, "  ")); err != nil {
		return err
	}

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, val := range row {
			if f := t.columns[i].FormatFunc; f != nil {
				val = f(val)
			}
			cells[i] = t.pad(val, t.widths[i])
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "  ")); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) pad(s string, width int) string {
	if n := visibleLength(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// visibleLength counts printable runes, skipping ANSI escape sequences
func visibleLength(s string) int {
	length := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\033':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			length++
		}
	}
	return length
}

func Green(s string) string {
	return fmt.Sprintf("\033[32m%s\033[0m", s)
}

func Red(s string) string {
	return fmt.Sprintf("\033[31m%s\033[0m", s)
}

func Gray(s string) string {
	return fmt.Sprintf("\033[90m%s\033[0m", s)
}

// StateFormatter colors discovery states: ok green, anything else red
func StateFormatter(s string) string {
	if s == "ok" {
		return Green(s)
	}
	if s == "-" {
		return Gray(s)
	}
	return Red(s)
}
