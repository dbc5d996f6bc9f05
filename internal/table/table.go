// Package table provides an in-memory tabular dataset with named-column
// access and load/save codecs for CSV/TSV, XLSX, and SQLite containers.
// Row order carries no meaning; all cells are strings and pass through
// unmodified. An empty cell is the unmatched marker throughout the
// pipeline (stored as NULL in database containers).
package table

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ConfigError marks a fatal input-configuration problem (missing column,
// unreadable layout). Raised during pre-flight validation, before any
// extraction work starts.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps an error as a configuration error.
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// IsConfigError returns true if the error chain contains a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Table is a named-column string table.
type Table struct {
	Cols []string
	Rows [][]string

	idx map[string]int
}

// New creates an empty table with the given columns.
func New(cols ...string) *Table {
	return &Table{Cols: cols}
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row []string) {
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColIndex returns the index of a column by name.
func (t *Table) ColIndex(name string) (int, bool) {
	if t.idx == nil {
		t.idx = make(map[string]int, len(t.Cols))
		for i, c := range t.Cols {
			t.idx[c] = i
		}
	}
	i, ok := t.idx[name]
	return i, ok
}

// Cell returns the value at (row, col index), or "" when the row is
// shorter than the header.
func (t *Table) Cell(row, col int) string {
	if col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Column returns all values of the named column.
func (t *Table) Column(name string) ([]string, error) {
	i, ok := t.ColIndex(name)
	if !ok {
		return nil, NewConfigError(eris.Errorf("table: column %q not found", name))
	}
	vals := make([]string, len(t.Rows))
	for r := range t.Rows {
		vals[r] = t.Cell(r, i)
	}
	return vals, nil
}

// Require fails with a ConfigError unless every named column exists.
// Checked once at load time so later access by index cannot miss.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.ColIndex(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return NewConfigError(eris.Errorf("table: required column(s) %v not found (available: %v)", missing, t.Cols))
	}
	return nil
}

// AppendColumns widens the table with new columns. Values must hold one
// slice per new column, each with one cell per existing row.
func (t *Table) AppendColumns(cols []string, values [][]string) error {
	for i, c := range values {
		if len(c) != len(t.Rows) {
			return eris.Errorf("table: column %q has %d values for %d rows", cols[i], len(c), len(t.Rows))
		}
	}
	t.Cols = append(t.Cols, cols...)
	t.idx = nil
	for r := range t.Rows {
		for _, c := range values {
			t.Rows[r] = append(t.Rows[r], c[r])
		}
	}
	return nil
}
