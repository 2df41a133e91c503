package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Table is the single joined training table: one row per county, raw cells as text
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`

	index map[string]int
}

// NewTable builds a table and indexes its headers. Duplicate headers are rejected.
func NewTable(headers []string, rows [][]string) (*Table, error) {
	t := &Table{Headers: make([]string, len(headers)), Rows: rows, index: make(map[string]int, len(headers))}
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if _, dup := t.index[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		t.Headers[i] = h
		t.index[h] = i
	}
	return t, nil
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether the table carries a column
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns a copy of a column's cells; short rows yield empty cells
func (t *Table) Column(name string) ([]string, error) {
	idx, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = strings.TrimSpace(row[idx])
		}
	}
	return out, nil
}

// Subset returns a table view holding only the given row indices
func (t *Table) Subset(rows []int) *Table {
	sub := &Table{Headers: t.Headers, Rows: make([][]string, 0, len(rows)), index: t.index}
	for _, r := range rows {
		sub.Rows = append(sub.Rows, t.Rows[r])
	}
	return sub
}

// ParseNumber parses a cell as a float. Empty cells and common NA markers are missing.
func ParseNumber(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "na", "n/a", "nan", "null", "none":
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Discrete is the training table after every column has been encoded to state indices
type Discrete struct {
	Columns      []string
	Cardinality  map[string]int
	States       [][]int // States[row][col]
	columnOffset map[string]int
}

// NewDiscrete creates an empty discrete table with the given columns and cardinalities
func NewDiscrete(columns []string, cardinality map[string]int) *Discrete {
	d := &Discrete{
		Columns:      columns,
		Cardinality:  cardinality,
		columnOffset: make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		d.columnOffset[c] = i
	}
	return d
}

// Append adds a row of state indices in column order
func (d *Discrete) Append(states []int) error {
	if len(states) != len(d.Columns) {
		return fmt.Errorf("row has %d states, table has %d columns", len(states), len(d.Columns))
	}
	for i, s := range states {
		if s < 0 || s >= d.Cardinality[d.Columns[i]] {
			return fmt.Errorf("state %d out of range for column %s", s, d.Columns[i])
		}
	}
	d.States = append(d.States, states)
	return nil
}

// Offset returns the position of a column
func (d *Discrete) Offset(column string) (int, bool) {
	i, ok := d.columnOffset[column]
	return i, ok
}

// Len returns the number of rows
func (d *Discrete) Len() int {
	return len(d.States)
}
