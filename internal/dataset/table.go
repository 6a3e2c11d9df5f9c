// Package dataset is a small in-process table engine used by the pipeline in
// place of a distributed dataframe engine.
//
// A Table is an immutable, unordered collection of positional rows with a
// named, typed column list. Operations return new tables and never mutate
// their input. Join and Distinct are set-based: their results depend only on
// row contents, although the implementation keeps first-seen order so that
// repeated runs over the same input produce the same output.
package dataset

import (
	"errors"
	"fmt"

	"staretl/internal/schema"
)

var (
	// ErrUnknownColumn is returned when an operation references a column the
	// table does not have.
	ErrUnknownColumn = errors.New("dataset: unknown column")

	// ErrAmbiguousColumn is returned when an operation would produce two
	// columns with the same name.
	ErrAmbiguousColumn = errors.New("dataset: ambiguous column")
)

// Column is a named, typed column.
type Column struct {
	Name string
	Type schema.Type
}

// Columns converts catalog fields into table columns.
func Columns(fields []schema.Field) []Column {
	out := make([]Column, len(fields))
	for i, f := range fields {
		out[i] = Column{Name: f.Name, Type: f.Type}
	}
	return out
}

// Table is an immutable row set.
type Table struct {
	cols  []Column
	index map[string]int
	rows  [][]any
}

// New builds a table. Every row must have exactly len(cols) values; rows are
// retained, not copied, and must not be modified afterwards.
func New(cols []Column, rows [][]any) (*Table, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrAmbiguousColumn, c.Name)
		}
		index[c.Name] = i
	}
	for i, r := range rows {
		if len(r) != len(cols) {
			return nil, fmt.Errorf("dataset: row %d has %d values, want %d", i, len(r), len(cols))
		}
	}
	cp := make([]Column, len(cols))
	copy(cp, cols)
	return &Table{cols: cp, index: index, rows: rows}, nil
}

// Empty returns a table with the given columns and no rows.
func Empty(cols []Column) (*Table, error) { return New(cols, nil) }

// Columns returns a copy of the column list.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows exposes the underlying rows. Callers must treat them as read-only.
func (t *Table) Rows() [][]any { return t.rows }

// Index returns the position of column name.
func (t *Table) Index(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return i, nil
}

// Column returns the column definition for name.
func (t *Table) Column(name string) (Column, error) {
	i, err := t.Index(name)
	if err != nil {
		return Column{}, err
	}
	return t.cols[i], nil
}

// Row returns a read-only view of row i.
func (t *Table) Row(i int) Row { return Row{t: t, v: t.rows[i]} }

// Row is a read-only view of one table row.
type Row struct {
	t *Table
	v []any
}

// Get returns the value of column name, or nil when the column is unknown or
// the value is null.
func (r Row) Get(name string) any {
	i, ok := r.t.index[name]
	if !ok {
		return nil
	}
	return r.v[i]
}

// Values returns the positional values. Callers must not modify them.
func (r Row) Values() []any { return r.v }

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := make([][]any, 0, len(t.rows))
	for _, v := range t.rows {
		if keep(Row{t: t, v: v}) {
			out = append(out, v)
		}
	}
	return &Table{cols: t.cols, index: t.index, rows: out}
}

// Selection names a source column and an optional output alias.
type Selection struct {
	Source string
	As     string
}

// Col selects a column under its own name.
func Col(name string) Selection { return Selection{Source: name} }

// ColAs selects a column and renames it.
func ColAs(name, alias string) Selection { return Selection{Source: name, As: alias} }

// Select projects and renames columns in the given order.
func (t *Table) Select(sel ...Selection) (*Table, error) {
	pos := make([]int, len(sel))
	cols := make([]Column, len(sel))
	for i, s := range sel {
		p, err := t.Index(s.Source)
		if err != nil {
			return nil, err
		}
		pos[i] = p
		name := s.As
		if name == "" {
			name = s.Source
		}
		cols[i] = Column{Name: name, Type: t.cols[p].Type}
	}

	rows := make([][]any, len(t.rows))
	for i, v := range t.rows {
		out := make([]any, len(pos))
		for j, p := range pos {
			out[j] = v[p]
		}
		rows[i] = out
	}
	return New(cols, rows)
}

// WithColumn evaluates fn for every row and appends the result as column
// name. An existing column with the same name is replaced in place.
func (t *Table) WithColumn(name string, typ schema.Type, fn func(Row) any) (*Table, error) {
	cols := t.Columns()
	at, exists := t.index[name]
	if exists {
		cols[at] = Column{Name: name, Type: typ}
	} else {
		at = len(cols)
		cols = append(cols, Column{Name: name, Type: typ})
	}

	rows := make([][]any, len(t.rows))
	for i, v := range t.rows {
		out := make([]any, len(cols))
		copy(out, v)
		out[at] = fn(Row{t: t, v: v})
		rows[i] = out
	}
	return New(cols, rows)
}
