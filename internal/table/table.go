// Package table holds the observation table: an ordered sequence of
// time-indexed rows with a fixed set of named numeric channels. Row order is
// temporal order and no operation in this package reorders rows.
package table

import (
	"fmt"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/pkg/math/vector"
)

type Table struct {
	columns []string
	index   map[string]int
	rows    [][]float64
	// unparsed maps a column index to the first cell that did not parse as a
	// number. Such columns load as NaN and fail when selected.
	unparsed map[int]error
}

// New builds a table from column names and rows. Every row must carry exactly
// one value per column and column names must be unique.
func New(columns []string, rows [][]float64) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := index[c]; ok {
			return nil, calerr.Configf("duplicate column %q", c)
		}
		index[c] = i
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, calerr.Configf("row %d has %d values, expected %d", i, len(row), len(columns))
		}
	}
	return &Table{columns: append([]string(nil), columns...), index: index, rows: rows}, nil
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Unparsed lists the columns holding at least one non-numeric or empty cell.
func (t *Table) Unparsed() []string {
	var out []string
	for j, c := range t.columns {
		if _, ok := t.unparsed[j]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) lookup(name string) (int, error) {
	j, ok := t.index[name]
	if !ok {
		return 0, calerr.Configf("unknown column %q", name)
	}
	if err, ok := t.unparsed[j]; ok {
		return 0, err
	}
	return j, nil
}

// Column returns a copy of the named channel.
func (t *Table) Column(name string) (vector.V, error) {
	j, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	return vector.Column(t.rows, j), nil
}

// Rows returns a copy of the named channels, one slice per row, in the order
// the names are given. With no names every column is returned.
func (t *Table) Rows(names ...string) ([][]float64, error) {
	if len(names) == 0 {
		names = t.columns
	}
	idx := make([]int, len(names))
	for k, name := range names {
		j, err := t.lookup(name)
		if err != nil {
			return nil, err
		}
		idx[k] = j
	}
	out := make([][]float64, len(t.rows))
	for i, row := range t.rows {
		r := make([]float64, len(idx))
		for k, j := range idx {
			r[k] = row[j]
		}
		out[i] = r
	}
	return out, nil
}

// Select returns a new table restricted to the named channels.
func (t *Table) Select(names ...string) (*Table, error) {
	rows, err := t.Rows(names...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return New(names, rows)
}

// Rename returns a new table with columns renamed through mapping. Columns
// absent from mapping keep their name.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	for from := range mapping {
		if !t.Has(from) {
			return nil, calerr.Configf("rename: unknown column %q", from)
		}
	}
	columns := make([]string, len(t.columns))
	for i, c := range t.columns {
		if to, ok := mapping[c]; ok {
			columns[i] = to
		} else {
			columns[i] = c
		}
	}
	return t.derive(columns, t.rows)
}

// Take returns the rows at the given indices in the given order.
func (t *Table) Take(indices []int) (*Table, error) {
	rows := make([][]float64, len(indices))
	for k, i := range indices {
		if i < 0 || i >= len(t.rows) {
			return nil, calerr.Configf("row index %d out of range [0, %d)", i, len(t.rows))
		}
		rows[k] = append([]float64(nil), t.rows[i]...)
	}
	return t.derive(t.columns, rows)
}

// derive builds a table with the same column layout as t.
func (t *Table) derive(columns []string, rows [][]float64) (*Table, error) {
	out, err := New(columns, rows)
	if err != nil {
		return nil, err
	}
	out.unparsed = t.unparsed
	return out, nil
}

// FromColumns assembles a table from equally long named channels.
func FromColumns(names []string, channels ...vector.V) (*Table, error) {
	if len(names) != len(channels) {
		return nil, calerr.Configf("%d names for %d channels", len(names), len(channels))
	}
	if len(channels) == 0 {
		return New(names, nil)
	}
	n := len(channels[0])
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, len(channels))
	}
	for j, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("column %q: %w", names[j], calerr.ErrShapeMismatch)
		}
		for i, v := range ch {
			rows[i][j] = v
		}
	}
	return New(names, rows)
}
