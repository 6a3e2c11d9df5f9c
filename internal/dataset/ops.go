package dataset

import "fmt"

// Distinct removes rows that are equal in every column. The first occurrence
// of each distinct row is kept, in input order.
func (t *Table) Distinct() *Table {
	var (
		buf  []byte
		h    uint64
		out  = make([][]any, 0, len(t.rows))
		seen = make(map[uint64][]int, len(t.rows))
	)
	for _, v := range t.rows {
		h, buf = hashValues(buf, v...)

		dup := false
		for _, j := range seen[h] {
			if rowsEqual(out[j], v) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(seen[h], len(out))
		out = append(out, v)
	}
	return &Table{cols: t.cols, index: t.index, rows: out}
}

// On pairs a left column with a right column for an equality join.
type On struct {
	Left  string
	Right string
}

// Join performs an inner equality join of t (left) with right on all of the
// given column pairs. A row whose key contains a null never matches. Values
// compare exactly; floats are not rounded.
//
// The result has the left columns followed by the right columns; a name
// present on both sides is an ErrAmbiguousColumn.
func (t *Table) Join(right *Table, on ...On) (*Table, error) {
	if len(on) == 0 {
		return nil, fmt.Errorf("dataset: join requires at least one key")
	}

	cols := append(t.Columns(), right.Columns()...)
	if _, err := New(cols, nil); err != nil {
		return nil, err
	}

	lpos := make([]int, len(on))
	rpos := make([]int, len(on))
	for i, o := range on {
		l, err := t.Index(o.Left)
		if err != nil {
			return nil, fmt.Errorf("join left: %w", err)
		}
		r, err := right.Index(o.Right)
		if err != nil {
			return nil, fmt.Errorf("join right: %w", err)
		}
		lpos[i], rpos[i] = l, r
	}

	var (
		buf []byte
		h   uint64
		key = make([]any, len(on))
	)

	// Build side: right rows bucketed by key hash.
	build := make(map[uint64][]int, len(right.rows))
	for i, v := range right.rows {
		if !project(key, v, rpos) {
			continue
		}
		h, buf = hashValues(buf, key...)
		build[h] = append(build[h], i)
	}

	// Probe side: left rows in order, matches in right order.
	var out [][]any
	for _, lv := range t.rows {
		if !project(key, lv, lpos) {
			continue
		}
		h, buf = hashValues(buf, key...)
		for _, ri := range build[h] {
			rv := right.rows[ri]
			if !keysMatch(lv, lpos, rv, rpos) {
				continue
			}
			row := make([]any, 0, len(cols))
			row = append(row, lv...)
			row = append(row, rv...)
			out = append(out, row)
		}
	}
	return New(cols, out)
}

// project copies the key columns of v into dst and reports whether all of
// them are non-null.
func project(dst []any, v []any, pos []int) bool {
	for i, p := range pos {
		if v[p] == nil {
			return false
		}
		dst[i] = v[p]
	}
	return true
}

func keysMatch(l []any, lpos []int, r []any, rpos []int) bool {
	for i := range lpos {
		if !valuesEqual(l[lpos[i]], r[rpos[i]]) {
			return false
		}
	}
	return true
}
