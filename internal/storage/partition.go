package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"staretl/internal/dataset"
)

// DefaultPartition is the directory value used for a null (or empty string)
// partition value.
const DefaultPartition = "__HIVE_DEFAULT_PARTITION__"

// Segment is one partition of a table.
type Segment struct {
	// Key holds the partition values in partitionBy order.
	Key []any
	// Dir is the hive-style relative directory, e.g. "year=2018/month=11".
	// It is empty for an unpartitioned table.
	Dir string
	// Rows are the segment rows without the partition columns.
	Rows [][]any
}

// Layout is a table split into segments.
type Layout struct {
	// Columns are the data columns written inside each segment.
	Columns     []dataset.Column
	PartitionBy []dataset.Column
	Segments    []Segment
}

// Rows returns the total row count across segments.
func (l Layout) Rows() int64 {
	var n int64
	for _, s := range l.Segments {
		n += int64(len(s.Rows))
	}
	return n
}

// Plan splits tbl by the distinct values of the partitionBy columns. Segments
// are sorted by key; rows keep their table order within a segment. Without
// partition columns the whole table is one segment, even when it is empty.
func Plan(tbl *dataset.Table, partitionBy []string) (Layout, error) {
	all := tbl.Columns()
	pidx := make([]int, len(partitionBy))
	isPart := make(map[int]bool, len(partitionBy))
	for i, name := range partitionBy {
		j, err := tbl.Index(name)
		if err != nil {
			return Layout{}, fmt.Errorf("partition column: %w", err)
		}
		if isPart[j] {
			return Layout{}, fmt.Errorf("partition column %q listed twice", name)
		}
		pidx[i] = j
		isPart[j] = true
	}

	var l Layout
	keep := make([]int, 0, len(all))
	for j, c := range all {
		if isPart[j] {
			continue
		}
		keep = append(keep, j)
		l.Columns = append(l.Columns, c)
	}
	for _, j := range pidx {
		l.PartitionBy = append(l.PartitionBy, all[j])
	}

	if len(pidx) == 0 {
		l.Segments = []Segment{{Rows: tbl.Rows()}}
		return l, nil
	}

	byDir := map[string]int{}
	for _, v := range tbl.Rows() {
		key := make([]any, len(pidx))
		for i, j := range pidx {
			key[i] = v[j]
		}
		dir := partitionDir(l.PartitionBy, key)

		si, ok := byDir[dir]
		if !ok {
			si = len(l.Segments)
			byDir[dir] = si
			l.Segments = append(l.Segments, Segment{Key: key, Dir: dir})
		}
		row := make([]any, len(keep))
		for i, j := range keep {
			row[i] = v[j]
		}
		l.Segments[si].Rows = append(l.Segments[si].Rows, row)
	}

	sort.SliceStable(l.Segments, func(a, b int) bool {
		return compareKeys(l.Segments[a].Key, l.Segments[b].Key) < 0
	})
	return l, nil
}

func partitionDir(cols []dataset.Column, key []any) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = escapePathName(c.Name) + "=" + PartitionValue(key[i])
	}
	return strings.Join(parts, "/")
}

// PartitionValue renders v as an escaped path segment value.
func PartitionValue(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return DefaultPartition
	case string:
		s = t
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	case int:
		s = strconv.Itoa(t)
	case float64:
		s = strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'g', -1, 32)
	case bool:
		s = strconv.FormatBool(t)
	case time.Time:
		s = t.UTC().Format("2006-01-02 15:04:05.999999")
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return DefaultPartition
	}
	return escapePathName(s)
}

// escapePathName percent-encodes the characters hive treats as special in
// partition paths.
func escapePathName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte("\"#%'*/:=?\\{[]^", c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// compareKeys orders partition keys column by column. Nulls sort first.
func compareKeys(a, b []any) int {
	for i := range a {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := numeric(a); ok {
		if y, ok := numeric(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	return 0, false
}
