package storage

import (
	"fmt"
	"strings"

	"staretl/internal/dataset"
)

// SQLTableName joins an optional prefix and a destination into one table
// identifier. Characters other than ASCII letters, digits and '_' become '_'.
func SQLTableName(prefix, dest string) string {
	name := dest
	if p := strings.Trim(prefix, "/ "); p != "" {
		name = p + "_" + dest
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

// CheckPartitionColumns verifies that tbl has every partition column.
func CheckPartitionColumns(tbl *dataset.Table, partitionBy []string) error {
	for _, name := range partitionBy {
		if _, err := tbl.Index(name); err != nil {
			return fmt.Errorf("partition column: %w", err)
		}
	}
	return nil
}

// CountSegments returns the number of distinct partition keys in tbl (1 for
// an unpartitioned table).
func CountSegments(tbl *dataset.Table, partitionBy []string) (int, error) {
	l, err := Plan(tbl, partitionBy)
	if err != nil {
		return 0, err
	}
	return len(l.Segments), nil
}
