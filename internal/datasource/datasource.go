// Package datasource defines where raw record files come from. A Source
// resolves glob patterns to file names and opens them by name; names are
// relative to the source root and use forward slashes.
package datasource

import (
	"context"
	"errors"
	"io"
)

// ErrBadPattern is returned by Glob for a syntactically invalid pattern.
var ErrBadPattern = errors.New("datasource: bad glob pattern")

// Source lists and opens raw input files.
type Source interface {
	// Glob returns the names matching pattern, sorted. No match is not an
	// error. Patterns support ** for any number of directories.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// Open opens the named file for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Close releases resources held by the source.
	Close() error
}
