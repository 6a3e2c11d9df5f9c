// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"staretl/internal/datasource"
)

// Local is a filesystem data source rooted at a directory. It is safe for
// concurrent use.
type Local struct {
	root string
	fsys fs.FS
}

var _ datasource.Source = (*Local)(nil)

// NewLocal returns a Local source rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root, fsys: os.DirFS(root)}
}

// Root returns the directory the source is rooted at.
func (l *Local) Root() string { return l.root }

// Glob returns the regular files under the root matching pattern, sorted.
// A missing root yields no matches.
func (l *Local) Glob(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", datasource.ErrBadPattern, pattern)
	}
	if _, err := os.Stat(l.root); os.IsNotExist(err) {
		return nil, nil
	}
	names, err := doublestar.Glob(l.fsys, path.Clean(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s in %s: %w", pattern, l.root, err)
	}
	sort.Strings(names)
	return names, nil
}

// Open opens name, relative to the root, for reading.
//
// If ctx is already done, Open returns the context error without touching the
// filesystem. Filesystem errors are wrapped with the name and still satisfy
// errors.Is checks such as fs.ErrNotExist.
func (l *Local) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := l.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Close is a no-op for local sources.
func (l *Local) Close() error { return nil }
