// Package storage writes star-schema tables to a destination backend.
//
// Backends register a Factory keyed by output kind from their init functions;
// importing staretl/internal/storage/all enables every built-in backend. The
// rest of the pipeline depends only on the Writer interface.
//
// Every WriteTable call fully replaces the destination: no rows written by an
// earlier run survive it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"staretl/internal/cloud"
	"staretl/internal/dataset"
)

// ErrUnsupportedKind is returned by New when no backend is registered for the
// requested kind.
var ErrUnsupportedKind = errors.New("unsupported output kind")

// DefaultBatchSize bounds rows per part file and per bulk-insert batch.
const DefaultBatchSize = 5000

// Config carries everything a backend needs to open a Writer.
type Config struct {
	Kind string
	// Root is a directory, a key prefix or a table-name prefix depending on
	// the backend.
	Root     string
	Compress bool

	DSN      string
	Bucket   string
	Region   string
	Endpoint string
	UseSSL   bool

	Credentials cloud.Credentials

	BatchSize int
	Workers   int
	// RunID names temporary artifacts of this run.
	RunID  string
	Logger *zap.Logger
}

// WriteStats summarizes one WriteTable call.
type WriteStats struct {
	Rows     int64
	Segments int
	Files    int
	Bytes    int64
}

// Writer persists whole tables.
type Writer interface {
	// WriteTable replaces dest with the rows of tbl, segmented by the
	// partitionBy columns in the given nesting order.
	WriteTable(ctx context.Context, dest string, tbl *dataset.Table, partitionBy []string) (WriteStats, error)
	Close() error
}

// Factory opens a Writer for cfg.
type Factory func(ctx context.Context, cfg Config) (Writer, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the Writer registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Writer, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg.withDefaults())
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// CheckDest rejects destination names that would escape the output root.
func CheckDest(dest string) error {
	if dest == "" || dest == "." || path.IsAbs(dest) || strings.Contains(dest, "\\") || path.Clean(dest) != dest || strings.HasPrefix(dest, "..") {
		return fmt.Errorf("invalid destination %q", dest)
	}
	return nil
}
