// Package postgres writes tables into PostgreSQL using pgx v5.
//
// Each table is replaced inside one transaction: DROP TABLE IF EXISTS,
// CREATE TABLE, COPY of all rows in batches, then an index over the
// partition columns. Concurrent readers see either the old or the new table.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"staretl/internal/dataset"
	"staretl/internal/schema"
	"staretl/internal/storage"
)

// newPool is a test hook.
var newPool = func(ctx context.Context, dsn string) (beginner, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("postgres: DSN must not be empty")
		}
		db, closeFn, err := newPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		return &Writer{db: db, closeFn: closeFn, prefix: cfg.Root, batchSize: cfg.BatchSize, log: cfg.Logger}, nil
	})
}

// beginner is satisfied by *pgxpool.Pool.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Writer is a PostgreSQL storage.Writer.
type Writer struct {
	db        beginner
	closeFn   func()
	prefix    string
	batchSize int
	log       *zap.Logger
}

// WriteTable implements storage.Writer.
func (w *Writer) WriteTable(ctx context.Context, dest string, tbl *dataset.Table, partitionBy []string) (storage.WriteStats, error) {
	if err := storage.CheckDest(dest); err != nil {
		return storage.WriteStats{}, err
	}
	segments, err := storage.CountSegments(tbl, partitionBy)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("postgres: %s: %w", dest, err)
	}
	name := storage.SQLTableName(w.prefix, dest)

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("postgres: begin: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	stmts := []string{
		"DROP TABLE IF EXISTS " + pgIdent(name),
		createTableSQL(name, tbl.Columns()),
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return storage.WriteStats{}, fmt.Errorf("postgres: %s: %w", firstWords(s), err)
		}
	}

	n, err := storage.CopyRows(ctx, w.log, tbl.Names(), tbl.Rows(), w.batchSize,
		func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			return tx.CopyFrom(ctx, pgx.Identifier{name}, columns, pgx.CopyFromRows(rows))
		})
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("postgres: copy %s: %w", name, err)
	}

	if len(partitionBy) > 0 {
		if _, err := tx.Exec(ctx, createIndexSQL(name, partitionBy)); err != nil {
			return storage.WriteStats{}, fmt.Errorf("postgres: create index: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.WriteStats{}, fmt.Errorf("postgres: commit: %w", err)
	}

	if w.log != nil {
		w.log.Info("writer: table replaced", zap.String("table", name), zap.Int64("rows", n), zap.Int("segments", segments))
	}
	return storage.WriteStats{Rows: n, Segments: segments}, nil
}

// Close implements storage.Writer.
func (w *Writer) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

// mapType maps a column type to a PostgreSQL type.
func mapType(t schema.Type) string {
	switch t {
	case schema.Double:
		return "DOUBLE PRECISION"
	case schema.Float:
		return "REAL"
	case schema.Int32:
		return "INTEGER"
	case schema.Int64:
		return "BIGINT"
	case schema.Timestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// createTableSQL renders a deterministic CREATE TABLE statement. Every column
// is nullable.
func createTableSQL(name string, cols []dataset.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgIdent(c.Name) + " " + mapType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", pgIdent(name), strings.Join(defs, ",\n  "))
}

func createIndexSQL(name string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgIdent(c)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", pgIdent(name+"_partition_idx"), pgIdent(name), strings.Join(quoted, ", "))
}

// pgIdent quotes a single identifier, e.g. weird"name => "weird""name".
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func firstWords(s string) string {
	f := strings.Fields(s)
	if len(f) > 2 {
		f = f[:2]
	}
	return strings.ToLower(strings.Join(f, " "))
}
