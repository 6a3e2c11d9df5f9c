// Package sqlite writes tables into a SQLite database using database/sql and
// the pure-Go modernc.org/sqlite driver.
//
// SQLite has no bulk-load API; rows are inserted in batches through a
// prepared INSERT inside the transaction that also drops and recreates the
// table, so a failed write leaves the previous table in place.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"staretl/internal/dataset"
	"staretl/internal/schema"
	"staretl/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
		return Open(ctx, cfg)
	})
}

// Writer is a SQLite storage.Writer.
type Writer struct {
	db        *sql.DB
	prefix    string
	batchSize int
	log       *zap.Logger
}

// Open connects to cfg.DSN, e.g. "star.db" or "file:star.db?_pragma=busy_timeout(5000)".
func Open(ctx context.Context, cfg storage.Config) (*Writer, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{db: db, prefix: cfg.Root, batchSize: max(cfg.BatchSize, 1), log: log}, nil
}

// DB exposes the underlying handle.
func (w *Writer) DB() *sql.DB { return w.db }

// WriteTable implements storage.Writer.
func (w *Writer) WriteTable(ctx context.Context, dest string, tbl *dataset.Table, partitionBy []string) (storage.WriteStats, error) {
	if err := storage.CheckDest(dest); err != nil {
		return storage.WriteStats{}, err
	}
	segments, err := storage.CountSegments(tbl, partitionBy)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("sqlite: %s: %w", dest, err)
	}
	name := storage.SQLTableName(w.prefix, dest)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range []string{"DROP TABLE IF EXISTS " + quoteIdent(name), createTableSQL(name, tbl.Columns())} {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return storage.WriteStats{}, fmt.Errorf("sqlite: exec: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(name, tbl.Names()))
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	n, err := storage.CopyRows(ctx, w.log, tbl.Names(), tbl.Rows(), w.batchSize,
		func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			var inserted int64
			for _, row := range rows {
				if len(row) != len(columns) {
					return inserted, fmt.Errorf("row length %d != columns length %d", len(row), len(columns))
				}
				if _, err := stmt.ExecContext(ctx, bindValues(row)...); err != nil {
					return inserted, err
				}
				inserted++
			}
			return inserted, nil
		})
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("sqlite: insert %s: %w", name, err)
	}

	if len(partitionBy) > 0 {
		if _, err := tx.ExecContext(ctx, createIndexSQL(name, partitionBy)); err != nil {
			return storage.WriteStats{}, fmt.Errorf("sqlite: create index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.WriteStats{}, fmt.Errorf("sqlite: commit: %w", err)
	}

	w.log.Info("writer: table replaced", zap.String("table", name), zap.Int64("rows", n), zap.Int("segments", segments))
	return storage.WriteStats{Rows: n, Segments: segments}, nil
}

// Close implements storage.Writer.
func (w *Writer) Close() error { return w.db.Close() }

// mapType maps a column type to a SQLite declared type. Timestamps are stored
// as RFC 3339 text.
func mapType(t schema.Type) string {
	switch t {
	case schema.Double, schema.Float:
		return "REAL"
	case schema.Int32, schema.Int64:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// bindValues converts values the driver would store in a non-portable form.
func bindValues(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if ts, ok := v.(time.Time); ok {
			out[i] = ts.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[i] = v
	}
	return out
}

func createTableSQL(name string, cols []dataset.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.Name) + " " + mapType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

func insertSQL(name string, cols []string) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

func createIndexSQL(name string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", quoteIdent(name+"_partition_idx"), quoteIdent(name), strings.Join(quoted, ", "))
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
