package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"staretl/internal/dataset"
	"staretl/internal/schema"
	"staretl/internal/storage"
)

/*
Package-level test helpers (TB-aware)
*/

func newWriter(tb testing.TB) *Writer {
	tb.Helper()
	w, err := Open(context.Background(), storage.Config{
		DSN:       filepath.Join(tb.TempDir(), "star.db"),
		BatchSize: 2,
		Logger:    zaptest.NewLogger(tb),
	})
	if err != nil {
		tb.Fatalf("Open: %v", err)
	}
	tb.Cleanup(func() { _ = w.Close() })
	return w
}

func mustTable(tb testing.TB, cols []dataset.Column, rows [][]any) *dataset.Table {
	tb.Helper()
	tbl, err := dataset.New(cols, rows)
	if err != nil {
		tb.Fatalf("dataset.New: %v", err)
	}
	return tbl
}

func countRows(tb testing.TB, w *Writer, table string) int {
	tb.Helper()
	var n int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		tb.Fatalf("count %s: %v", table, err)
	}
	return n
}

var userCols = []dataset.Column{
	{Name: "user_id", Type: schema.Text},
	{Name: "level", Type: schema.Text},
	{Name: "year", Type: schema.Int32},
}

/*
Unit tests
*/

// TestWriteTable_Overwrites verifies a second write fully replaces the first.
func TestWriteTable_Overwrites(t *testing.T) {
	t.Parallel()

	w := newWriter(t)
	ctx := context.Background()

	first := mustTable(t, userCols, [][]any{{"1", "free", int32(2018)}, {"2", "paid", int32(2018)}, {"3", nil, nil}})
	stats, err := w.WriteTable(ctx, "users", first, []string{"year"})
	if err != nil {
		t.Fatalf("WriteTable #1: %v", err)
	}
	if stats.Rows != 3 || stats.Segments != 2 {
		t.Fatalf("stats = %+v, want 3 rows, 2 segments", stats)
	}

	second := mustTable(t, userCols, [][]any{{"9", "paid", int32(2019)}})
	if _, err := w.WriteTable(ctx, "users", second, nil); err != nil {
		t.Fatalf("WriteTable #2: %v", err)
	}
	if got := countRows(t, w, "users"); got != 1 {
		t.Fatalf("rows after overwrite = %d, want 1", got)
	}

	var id, level string
	var year int
	if err := w.DB().QueryRow(`SELECT user_id, level, year FROM users`).Scan(&id, &level, &year); err != nil {
		t.Fatalf("select: %v", err)
	}
	if id != "9" || level != "paid" || year != 2019 {
		t.Fatalf("row = %s %s %d, want 9 paid 2019", id, level, year)
	}
}

// TestWriteTable_EmptyTableKeepsColumns checks that an empty table is still
// created with the full column list.
func TestWriteTable_EmptyTableKeepsColumns(t *testing.T) {
	t.Parallel()

	w := newWriter(t)
	tbl := mustTable(t, userCols, nil)
	if _, err := w.WriteTable(context.Background(), "users", tbl, []string{"year"}); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}

	rows, err := w.DB().Query(`SELECT * FROM users`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != 3 || cols[0] != "user_id" || cols[2] != "year" {
		t.Fatalf("columns = %v", cols)
	}
	if rows.Next() {
		t.Fatal("unexpected row in empty table")
	}
}

func TestWriteTable_TimestampsAndNulls(t *testing.T) {
	t.Parallel()

	w := newWriter(t)
	ts := time.Date(2018, 11, 15, 0, 30, 26, 796000000, time.UTC)
	tbl := mustTable(t,
		[]dataset.Column{{Name: "start_time", Type: schema.Timestamp}, {Name: "length", Type: schema.Double}},
		[][]any{{ts, 217.5}, {nil, nil}},
	)
	if _, err := w.WriteTable(context.Background(), "time", tbl, nil); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}

	var got string
	if err := w.DB().QueryRow(`SELECT start_time FROM "time" WHERE start_time IS NOT NULL`).Scan(&got); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "2018-11-15T00:30:26.796Z" {
		t.Fatalf("start_time = %q, want RFC 3339 text", got)
	}
	var nulls int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM "time" WHERE length IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("select: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("null lengths = %d, want 1", nulls)
	}
}

func TestWriteTable_PrefixAndBadInput(t *testing.T) {
	t.Parallel()

	w := newWriter(t)
	w.prefix = "star"
	tbl := mustTable(t, userCols, [][]any{{"1", "free", int32(2018)}})

	if _, err := w.WriteTable(context.Background(), "song_plays", tbl, nil); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if got := countRows(t, w, "star_song_plays"); got != 1 {
		t.Fatalf("star_song_plays rows = %d, want 1", got)
	}

	if _, err := w.WriteTable(context.Background(), "users", tbl, []string{"month"}); !errors.Is(err, dataset.ErrUnknownColumn) {
		t.Fatalf("unknown partition error = %v", err)
	}
	if _, err := w.WriteTable(context.Background(), "../users", tbl, nil); err == nil {
		t.Fatal("escaping destination accepted")
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), storage.Config{}); err == nil {
		t.Fatal("Open with empty DSN returned nil error")
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	w, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("storage.New(sqlite): %v", err)
	}
	defer w.Close()
	if _, ok := w.(*Writer); !ok {
		t.Fatalf("storage.New returned %T", w)
	}
}
