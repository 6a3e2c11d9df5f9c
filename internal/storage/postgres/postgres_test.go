package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"staretl/internal/dataset"
	"staretl/internal/schema"
	"staretl/internal/storage"
)

// fakeTx records statements and copied rows. Methods the writer does not use
// panic through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	stmts      []string
	copied     [][]any
	copyTable  pgx.Identifier
	committed  bool
	rolledBack bool
	execErr    error
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeTx) CopyFrom(_ context.Context, table pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	f.copyTable = table
	var n int64
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			return n, err
		}
		f.copied = append(f.copied, v)
		n++
	}
	return n, nil
}

func (f *fakeTx) Commit(context.Context) error { f.committed = true; return nil }

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct{ tx *fakeTx }

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) { return f.tx, nil }

func timeTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.New(
		[]dataset.Column{{Name: "hour", Type: schema.Int32}, {Name: "year", Type: schema.Int32}, {Name: "month", Type: schema.Int32}},
		[][]any{{int32(1), int32(2018), int32(11)}, {int32(2), int32(2018), int32(11)}, {int32(3), int32(2018), int32(12)}},
	)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return tbl
}

func TestWriteTable_ReplacesInOneTransaction(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	w := &Writer{db: &fakeDB{tx: tx}, prefix: "star", batchSize: 2}

	stats, err := w.WriteTable(context.Background(), "time", timeTable(t), []string{"year", "month"})
	if err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if stats.Rows != 3 || stats.Segments != 2 {
		t.Fatalf("stats = %+v, want 3 rows in 2 segments", stats)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v, want commit only", tx.committed, tx.rolledBack)
	}
	if len(tx.stmts) != 3 {
		t.Fatalf("statements = %q, want drop, create, index", tx.stmts)
	}
	if tx.stmts[0] != `DROP TABLE IF EXISTS "star_time"` {
		t.Fatalf("stmt[0] = %q", tx.stmts[0])
	}
	if !strings.HasPrefix(tx.stmts[1], `CREATE TABLE "star_time"`) || !strings.Contains(tx.stmts[1], `"hour" INTEGER`) {
		t.Fatalf("stmt[1] = %q", tx.stmts[1])
	}
	if want := `CREATE INDEX "star_time_partition_idx" ON "star_time" ("year", "month")`; tx.stmts[2] != want {
		t.Fatalf("stmt[2] = %q, want %q", tx.stmts[2], want)
	}
	if len(tx.copied) != 3 || tx.copyTable.Sanitize() != `"star_time"` {
		t.Fatalf("copied %d rows into %v", len(tx.copied), tx.copyTable)
	}
}

func TestWriteTable_ExecErrorRollsBack(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tx := &fakeTx{execErr: boom}
	w := &Writer{db: &fakeDB{tx: tx}, batchSize: 10}

	if _, err := w.WriteTable(context.Background(), "time", timeTable(t), nil); !errors.Is(err, boom) {
		t.Fatalf("WriteTable error = %v, want boom", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v, want rollback", tx.committed, tx.rolledBack)
	}
}

func TestWriteTable_UnknownPartitionColumn(t *testing.T) {
	t.Parallel()

	w := &Writer{db: &fakeDB{tx: &fakeTx{}}, batchSize: 10}
	if _, err := w.WriteTable(context.Background(), "time", timeTable(t), []string{"weekday"}); !errors.Is(err, dataset.ErrUnknownColumn) {
		t.Fatalf("WriteTable error = %v, want ErrUnknownColumn", err)
	}
}

func TestCreateTableSQL_Types(t *testing.T) {
	t.Parallel()

	got := createTableSQL("songs", []dataset.Column{
		{Name: "song_id", Type: schema.Text},
		{Name: "duration", Type: schema.Double},
		{Name: "ts", Type: schema.Timestamp},
		{Name: "id", Type: schema.Int64},
		{Name: "lat", Type: schema.Float},
	})
	want := "CREATE TABLE \"songs\" (\n  \"song_id\" TEXT,\n  \"duration\" DOUBLE PRECISION,\n  \"ts\" TIMESTAMPTZ,\n  \"id\" BIGINT,\n  \"lat\" REAL\n)"
	if got != want {
		t.Fatalf("createTableSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestPgIdent(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("pgIdent = %s", got)
	}
}

func TestRegistration_UsesPoolHook(t *testing.T) {
	tx := &fakeTx{}
	closed := false
	orig := newPool
	newPool = func(context.Context, string) (beginner, func(), error) {
		return &fakeDB{tx: tx}, func() { closed = true }, nil
	}
	t.Cleanup(func() { newPool = orig })

	w, err := storage.New(context.Background(), storage.Config{Kind: "postgres", DSN: "postgres://x"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if _, err := w.WriteTable(context.Background(), "users", timeTable(t), nil); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if err := w.Close(); err != nil || !closed {
		t.Fatalf("Close = %v closed=%v", err, closed)
	}

	if _, err := storage.New(context.Background(), storage.Config{Kind: "postgres"}); err == nil {
		t.Fatal("storage.New without DSN returned nil error")
	}
}
