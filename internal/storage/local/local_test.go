package local

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"staretl/internal/dataset"
	"staretl/internal/schema"
	"staretl/internal/storage"
)

var timeCols = []dataset.Column{
	{Name: "hour", Type: schema.Int32},
	{Name: "year", Type: schema.Int32},
	{Name: "month", Type: schema.Int32},
}

func mustTable(tb testing.TB, rows [][]any) *dataset.Table {
	tb.Helper()
	tbl, err := dataset.New(timeCols, rows)
	if err != nil {
		tb.Fatalf("dataset.New: %v", err)
	}
	return tbl
}

// listTree returns every file under root as slash paths, sorted.
func listTree(tb testing.TB, root string) []string {
	tb.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		tb.Fatalf("walk: %v", err)
	}
	sort.Strings(out)
	return out
}

func TestWriteTable_PartitionedTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := New(storage.Config{Root: root, BatchSize: 10, Workers: 2, RunID: "r1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tbl := mustTable(t, [][]any{
		{int32(0), int32(2018), int32(11)},
		{int32(1), int32(2018), int32(12)},
		{int32(2), int32(2018), int32(11)},
	})

	stats, err := w.WriteTable(context.Background(), "time", tbl, []string{"year", "month"})
	if err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if stats.Rows != 3 || stats.Segments != 2 || stats.Files != 4 || stats.Bytes == 0 {
		t.Fatalf("stats = %+v", stats)
	}

	got := listTree(t, filepath.Join(root, "time"))
	want := []string{
		"_SUCCESS",
		"_schema.json",
		"year=2018/month=11/part-00000.jsonl",
		"year=2018/month=12/part-00000.jsonl",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("tree = %v, want %v", got, want)
	}

	body, err := os.ReadFile(filepath.Join(root, "time", "year=2018", "month=11", "part-00000.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "{\"hour\":0}\n{\"hour\":2}\n" {
		t.Fatalf("part = %q", body)
	}
	if _, err := os.Stat(filepath.Join(root, "time.tmp-r1")); !os.IsNotExist(err) {
		t.Fatalf("temp dir left behind: %v", err)
	}
}

// TestWriteTable_OverwriteRemovesStalePartitions verifies that no file from
// an earlier write survives a later one.
func TestWriteTable_OverwriteRemovesStalePartitions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := New(storage.Config{Root: root, BatchSize: 10, RunID: "r"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := w.WriteTable(ctx, "time", mustTable(t, [][]any{{int32(1), int32(2017), int32(1)}}), []string{"year", "month"}); err != nil {
		t.Fatalf("WriteTable #1: %v", err)
	}
	if _, err := w.WriteTable(ctx, "time", mustTable(t, [][]any{{int32(1), int32(2018), int32(11)}}), []string{"year", "month"}); err != nil {
		t.Fatalf("WriteTable #2: %v", err)
	}

	for _, p := range listTree(t, filepath.Join(root, "time")) {
		if strings.Contains(p, "2017") {
			t.Fatalf("stale partition survived: %s", p)
		}
	}
}

func TestWriteTable_EmptyTable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, _ := New(storage.Config{Root: root})
	if _, err := w.WriteTable(context.Background(), "time", mustTable(t, nil), []string{"year", "month"}); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	got := listTree(t, filepath.Join(root, "time"))
	if len(got) != 2 || got[0] != "_SUCCESS" || got[1] != "_schema.json" {
		t.Fatalf("tree = %v, want marker and manifest only", got)
	}
}

func TestWriteTable_Gzip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, _ := New(storage.Config{Root: root, Compress: true})
	if _, err := w.WriteTable(context.Background(), "time", mustTable(t, [][]any{{int32(1), int32(2018), int32(11)}}), nil); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "time", "part-00000.jsonl.gz")); err != nil {
		t.Fatalf("gzip part missing: %v", err)
	}
}

func TestWriteTable_FailureKeepsPreviousOutput(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, _ := New(storage.Config{Root: root})
	ctx := context.Background()
	if _, err := w.WriteTable(ctx, "time", mustTable(t, [][]any{{int32(1), int32(2018), int32(11)}}), nil); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := w.WriteTable(canceled, "time", mustTable(t, nil), nil); err == nil {
		t.Fatal("WriteTable with canceled context returned nil error")
	}
	if _, err := os.Stat(filepath.Join(root, "time", "part-00000.jsonl")); err != nil {
		t.Fatalf("previous output lost: %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(storage.Config{}); err == nil {
		t.Fatal("New with empty root returned nil error")
	}
	w, err := storage.New(context.Background(), storage.Config{Kind: "local", Root: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New(local): %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
