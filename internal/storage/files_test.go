package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"staretl/internal/dataset"
	"staretl/internal/schema"
)

func TestEncodeJSONL_Deterministic(t *testing.T) {
	t.Parallel()

	cols := []dataset.Column{
		{Name: "start_time", Type: schema.Timestamp},
		{Name: "user_id", Type: schema.Text},
		{Name: "length", Type: schema.Double},
		{Name: "session_id", Type: schema.Int32},
		{Name: "lat", Type: schema.Float},
	}
	ts := time.Date(2018, 11, 15, 0, 30, 26, 796000000, time.FixedZone("x", 3600))
	rows := [][]any{
		{ts, "10", 217.5, int32(583), float32(1.25)},
		{nil, `say "hi"`, nil, nil, nil},
	}

	var buf bytes.Buffer
	if err := EncodeJSONL(&buf, cols, rows); err != nil {
		t.Fatalf("EncodeJSONL: %v", err)
	}
	want := `{"start_time":"2018-11-14T23:30:26.796Z","user_id":"10","length":217.5,"session_id":583,"lat":1.25}` + "\n" +
		`{"start_time":null,"user_id":"say \"hi\"","length":null,"session_id":null,"lat":null}` + "\n"
	if buf.String() != want {
		t.Fatalf("EncodeJSONL =\n%s\nwant\n%s", buf.String(), want)
	}

	if err := EncodeJSONL(io.Discard, cols, [][]any{{1}}); err == nil {
		t.Fatal("short row accepted")
	}
}

func TestRenderFiles_PartsManifestMarker(t *testing.T) {
	t.Parallel()

	tbl := mustTable(t, songCols, [][]any{
		{"S1", "a", "AR1", int32(2000), 1.0},
		{"S2", "b", "AR1", int32(2000), 2.0},
		{"S3", "c", "AR1", int32(2000), 3.0},
		{"S4", "d", "AR2", int32(2001), 4.0},
	})
	l, err := Plan(tbl, []string{"year", "artist_id"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	files, err := RenderFiles("songs", l, RenderOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("RenderFiles: %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{
		"year=2000/artist_id=AR1/part-00000.jsonl",
		"year=2000/artist_id=AR1/part-00001.jsonl",
		"year=2001/artist_id=AR2/part-00000.jsonl",
		ManifestFile,
		SuccessFile,
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("files = %v, want %v", names, want)
	}
	if files[0].Rows != 2 || files[1].Rows != 1 {
		t.Fatalf("part rows = %d, %d; want 2, 1", files[0].Rows, files[1].Rows)
	}

	var m Manifest
	if err := json.Unmarshal(files[3].Data, &m); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Table != "songs" || m.Rows != 4 || len(m.Columns) != 3 || len(m.PartitionBy) != 2 || len(m.Partitions) != 2 {
		t.Fatalf("manifest = %+v", m)
	}
	if m.PartitionBy[0] != (ManifestColumn{Name: "year", Type: "int32"}) {
		t.Fatalf("partition_by[0] = %+v", m.PartitionBy[0])
	}
}

func TestRenderFiles_EmptyTableHasManifestOnly(t *testing.T) {
	t.Parallel()

	l, err := Plan(mustTable(t, songCols, nil), nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	files, err := RenderFiles("songs", l, RenderOptions{})
	if err != nil {
		t.Fatalf("RenderFiles: %v", err)
	}
	if len(files) != 2 || files[0].Name != ManifestFile || files[1].Name != SuccessFile {
		t.Fatalf("files = %+v, want manifest and marker only", files)
	}
	var m Manifest
	if err := json.Unmarshal(files[0].Data, &m); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(m.Columns) != 5 || m.Rows != 0 {
		t.Fatalf("manifest = %+v, want 5 columns and 0 rows", m)
	}
}

func TestRenderFiles_Gzip(t *testing.T) {
	t.Parallel()

	l, _ := Plan(mustTable(t, songCols, [][]any{{"S1", "a", "AR1", int32(2000), 1.0}}), nil)
	files, err := RenderFiles("songs", l, RenderOptions{Compress: true})
	if err != nil {
		t.Fatalf("RenderFiles: %v", err)
	}
	if files[0].Name != "part-00000.jsonl.gz" {
		t.Fatalf("name = %q", files[0].Name)
	}
	zr, err := gzip.NewReader(bytes.NewReader(files[0].Data))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if !strings.HasPrefix(string(body), `{"song_id":"S1"`) {
		t.Fatalf("body = %q", body)
	}
}

func TestPutFiles_MarkerLastAndErrors(t *testing.T) {
	t.Parallel()

	files := []File{{Name: SuccessFile}, {Name: "a", Data: []byte("12")}, {Name: "b", Data: []byte("3")}}
	var (
		mu    sync.Mutex
		order []string
	)
	n, err := PutFiles(context.Background(), files, 2, func(_ context.Context, f File) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, f.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("PutFiles: %v", err)
	}
	if n != 3 || len(order) != 3 || order[2] != SuccessFile {
		t.Fatalf("bytes=%d order=%v, want 3 bytes with marker last", n, order)
	}

	boom := errors.New("boom")
	wroteMarker := false
	_, err = PutFiles(context.Background(), files, 1, func(_ context.Context, f File) error {
		if f.Name == SuccessFile {
			wroteMarker = true
		}
		if f.Name == "b" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) || wroteMarker {
		t.Fatalf("err=%v wroteMarker=%v, want boom without marker", err, wroteMarker)
	}
}
