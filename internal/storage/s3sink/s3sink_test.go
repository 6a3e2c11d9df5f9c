package s3sink

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"staretl/internal/dataset"
	"staretl/internal/schema"
	"staretl/internal/storage"
)

// fakeS3 is an in-memory bucket. List returns everything in one page.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFake(keys ...string) *fakeS3 {
	f := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	for _, k := range keys {
		f.objects[k] = []byte("old")
	}
	return f
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func artistsTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.New(
		[]dataset.Column{{Name: "artist_id", Type: schema.Text}, {Name: "name", Type: schema.Text}},
		[][]any{{"AR1", "Casual"}, {"AR2", nil}},
	)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return tbl
}

func TestWriteTable_ReplacesPrefix(t *testing.T) {
	t.Parallel()

	fake := newFake("star/artists/part-00000.jsonl", "star/artists/part-00001.jsonl", "star/artists_backup/x", "star/songs/keep")
	w, err := New(fake, storage.Config{Bucket: "out", Root: "/star/", BatchSize: 10, Workers: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stats, err := w.WriteTable(context.Background(), "artists", artistsTable(t), nil)
	if err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if stats.Rows != 2 || stats.Files != 3 {
		t.Fatalf("stats = %+v", stats)
	}

	want := []string{
		"star/artists/_SUCCESS",
		"star/artists/_schema.json",
		"star/artists/part-00000.jsonl",
		"star/artists_backup/x",
		"star/songs/keep",
	}
	if got := fake.keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	if got := string(fake.objects["star/artists/part-00000.jsonl"]); got != "{\"artist_id\":\"AR1\",\"name\":\"Casual\"}\n{\"artist_id\":\"AR2\",\"name\":null}\n" {
		t.Fatalf("part body = %q", got)
	}
	if ct := fake.types["star/artists/_schema.json"]; ct != "application/json" {
		t.Fatalf("manifest content type = %q", ct)
	}
}

func TestWriteTable_PutErrorSkipsMarker(t *testing.T) {
	t.Parallel()

	fake := newFake()
	fake.putErr = errors.New("denied")
	w, _ := New(fake, storage.Config{Bucket: "out"})

	if _, err := w.WriteTable(context.Background(), "artists", artistsTable(t), nil); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("WriteTable error = %v, want denied", err)
	}
	for _, k := range fake.keys() {
		if strings.HasSuffix(k, storage.SuccessFile) {
			t.Fatalf("marker written after failure: %s", k)
		}
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := New(newFake(), storage.Config{}); err == nil {
		t.Fatal("New without bucket returned nil error")
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a/part-00000.jsonl":    "application/x-ndjson",
		"a/part-00000.jsonl.gz": "application/gzip",
		"_schema.json":          "application/json",
		"_SUCCESS":              "application/octet-stream",
	}
	for name, want := range tests {
		if got := contentType(name); got != want {
			t.Fatalf("contentType(%q) = %q, want %q", name, got, want)
		}
	}
}
