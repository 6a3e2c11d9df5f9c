package storage

import (
	"context"
	"errors"
	"testing"

	"staretl/internal/dataset"
)

// fakeWriter is a minimal Writer for factory tests.
type fakeWriter struct {
	cfg    Config
	closed bool
}

func (f *fakeWriter) WriteTable(_ context.Context, _ string, tbl *dataset.Table, _ []string) (WriteStats, error) {
	return WriteStats{Rows: int64(tbl.Len())}, nil
}
func (f *fakeWriter) Close() error { f.closed = true; return nil }

// TestRegisterAndNew_Success verifies that registering a backend enables New
// to return it, with defaults applied to the config.
func TestRegisterAndNew_Success(t *testing.T) {
	t.Parallel()

	kind := "fake"
	Register(kind, func(_ context.Context, cfg Config) (Writer, error) {
		return &fakeWriter{cfg: cfg}, nil
	})

	w, err := New(context.Background(), Config{Kind: kind})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	fw := w.(*fakeWriter)
	if fw.cfg.BatchSize != DefaultBatchSize || fw.cfg.Workers <= 0 || fw.cfg.Logger == nil {
		t.Fatalf("defaults not applied: %+v", fw.cfg)
	}

	found := false
	for _, k := range ListKinds() {
		if k == kind {
			found = true
		}
	}
	if !found {
		t.Fatalf("registered kind %q not present in ListKinds: %v", kind, ListKinds())
	}
}

// TestNew_Unsupported verifies that unsupported kinds return ErrUnsupportedKind.
func TestNew_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("New error = %v, want ErrUnsupportedKind", err)
	}
	if got, want := err.Error(), "unsupported output kind: does-not-exist"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

func TestRegister_Override(t *testing.T) {
	t.Parallel()

	kind := "override"
	calls := 0
	Register(kind, func(context.Context, Config) (Writer, error) { calls++; return &fakeWriter{}, nil })
	Register(kind, func(context.Context, Config) (Writer, error) { calls += 10; return &fakeWriter{}, nil })

	if _, err := New(context.Background(), Config{Kind: kind}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if calls != 10 {
		t.Fatalf("calls = %d, want 10 (second factory only)", calls)
	}
}

func TestCheckDest(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"songs", "song_plays", "star/songs"} {
		if err := CheckDest(ok); err != nil {
			t.Fatalf("CheckDest(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", ".", "..", "../x", "/abs", "a/../b", "a//b", `a\b`} {
		if err := CheckDest(bad); err == nil {
			t.Fatalf("CheckDest(%q) = nil, want error", bad)
		}
	}
}

func TestSQLTableName(t *testing.T) {
	t.Parallel()

	tests := []struct{ prefix, dest, want string }{
		{"", "songs", "songs"},
		{"star", "song_plays", "star_song_plays"},
		{"/star/", "time", "star_time"},
		{"s-3", "a.b", "s_3_a_b"},
	}
	for _, tt := range tests {
		if got := SQLTableName(tt.prefix, tt.dest); got != tt.want {
			t.Fatalf("SQLTableName(%q, %q) = %q, want %q", tt.prefix, tt.dest, got, tt.want)
		}
	}
}
