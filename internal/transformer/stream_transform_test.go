package transformer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"staretl/internal/schema"
)

func TestPlanApply_LenientCoercion(t *testing.T) {
	t.Parallel()

	fields := []schema.Field{
		{Name: "s", Type: schema.Text},
		{Name: "d", Type: schema.Double},
		{Name: "f", Type: schema.Float},
		{Name: "i32", Type: schema.Int32},
		{Name: "i64", Type: schema.Int64},
		{Name: "ts", Type: schema.Timestamp},
	}
	plan := Compile(CoerceSpec{Fields: fields})

	tests := []struct {
		name string
		in   []any
		want []any
	}{
		{
			name: "well typed",
			in:   []any{"a", json.Number("1.5"), json.Number("2.25"), json.Number("2018"), json.Number("1541121934796"), "2018-11-02T01:25:34Z"},
			want: []any{"a", 1.5, float32(2.25), int32(2018), int64(1541121934796), time.Date(2018, 11, 2, 1, 25, 34, 0, time.UTC)},
		},
		{
			name: "nulls stay null",
			in:   []any{nil, nil, nil, nil, nil, nil},
			want: []any{nil, nil, nil, nil, nil, nil},
		},
		{
			name: "strings in numeric columns",
			in:   []any{"x", "1.5", "2", "2018", "7", "yesterday"},
			want: []any{"x", nil, nil, nil, nil, nil},
		},
		{
			name: "numbers in text column keep their literal",
			in:   []any{json.Number("0.10"), json.Number("1e3"), nil, json.Number("2018.0"), json.Number("3.5"), json.Number("0")},
			want: []any{"0.10", 1000.0, nil, int32(2018), nil, time.Unix(0, 0).UTC()},
		},
		{
			name: "structured values and bools",
			in:   []any{map[string]any{"k": "v"}, true, []any{1}, false, map[string]any{}, true},
			want: []any{nil, nil, nil, nil, nil, nil},
		},
		{
			name: "int32 overflow",
			in:   []any{true, nil, nil, json.Number("2147483648"), nil, nil},
			want: []any{"true", nil, nil, nil, nil, nil},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			row := append([]any(nil), tt.in...)
			plan.Apply(row)
			for i := range tt.want {
				if !sameValue(row[i], tt.want[i]) {
					t.Fatalf("col %s = %#v (%T), want %#v (%T)", fields[i].Name, row[i], row[i], tt.want[i], tt.want[i])
				}
			}
		})
	}
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

func TestPlanApply_NormalizeUnicode(t *testing.T) {
	t.Parallel()

	fields := []schema.Field{{Name: "artist", Type: schema.Text}}
	decomposed := "Beyonce\u0301"
	composed := "Beyonc\u00e9"

	raw := []any{decomposed}
	Compile(CoerceSpec{Fields: fields}).Apply(raw)
	if raw[0] != decomposed {
		t.Fatalf("without normalization = %q, want input unchanged", raw[0])
	}

	norm := []any{decomposed}
	Compile(CoerceSpec{Fields: fields, NormalizeUnicode: true}).Apply(norm)
	if norm[0] != composed {
		t.Fatalf("normalized = %q, want %q", norm[0], composed)
	}
}

func TestPlanApply_ShortRow(t *testing.T) {
	t.Parallel()

	plan := Compile(CoerceSpec{Fields: []schema.Field{{Name: "a", Type: schema.Int32}, {Name: "b", Type: schema.Int32}}})
	if plan.Width() != 2 {
		t.Fatalf("Width() = %d, want 2", plan.Width())
	}
	row := []any{json.Number("1")}
	plan.Apply(row)
	if row[0] != int32(1) {
		t.Fatalf("row[0] = %#v, want int32(1)", row[0])
	}
}

// TestTransformLoopRows_ForwardsEveryRow verifies that the streaming stage never
// drops rows, even when every value is a type mismatch.
func TestTransformLoopRows_ForwardsEveryRow(t *testing.T) {
	t.Parallel()

	plan := Compile(CoerceSpec{Fields: []schema.Field{{Name: "year", Type: schema.Int32}}})
	in := make(chan *Row, 3)
	out := make(chan *Row, 3)

	in <- &Row{Line: 1, V: []any{json.Number("2001")}}
	in <- &Row{Line: 2, V: []any{"not a year"}}
	in <- nil
	close(in)

	TransformLoopRows(context.Background(), plan, in, out)
	close(out)

	var got []*Row
	for r := range out {
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("forwarded %d rows, want 2", len(got))
	}
	if got[0].V[0] != int32(2001) || got[1].V[0] != nil {
		t.Fatalf("values = %#v, %#v; want 2001, nil", got[0].V[0], got[1].V[0])
	}
}

// TestTransformLoopRows_ContextCancel ensures the loop exits promptly on cancel.
func TestTransformLoopRows_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	plan := Compile(CoerceSpec{Fields: []schema.Field{{Name: "a", Type: schema.Text}}})

	in := make(chan *Row, 1)
	out := make(chan *Row) // never read

	done := make(chan struct{})
	go func() {
		TransformLoopRows(ctx, plan, in, out)
		close(done)
	}()

	in <- NewRow(1, 1)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TransformLoopRows did not respect context cancellation")
	}
}
