// Package transformer converts decoded JSON values into typed, catalog-aligned
// rows.
//
// Coercion is lenient: a value that cannot be represented in its column's
// declared type becomes NULL. Rows are never rejected here; dropping rows is
// the job of ValidateLoopRows and only happens when a caller asks for it.
//
// A per-column plan is compiled once per stream so the hot loop does no map
// lookups or type-name switches.
package transformer

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"staretl/internal/schema"
)

// CoerceSpec describes how to coerce a stream of decoded records.
type CoerceSpec struct {
	// Fields is the catalog the rows are aligned with.
	Fields []schema.Field
	// NormalizeUnicode rewrites text values into Unicode NFC form.
	NormalizeUnicode bool
}

// Plan is a compiled CoerceSpec.
type Plan struct {
	cols []func(v any) any
}

// Compile builds the per-column coercion plan for spec.
func Compile(spec CoerceSpec) Plan {
	cols := make([]func(any) any, len(spec.Fields))
	for i, f := range spec.Fields {
		switch f.Type {
		case schema.Double:
			cols[i] = toDouble
		case schema.Float:
			cols[i] = toFloat
		case schema.Int32:
			cols[i] = toInt32
		case schema.Int64:
			cols[i] = toInt64
		case schema.Timestamp:
			cols[i] = toTimestamp
		default:
			if spec.NormalizeUnicode {
				cols[i] = toTextNFC
			} else {
				cols[i] = toText
			}
		}
	}
	return Plan{cols: cols}
}

// Width returns the number of columns the plan expects.
func (p Plan) Width() int { return len(p.cols) }

// Apply coerces v in place. Values beyond the plan width are left untouched.
func (p Plan) Apply(v []any) {
	n := len(v)
	if n > len(p.cols) {
		n = len(p.cols)
	}
	for i := 0; i < n; i++ {
		if v[i] == nil {
			continue
		}
		v[i] = p.cols[i](v[i])
	}
}

// TransformLoopRows reads rows from in, coerces them in place with plan and
// forwards them to out. It returns when in is closed or ctx is canceled. The
// caller closes out after it returns.
func TransformLoopRows(ctx context.Context, plan Plan, in <-chan *Row, out chan<- *Row) {
	for r := range in {
		if r == nil {
			continue
		}
		plan.Apply(r.V)

		select {
		case out <- r:
		case <-ctx.Done():
			return
		}
	}
}

// --- coercers ----------------------------------------------------------------

func toText(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		// Objects and arrays have no scalar text form.
		return nil
	}
}

func toTextNFC(v any) any {
	s, ok := toText(v).(string)
	if !ok {
		return nil
	}
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// number extracts a float64 from a JSON numeric value. Strings are not
// numbers: a quoted "12" in a numeric column is a type mismatch.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

func toDouble(v any) any {
	if f, ok := number(v); ok {
		return f
	}
	return nil
}

func toFloat(v any) any {
	if n, ok := v.(json.Number); ok {
		f, err := strconv.ParseFloat(n.String(), 32)
		if err != nil {
			return nil
		}
		return float32(f)
	}
	if f, ok := number(v); ok {
		return float32(f)
	}
	return nil
}

// integer parses v as an integer in [lo, hi]. Integral floats such as 2018.0
// are accepted when exactly representable; fractional values are not.
func integer(v any, lo, hi int64) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i, i >= lo && i <= hi
		}
	}
	switch t := v.(type) {
	case int64:
		return t, t >= lo && t <= hi
	case int32:
		return int64(t), true
	case int:
		return int64(t), int64(t) >= lo && int64(t) <= hi
	}
	f, ok := number(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 || f < float64(lo) || f > float64(hi) {
		return 0, false
	}
	return int64(f), true
}

func toInt32(v any) any {
	if i, ok := integer(v, math.MinInt32, math.MaxInt32); ok {
		return int32(i)
	}
	return nil
}

func toInt64(v any) any {
	if i, ok := integer(v, math.MinInt64, math.MaxInt64); ok {
		return i
	}
	return nil
}

// toTimestamp accepts RFC 3339 strings and epoch seconds.
func toTimestamp(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return ts.UTC()
	}
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
