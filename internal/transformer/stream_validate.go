package transformer

import (
	"context"

	"staretl/internal/schema"
)

// Required returns the names of the non-nullable fields, in catalog order.
func Required(fields []schema.Field) []string {
	var out []string
	for _, f := range fields {
		if !f.Nullable {
			out = append(out, f.Name)
		}
	}
	return out
}

// ValidateLoopRows forwards rows whose required columns are all non-NULL and
// drops the rest, reporting each drop via onReject (which may be nil).
// Required names that are not in columns are ignored.
//
// The loop is drain-safe: it does not return on ctx cancellation but consumes
// in until it is closed, so upstream stages never block. Once ctx is done,
// rows are discarded instead of forwarded. The caller closes out.
func ValidateLoopRows(
	ctx context.Context,
	columns []string,
	required []string,
	in <-chan *Row,
	out chan<- *Row,
	onReject func(line int, reason string),
) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	reqIx := make([]int, 0, len(required))
	for _, name := range required {
		if ix, ok := pos[name]; ok {
			reqIx = append(reqIx, ix)
		}
	}

	for r := range in {
		if r == nil || len(r.V) != len(columns) {
			continue
		}

		missing := -1
		for _, ix := range reqIx {
			if r.V[ix] == nil {
				missing = ix
				break
			}
		}
		if missing >= 0 {
			if onReject != nil {
				onReject(r.Line, "missing required field "+columns[missing])
			}
			continue
		}

		select {
		case out <- r:
		case <-ctx.Done():
			// Keep draining so the producer can finish.
		}
	}
}
