package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"staretl/internal/dataset"
)

// EncodeJSONL writes rows as newline-delimited JSON objects. Keys appear in
// column order and every column is present (null when missing), so the same
// rows always encode to the same bytes.
func EncodeJSONL(w io.Writer, cols []dataset.Column, rows [][]any) error {
	keys := make([][]byte, len(cols))
	for i, c := range cols {
		k, err := json.Marshal(c.Name)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var buf []byte
	for n, v := range rows {
		if len(v) != len(cols) {
			return fmt.Errorf("jsonl: row %d has %d values, want %d", n, len(v), len(cols))
		}
		buf = append(buf[:0], '{')
		for i := range cols {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, keys[i]...)
			buf = append(buf, ':')
			var err error
			if buf, err = appendJSONValue(buf, v[i]); err != nil {
				return fmt.Errorf("jsonl: row %d column %s: %w", n, cols[i].Name, err)
			}
		}
		buf = append(buf, '}', '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func appendJSONValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case string:
		b, err := json.Marshal(t)
		return append(buf, b...), err
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return append(buf, "null"...), nil
		}
		return strconv.AppendFloat(buf, t, 'g', -1, 64), nil
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return append(buf, "null"...), nil
		}
		return strconv.AppendFloat(buf, f, 'g', -1, 32), nil
	case int32:
		return strconv.AppendInt(buf, int64(t), 10), nil
	case int64:
		return strconv.AppendInt(buf, t, 10), nil
	case int:
		return strconv.AppendInt(buf, int64(t), 10), nil
	case bool:
		return strconv.AppendBool(buf, t), nil
	case time.Time:
		buf = append(buf, '"')
		buf = t.UTC().AppendFormat(buf, time.RFC3339Nano)
		return append(buf, '"'), nil
	default:
		b, err := json.Marshal(t)
		return append(buf, b...), err
	}
}
