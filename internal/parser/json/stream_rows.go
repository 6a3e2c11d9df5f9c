// Package json streams raw JSON record files into catalog-aligned rows.
//
// Accepted shapes:
//
//   - newline-delimited objects (one record per line, or any whitespace);
//   - a root array of objects: [ {...}, {...} ];
//   - a root object holding the records in an array-of-object field, when
//     the unwrap_envelope option is set. Otherwise a root object is a record.
//
// Numbers are decoded as json.Number so that typing is left to the
// transformer stage.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"staretl/internal/config"
	"staretl/internal/transformer"
)

// Options are the parser.options recognised by the JSON parser.
type Options struct {
	// HeaderMap renames raw keys before column lookup (raw -> column).
	HeaderMap map[string]string
	// UnwrapEnvelope treats a root object with an array-of-object field as a
	// container of records instead of a record.
	UnwrapEnvelope bool
}

// FromConfigOptions reads Options from a parser options map.
func FromConfigOptions(o config.Options) Options {
	return Options{
		HeaderMap:      readHeaderMap(o),
		UnwrapEnvelope: o.Bool("unwrap_envelope", false),
	}
}

// StreamJSONRows decodes r and sends one *transformer.Row per record to out.
// Row.V is aligned with columns; keys absent from a record are NULL and keys
// not in columns are ignored.
//
// Any decode error is fatal for the stream: it is reported to onParseErr
// (when non-nil) with the number of the record that failed and returned.
func StreamJSONRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	parserOpts config.Options,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	opt := FromConfigOptions(parserOpts)
	dec := json.NewDecoder(r)
	dec.UseNumber()

	line := 0
	fail := func(err error) error {
		if onParseErr != nil {
			onParseErr(line+1, err)
		}
		return err
	}

	emitObject := func(obj map[string]any) error {
		line++
		if len(opt.HeaderMap) > 0 {
			obj = canonicalize(obj, opt.HeaderMap)
		}
		row := &transformer.Row{Line: line, V: recordToRowJSON(obj, columns)}

		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		var root any
		if err := dec.Decode(&root); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fail(fmt.Errorf("json: decode record %d: %w", line+1, err))
		}

		switch v := root.(type) {
		case map[string]any:
			if opt.UnwrapEnvelope {
				if slice := findObjectSlice(v); slice != nil {
					for _, obj := range slice {
						if err := emitObject(obj); err != nil {
							return err
						}
					}
					continue
				}
			}
			if err := emitObject(v); err != nil {
				return err
			}

		case []any:
			for _, elem := range v {
				obj, ok := elem.(map[string]any)
				if !ok {
					return fail(fmt.Errorf("json: array element not an object (got %T)", elem))
				}
				if err := emitObject(obj); err != nil {
					return err
				}
			}

		default:
			return fail(fmt.Errorf("json: unsupported top-level value %T (want object or array)", v))
		}
	}
}

func canonicalize(obj map[string]any, headerMap map[string]string) map[string]any {
	canon := make(map[string]any, len(obj))
	for k, v := range obj {
		if mapped, ok := headerMap[k]; ok && mapped != "" {
			canon[mapped] = v
		} else {
			canon[k] = v
		}
	}
	return canon
}

// readHeaderMap extracts header_map from parser options, accepting both
// map[string]any (decoded from JSON) and map[string]string (built in Go).
func readHeaderMap(opts config.Options) map[string]string {
	res := make(map[string]string)
	switch m := opts.Any("header_map").(type) {
	case map[string]string:
		for k, v := range m {
			res[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				res[k] = s
			}
		}
	}
	return res
}

// findObjectSlice returns the first array-of-object field of root, in key
// order, or nil when there is none.
func findObjectSlice(root map[string]any) []map[string]any {
	keys := make([]string, 0, len(root))
	for k := range root {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rawSlice, ok := root[k].([]any)
		if !ok || len(rawSlice) == 0 {
			continue
		}
		objects := make([]map[string]any, 0, len(rawSlice))
		valid := true
		for _, elem := range rawSlice {
			if elem == nil {
				continue
			}
			m, ok := elem.(map[string]any)
			if !ok {
				valid = false
				break
			}
			objects = append(objects, m)
		}
		if valid && len(objects) > 0 {
			return objects
		}
	}
	return nil
}

// recordToRowJSON maps a JSON object into a []any aligned with columns.
// Missing keys become nil.
func recordToRowJSON(obj map[string]any, columns []string) []any {
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i] = obj[col]
	}
	return row
}
