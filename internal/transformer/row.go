package transformer

// Row is one parsed record travelling between pipeline stages. V is aligned
// with the catalog column order of the stream; Line is the 1-based record
// number within its source file, used for diagnostics.
type Row struct {
	Line int
	V    []any
}

// NewRow returns a row with width NULL values.
func NewRow(line, width int) *Row {
	return &Row{Line: line, V: make([]any, width)}
}
