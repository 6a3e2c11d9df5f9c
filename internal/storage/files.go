package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"staretl/internal/dataset"
)

// Names of the marker files written next to the part files.
const (
	ManifestFile = "_schema.json"
	SuccessFile  = "_SUCCESS"
)

// File is one rendered output object, addressed relative to the table root.
type File struct {
	Name string
	Data []byte
	Rows int
}

// ManifestColumn describes one column in the manifest.
type ManifestColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Manifest records the shape of a written table so that readers get the
// right columns even when there are no part files.
type Manifest struct {
	Table       string           `json:"table"`
	Columns     []ManifestColumn `json:"columns"`
	PartitionBy []ManifestColumn `json:"partition_by"`
	Rows        int64            `json:"rows"`
	Partitions  []string         `json:"partitions"`
}

// RenderOptions controls part file rendering.
type RenderOptions struct {
	// BatchSize is the maximum number of rows per part file.
	BatchSize int
	Compress  bool
}

// RenderFiles renders a layout into part files followed by the manifest and
// the success marker. Segments without rows produce no part files.
func RenderFiles(table string, l Layout, opt RenderOptions) ([]File, error) {
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	ext := ".jsonl"
	if opt.Compress {
		ext += ".gz"
	}

	var files []File
	m := Manifest{
		Table:       table,
		Columns:     manifestColumns(l.Columns),
		PartitionBy: manifestColumns(l.PartitionBy),
		Rows:        l.Rows(),
		Partitions:  []string{},
	}
	for _, seg := range l.Segments {
		if seg.Dir != "" {
			m.Partitions = append(m.Partitions, seg.Dir)
		}
		for part, off := 0, 0; off < len(seg.Rows); part, off = part+1, off+opt.BatchSize {
			end := min(off+opt.BatchSize, len(seg.Rows))
			data, err := encodePart(l.Columns, seg.Rows[off:end], opt.Compress)
			if err != nil {
				return nil, fmt.Errorf("render %s: %w", seg.Dir, err)
			}
			files = append(files, File{
				Name: path.Join(seg.Dir, fmt.Sprintf("part-%05d%s", part, ext)),
				Data: data,
				Rows: end - off,
			})
		}
	}

	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	files = append(files,
		File{Name: ManifestFile, Data: append(mb, '\n')},
		File{Name: SuccessFile},
	)
	return files, nil
}

func encodePart(cols []dataset.Column, rows [][]any, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if !compress {
		err := EncodeJSONL(&buf, cols, rows)
		return buf.Bytes(), err
	}
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if err := EncodeJSONL(zw, cols, rows); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func manifestColumns(cols []dataset.Column) []ManifestColumn {
	out := make([]ManifestColumn, len(cols))
	for i, c := range cols {
		out[i] = ManifestColumn{Name: c.Name, Type: string(c.Type)}
	}
	return out
}

// PutFiles calls put for every file using at most workers goroutines. The
// success marker is written last, after every other file succeeded.
func PutFiles(ctx context.Context, files []File, workers int, put func(context.Context, File) error) (int64, error) {
	var (
		body   []File
		marker []File
		total  int64
	)
	for _, f := range files {
		total += int64(len(f.Data))
		if f.Name == SuccessFile {
			marker = append(marker, f)
			continue
		}
		body = append(body, f)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, f := range body {
		g.Go(func() error { return put(gctx, f) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for _, f := range marker {
		if err := put(ctx, f); err != nil {
			return 0, err
		}
	}
	return total, nil
}
