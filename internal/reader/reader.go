// Package reader loads raw record files into validated tables.
//
// Each file flows through three stages connected by channels: the JSON
// stream parser, the lenient coercion plan and, when drop_invalid is set, the
// required-field validator. Files are read concurrently; their rows are
// concatenated in file-name order.
package reader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"staretl/internal/config"
	"staretl/internal/dataset"
	"staretl/internal/datasource"
	"staretl/internal/logging"
	jsonparser "staretl/internal/parser/json"
	"staretl/internal/schema"
	"staretl/internal/transformer"
)

// Options tune a read.
type Options struct {
	// Workers bounds the number of files read at once. <= 0 means 1.
	Workers int
	// ChannelBuffer sizes the channels between stages. <= 0 means 256.
	ChannelBuffer int
	// Parser holds parser.options: normalize_unicode, drop_invalid,
	// header_map, unwrap_envelope.
	Parser config.Options
	Logger *zap.Logger
}

// Read lists the files in src matching pattern and loads them as kind. No
// matching file yields an empty table with the catalog's columns.
func Read(ctx context.Context, src datasource.Source, kind schema.Kind, pattern string, opt Options) (*dataset.Table, error) {
	names, err := src.Glob(ctx, pattern)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		logging.OrNop(opt.Logger).Warn("reader: no input files",
			zap.String("kind", string(kind)), zap.String("pattern", pattern))
	}
	return ReadFiles(ctx, src, kind, names, opt)
}

// ReadFiles loads the named files as kind.
func ReadFiles(ctx context.Context, src datasource.Source, kind schema.Kind, names []string, opt Options) (*dataset.Table, error) {
	fields, err := schema.Catalog(kind)
	if err != nil {
		return nil, err
	}
	cols := dataset.Columns(fields)
	if len(names) == 0 {
		return dataset.Empty(cols)
	}

	log := logging.OrNop(opt.Logger).With(zap.String("kind", string(kind)))
	fr := fileReader{
		src:     src,
		columns: schema.Names(fields),
		plan: transformer.Compile(transformer.CoerceSpec{
			Fields:           fields,
			NormalizeUnicode: opt.Parser.Bool("normalize_unicode", false),
		}),
		parserOpts: opt.Parser,
		buffer:     opt.ChannelBuffer,
		log:        log,
	}
	if fr.buffer <= 0 {
		fr.buffer = 256
	}
	if opt.Parser.Bool("drop_invalid", false) {
		fr.required = transformer.Required(fields)
	}

	workers := opt.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([][][]any, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			rows, err := fr.read(gctx, name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	rows := make([][]any, 0, total)
	for _, r := range results {
		rows = append(rows, r...)
	}
	log.Info("reader: loaded", zap.Int("files", len(names)), zap.Int("rows", total))
	return dataset.New(cols, rows)
}

type fileReader struct {
	src        datasource.Source
	columns    []string
	plan       transformer.Plan
	parserOpts config.Options
	required   []string
	buffer     int
	log        *zap.Logger
}

func (fr fileReader) read(ctx context.Context, name string) ([][]any, error) {
	rc, err := fr.src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var body io.Reader = rc
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		body = zr
	}

	g, gctx := errgroup.WithContext(ctx)
	parsed := make(chan *transformer.Row, fr.buffer)
	coerced := make(chan *transformer.Row, fr.buffer)

	g.Go(func() error {
		defer close(parsed)
		return jsonparser.StreamJSONRows(gctx, body, fr.columns, fr.parserOpts, parsed, nil)
	})
	g.Go(func() error {
		defer close(coerced)
		transformer.TransformLoopRows(gctx, fr.plan, parsed, coerced)
		return nil
	})

	final := coerced
	if len(fr.required) > 0 {
		valid := make(chan *transformer.Row, fr.buffer)
		g.Go(func() error {
			defer close(valid)
			transformer.ValidateLoopRows(gctx, fr.columns, fr.required, coerced, valid, func(line int, reason string) {
				fr.log.Debug("reader: row dropped",
					zap.String("file", name), zap.Int("record", line), zap.String("reason", reason))
			})
			return nil
		})
		final = valid
	}

	var rows [][]any
	for r := range final {
		rows = append(rows, r.V)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fr.log.Debug("reader: file done", zap.String("file", name), zap.Int("rows", len(rows)))
	return rows, nil
}
