// Package s3sink writes tables as hive-partitioned JSONL objects to Amazon S3
// (or any S3-compatible endpoint).
//
// Overwrite is delete-then-put: every object under <prefix>/<dest>/ is removed
// before the new files are uploaded. Readers should wait for the _SUCCESS
// marker, which is uploaded last.
package s3sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"staretl/internal/cloud"
	"staretl/internal/dataset"
	"staretl/internal/storage"
)

// maxDeleteKeys is the DeleteObjects per-request limit.
const maxDeleteKeys = 1000

func init() {
	storage.Register("s3", func(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
		client, err := cloud.NewS3Client(ctx, cloud.S3Config{
			Region:      cfg.Region,
			Endpoint:    cfg.Endpoint,
			Credentials: cfg.Credentials,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return New(client, cfg)
	})
}

// API is the subset of the S3 client the writer uses.
type API interface {
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer is an S3 storage.Writer.
type Writer struct {
	client  API
	bucket  string
	prefix  string
	workers int
	render  storage.RenderOptions
	log     *zap.Logger
}

// New returns a Writer for cfg.Bucket under the cfg.Root key prefix.
func New(client API, cfg storage.Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3: bucket must not be empty")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Root, "/"),
		workers: max(cfg.Workers, 1),
		render:  storage.RenderOptions{BatchSize: cfg.BatchSize, Compress: cfg.Compress},
		log:     log,
	}, nil
}

// WriteTable implements storage.Writer.
func (w *Writer) WriteTable(ctx context.Context, dest string, tbl *dataset.Table, partitionBy []string) (storage.WriteStats, error) {
	if err := storage.CheckDest(dest); err != nil {
		return storage.WriteStats{}, err
	}
	layout, err := storage.Plan(tbl, partitionBy)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("s3: %s: %w", dest, err)
	}
	files, err := storage.RenderFiles(dest, layout, w.render)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("s3: %s: %w", dest, err)
	}

	base := path.Join(w.prefix, dest) + "/"
	removed, err := w.clear(ctx, base)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("s3: clear s3://%s/%s: %w", w.bucket, base, err)
	}

	size, err := storage.PutFiles(ctx, files, w.workers, func(ctx context.Context, f storage.File) error {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.bucket),
			Key:           aws.String(base + f.Name),
			Body:          bytes.NewReader(f.Data),
			ContentLength: aws.Int64(int64(len(f.Data))),
			ContentType:   aws.String(contentType(f.Name)),
		})
		if err != nil {
			return fmt.Errorf("put %s: %w", f.Name, err)
		}
		return nil
	})
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("s3: write %s: %w", dest, err)
	}

	stats := storage.WriteStats{
		Rows:     layout.Rows(),
		Segments: len(layout.Segments),
		Files:    len(files),
		Bytes:    size,
	}
	w.log.Info("writer: table replaced",
		zap.String("table", dest),
		zap.String("uri", "s3://"+w.bucket+"/"+base),
		zap.Int("removed", removed),
		zap.Int64("rows", stats.Rows),
		zap.Int("segments", stats.Segments),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return stats, nil
}

// clear deletes every object under prefix and returns how many were removed.
func (w *Writer) clear(ctx context.Context, prefix string) (int, error) {
	var keys []types.ObjectIdentifier
	p := s3.NewListObjectsV2Paginator(w.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(w.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for off := 0; off < len(keys); off += maxDeleteKeys {
		chunk := keys[off:min(off+maxDeleteKeys, len(keys))]
		out, err := w.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(w.bucket),
			Delete: &types.Delete{Objects: chunk, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return 0, err
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return 0, fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return len(keys), nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".jsonl"):
		return "application/x-ndjson"
	}
	return "application/octet-stream"
}

// Close implements storage.Writer.
func (w *Writer) Close() error { return nil }
