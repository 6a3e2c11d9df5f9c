// Package miniosink writes tables as hive-partitioned JSONL objects to a
// MinIO server. It follows the same delete-then-put overwrite policy as the
// S3 writer and creates the bucket on first use.
package miniosink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"staretl/internal/dataset"
	"staretl/internal/storage"
)

func init() {
	storage.Register("minio", func(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds: credentials.NewStaticV4(
				cfg.Credentials.AccessKeyID,
				cfg.Credentials.SecretAccessKey,
				cfg.Credentials.SessionToken,
			),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio: create client: %w", err)
		}
		return New(ctx, client, cfg)
	})
}

// API is the subset of *minio.Client the writer uses.
type API interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucket string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Writer is a MinIO storage.Writer.
type Writer struct {
	client  API
	bucket  string
	prefix  string
	workers int
	render  storage.RenderOptions
	log     *zap.Logger
}

// New returns a Writer for cfg.Bucket, creating the bucket if it does not
// exist.
func New(ctx context.Context, client API, cfg storage.Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio: bucket must not be empty")
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("minio: create bucket: %w", err)
		}
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
		return storage.WriteStats{}, fmt.Errorf("minio: %s: %w", dest, err)
	}
	files, err := storage.RenderFiles(dest, layout, w.render)
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("minio: %s: %w", dest, err)
	}

	base := path.Join(w.prefix, dest) + "/"
	if err := w.clear(ctx, base); err != nil {
		return storage.WriteStats{}, fmt.Errorf("minio: clear %s/%s: %w", w.bucket, base, err)
	}

	size, err := storage.PutFiles(ctx, files, w.workers, func(ctx context.Context, f storage.File) error {
		_, err := w.client.PutObject(ctx, w.bucket, base+f.Name, bytes.NewReader(f.Data), int64(len(f.Data)), minio.PutObjectOptions{})
		if err != nil {
			return fmt.Errorf("put %s: %w", f.Name, err)
		}
		return nil
	})
	if err != nil {
		return storage.WriteStats{}, fmt.Errorf("minio: write %s: %w", dest, err)
	}

	stats := storage.WriteStats{
		Rows:     layout.Rows(),
		Segments: len(layout.Segments),
		Files:    len(files),
		Bytes:    size,
	}
	w.log.Info("writer: table replaced",
		zap.String("table", dest),
		zap.String("bucket", w.bucket),
		zap.String("prefix", base),
		zap.Int64("rows", stats.Rows),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return stats, nil
}

func (w *Writer) clear(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listed := w.client.ListObjects(ctx, w.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	toRemove := make(chan minio.ObjectInfo)
	done := make(chan struct{})
	var listErr error
	go func() {
		defer close(done)
		defer close(toRemove)
		for obj := range listed {
			if obj.Err != nil {
				listErr = obj.Err
				cancel()
				return
			}
			select {
			case toRemove <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var firstErr error
	for rerr := range w.client.RemoveObjects(ctx, w.bucket, toRemove, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	cancel()
	<-done
	if listErr != nil {
		return listErr
	}
	return firstErr
}

// Close implements storage.Writer.
func (w *Writer) Close() error { return nil }
