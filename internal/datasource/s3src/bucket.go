// Package s3 implements a data source that reads raw files from an S3 bucket.
package s3src

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"

	"staretl/internal/datasource"
)

// API is the subset of the S3 client the source uses.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Bucket reads objects under Prefix in a bucket. Names returned by Glob are
// keys relative to Prefix.
type Bucket struct {
	client API
	bucket string
	prefix string
}

var _ datasource.Source = (*Bucket)(nil)

// New returns a source over bucket/prefix.
func New(client API, bucket, prefix string) *Bucket {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Bucket{client: client, bucket: bucket, prefix: prefix}
}

// Glob lists the keys under the static part of pattern and keeps those
// matching it, sorted.
func (b *Bucket) Glob(ctx context.Context, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", datasource.ErrBadPattern, pattern)
	}
	pattern = path.Clean(pattern)

	listPrefix := b.prefix
	if base, _ := doublestar.SplitPattern(pattern); base != "." && base != "" {
		listPrefix += base + "/"
	}

	var names []string
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(listPrefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", b.bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel := strings.TrimPrefix(key, b.prefix)
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", datasource.ErrBadPattern, pattern)
			}
			if ok {
				names = append(names, rel)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open streams the object named name.
func (b *Bucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := b.prefix + name
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, key, err)
	}
	return out.Body, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *Bucket) Close() error { return nil }
