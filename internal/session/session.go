// Package session holds the resources of one ETL run: logger, input source,
// output writer, songplay id generator and run id. Open acquires them in
// dependency order and Close releases whatever was acquired.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"staretl/internal/cloud"
	"staretl/internal/config"
	"staretl/internal/datasource"
	"staretl/internal/datasource/file"
	"staretl/internal/datasource/s3src"
	"staretl/internal/logging"
	"staretl/internal/star"
	"staretl/internal/storage"
)

// ErrUnsupportedInput is returned by Open for an unknown input kind.
var ErrUnsupportedInput = errors.New("unsupported input kind")

// Session is the execution context handed to etl.Run.
type Session struct {
	Spec  config.Pipeline
	RunID string
	Log   *zap.Logger

	Source datasource.Source
	Writer storage.Writer
	IDs    star.IDSource
}

// newS3Client is swapped in tests.
var newS3Client = func(ctx context.Context, cfg cloud.S3Config) (s3src.API, error) {
	return cloud.NewS3Client(ctx, cfg)
}

// Open builds a session for spec. On error every resource acquired so far is
// released before returning.
func Open(ctx context.Context, spec config.Pipeline, log *zap.Logger) (*Session, error) {
	spec = spec.WithDefaults()
	runID := uuid.NewString()
	log = logging.OrNop(log).With(zap.String("job", spec.Job), zap.String("run_id", runID))

	keys, err := spec.Credentials.Load()
	if err != nil {
		return nil, fmt.Errorf("session: credentials: %w", err)
	}
	creds := cloud.Credentials{
		AccessKeyID:     keys.AccessKeyID,
		SecretAccessKey: keys.SecretAccessKey,
		SessionToken:    keys.SessionToken,
	}

	node, err := snowflake.NewNode(spec.Runtime.NodeID)
	if err != nil {
		return nil, fmt.Errorf("session: id node %d: %w", spec.Runtime.NodeID, err)
	}

	s := &Session{
		Spec:  spec,
		RunID: runID,
		Log:   log,
		IDs:   star.SnowflakeIDs{Node: node},
	}

	if s.Source, err = openSource(ctx, spec.Input, creds); err != nil {
		return nil, fmt.Errorf("session: input: %w", err)
	}

	s.Writer, err = storage.New(ctx, storage.Config{
		Kind:        spec.Output.Kind,
		Root:        spec.Output.Root,
		Compress:    spec.Output.Compress,
		DSN:         spec.Output.DSN,
		Bucket:      spec.Output.Bucket,
		Region:      spec.Output.Region,
		Endpoint:    spec.Output.Endpoint,
		UseSSL:      spec.Output.UseSSL,
		Credentials: creds,
		BatchSize:   spec.Runtime.BatchSize,
		Workers:     spec.Runtime.WriterWorkers,
		RunID:       runID,
		Logger:      log,
	})
	if err != nil {
		_ = s.Source.Close()
		return nil, fmt.Errorf("session: output: %w", err)
	}

	log.Info("session: opened",
		zap.String("input", spec.Input.Kind),
		zap.String("output", spec.Output.Kind),
		zap.Int64("node_id", spec.Runtime.NodeID))
	return s, nil
}

func openSource(ctx context.Context, in config.Input, creds cloud.Credentials) (datasource.Source, error) {
	switch in.Kind {
	case "file":
		return file.NewLocal(in.Root), nil
	case "s3":
		client, err := newS3Client(ctx, cloud.S3Config{
			Region:      in.Region,
			Endpoint:    in.Endpoint,
			Credentials: creds,
		})
		if err != nil {
			return nil, err
		}
		return s3src.New(client, in.Bucket, in.Root), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, in.Kind)
	}
}

// Close releases the writer and the source. It is safe to call on a nil
// session and more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Writer != nil {
		errs = append(errs, s.Writer.Close())
		s.Writer = nil
	}
	if s.Source != nil {
		errs = append(errs, s.Source.Close())
		s.Source = nil
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logging.OrNop(s.Log).Debug("session: closed")
	return nil
}
