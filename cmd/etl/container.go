// Package main wires the star-schema ETL end-to-end: configuration, logging,
// metrics, the run session and the driver. This file keeps the CLI layer
// thin; storage backends are reached only through the session's writer.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"staretl/internal/config"
	"staretl/internal/etl"
	"staretl/internal/metrics"
	"staretl/internal/metrics/datadog"
	"staretl/internal/metrics/prompush"
	"staretl/internal/session"
	"staretl/internal/storage"
)

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	openSessionFn = session.Open
	runFn         = etl.Run

	newPushBackendFn = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	newDatadogBackendFn = func(cfg datadog.Config) (metrics.Backend, error) {
		return datadog.NewBackend(cfg)
	}
)

// Runtime defaults used when neither the job file nor the environment sets a
// value.
const (
	defaultWriterWorkers = 4
	defaultChannelBuffer = 256
)

// applyRuntimeEnv fills unset runtime knobs from ETL_* environment variables
// (12-factor style), then from built-in defaults. Values in the job file win.
func applyRuntimeEnv(p config.Pipeline) config.Pipeline {
	rt := &p.Runtime
	rt.ReaderWorkers = pickInt(rt.ReaderWorkers, getenvInt("ETL_READER_WORKERS", runtime.NumCPU()))
	rt.WriterWorkers = pickInt(rt.WriterWorkers, getenvInt("ETL_WRITER_WORKERS", defaultWriterWorkers))
	rt.BatchSize = pickInt(rt.BatchSize, getenvInt("ETL_BATCH_SIZE", storage.DefaultBatchSize))
	rt.ChannelBuffer = pickInt(rt.ChannelBuffer, getenvInt("ETL_CH_BUFFER", defaultChannelBuffer))
	if rt.NodeID == 0 {
		rt.NodeID = int64(getenvInt("ETL_NODE_ID", 0))
	}
	return p
}

// metricsOptions selects and configures the metrics backend.
type metricsOptions struct {
	Backend        string // pushgateway, datadog, none
	PushgatewayURL string
	DatadogAddr    string
	Job            string
}

// resolve applies the flag → env → default precedence.
func (o metricsOptions) resolve() metricsOptions {
	if o.Backend == "" {
		o.Backend = os.Getenv("METRICS_BACKEND")
	}
	if o.PushgatewayURL == "" {
		o.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")
	}
	if o.PushgatewayURL == "" {
		o.PushgatewayURL = "http://localhost:9091"
	}
	if o.DatadogAddr == "" {
		o.DatadogAddr = os.Getenv("DD_DOGSTATSD_ADDR")
	}
	if o.DatadogAddr == "" {
		o.DatadogAddr = "127.0.0.1:8125"
	}
	if o.Job == "" {
		o.Job = "etl_job"
	}
	return o
}

// setupMetrics installs the selected backend and returns the function that
// flushes it at exit. A backend that fails to initialize leaves metrics
// disabled; the run itself is never blocked by metrics.
func setupMetrics(opt metricsOptions, log *zap.Logger) func() {
	opt = opt.resolve()
	nop := func() {}

	var (
		b   metrics.Backend
		err error
	)
	switch opt.Backend {
	case "pushgateway":
		b, err = newPushBackendFn(opt.Job, opt.PushgatewayURL)
	case "datadog":
		b, err = newDatadogBackendFn(datadog.Config{
			Addr:       opt.DatadogAddr,
			Namespace:  "staretl.",
			GlobalTags: []string{"job:" + opt.Job},
		})
	case "", "none":
		log.Debug("metrics: disabled")
		return nop
	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", opt.Backend))
		return nop
	}
	if err != nil {
		log.Warn("metrics: backend init failed; using nop", zap.String("backend", opt.Backend), zap.Error(err))
		return nop
	}

	log.Info("metrics: enabled", zap.String("backend", opt.Backend), zap.String("job", opt.Job))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush error", zap.Error(err))
		}
	}
}

// run opens a session for spec, executes the driver and logs a summary.
func run(ctx context.Context, spec config.Pipeline, log *zap.Logger) (err error) {
	spec = applyRuntimeEnv(spec)
	log.Info("pipeline: runtime",
		zap.Int("readers", spec.Runtime.ReaderWorkers),
		zap.Int("writers", spec.Runtime.WriterWorkers),
		zap.Int("batch", spec.Runtime.BatchSize),
		zap.Int("buffer", spec.Runtime.ChannelBuffer),
		zap.Int64("node_id", spec.Runtime.NodeID))

	sess, err := openSessionFn(ctx, spec, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}()

	start := time.Now()
	sum, err := runFn(ctx, sess)
	if err != nil {
		return err
	}
	logSummary(log, sum, time.Since(start))
	return nil
}

func logSummary(log *zap.Logger, sum etl.Summary, elapsed time.Duration) {
	for _, t := range sum.Tables {
		log.Info("summary: table",
			zap.String("table", t.Name),
			zap.String("dest", t.Dest),
			zap.Int64("rows", t.Stats.Rows),
			zap.Int("partitions", t.Stats.Segments),
			zap.Int("files", t.Stats.Files),
			zap.String("size", humanize.Bytes(uint64(t.Stats.Bytes))),
			zap.Duration("took", t.Duration.Truncate(time.Millisecond)))
	}
	log.Info("summary: run",
		zap.Int("song_records", sum.SongRecords),
		zap.Int("log_records", sum.LogRecords),
		zap.Int("unmatched_plays", sum.UnmatchedPlays),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)))
}

func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
