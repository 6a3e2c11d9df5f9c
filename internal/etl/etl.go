// Package etl drives one star-schema run: it reads the raw song and log
// records, builds the five tables and writes each one through the session's
// writer.
//
// Stages run in a fixed order and the first failure aborts the run. Tables
// written before the failure keep their new contents; later tables keep
// whatever an earlier run left.
package etl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"staretl/internal/dataset"
	"staretl/internal/datasource/file"
	"staretl/internal/metrics"
	"staretl/internal/reader"
	"staretl/internal/schema"
	"staretl/internal/session"
	"staretl/internal/star"
	"staretl/internal/storage"
)

// Partitioning of the output tables, outermost column first.
var (
	SongsPartitionBy     = []string{"year", "artist_id"}
	TimePartitionBy      = []string{"year", "month"}
	SongplaysPartitionBy = []string{"year", "month"}
)

// TableResult describes one written table.
type TableResult struct {
	Name     string
	Dest     string
	Stats    storage.WriteStats
	Duration time.Duration
}

// Summary reports what a run read and wrote.
type Summary struct {
	SongRecords int
	LogRecords  int
	// UnmatchedPlays counts song-play events dropped by the song join.
	UnmatchedPlays int
	Tables         []TableResult
}

type runner struct {
	sess *session.Session
	job  string
	log  *zap.Logger
	sum  Summary
}

// Run executes the song stage and then the log stage.
func Run(ctx context.Context, sess *session.Session) (Summary, error) {
	job := sess.Spec.Job
	if job == "" {
		job = "etl"
	}
	r := &runner{sess: sess, job: job, log: sess.Log}
	if r.log == nil {
		r.log = zap.NewNop()
	}

	start := time.Now()
	songs, err := r.songStage(ctx)
	if err != nil {
		return r.sum, err
	}
	if err := r.logStage(ctx, songs); err != nil {
		return r.sum, err
	}

	r.log.Info("etl: done",
		zap.Int("song_records", r.sum.SongRecords),
		zap.Int("log_records", r.sum.LogRecords),
		zap.Int("unmatched_plays", r.sum.UnmatchedPlays),
		zap.Duration("elapsed", time.Since(start)))
	return r.sum, nil
}

// songStage builds songs and artists and returns the raw song table for the
// fact join.
func (r *runner) songStage(ctx context.Context) (*dataset.Table, error) {
	tables := r.sess.Spec.Output.Tables
	r.log.Info("etl: processing song data")

	raw, err := r.read(ctx, schema.KindSong, r.sess.Spec.Input.SongGlob, r.sess.Spec.Input.SongList)
	if err != nil {
		return nil, err
	}
	r.sum.SongRecords = raw.Len()
	metrics.RecordRow(r.job, "song_read", int64(raw.Len()))

	songs, err := r.build("songs", func() (*dataset.Table, error) { return star.BuildSongs(raw) })
	if err != nil {
		return nil, err
	}
	if err := r.write(ctx, "songs", tables.Songs, songs, SongsPartitionBy); err != nil {
		return nil, err
	}

	artists, err := r.build("artists", func() (*dataset.Table, error) { return star.BuildArtists(raw) })
	if err != nil {
		return nil, err
	}
	if err := r.write(ctx, "artists", tables.Artists, artists, nil); err != nil {
		return nil, err
	}
	return raw, nil
}

// logStage builds users, time and song_plays.
func (r *runner) logStage(ctx context.Context, songs *dataset.Table) error {
	tables := r.sess.Spec.Output.Tables
	r.log.Info("etl: processing log data")

	raw, err := r.read(ctx, schema.KindLog, r.sess.Spec.Input.LogGlob, r.sess.Spec.Input.LogList)
	if err != nil {
		return err
	}
	r.sum.LogRecords = raw.Len()
	metrics.RecordRow(r.job, "log_read", int64(raw.Len()))

	users, err := r.build("users", func() (*dataset.Table, error) { return star.BuildUsers(raw) })
	if err != nil {
		return err
	}
	if err := r.write(ctx, "users", tables.Users, users, nil); err != nil {
		return err
	}

	timeDim, err := r.build("time", func() (*dataset.Table, error) { return star.DecomposeTime(raw) })
	if err != nil {
		return err
	}
	if err := r.write(ctx, "time", tables.Time, timeDim, TimePartitionBy); err != nil {
		return err
	}

	plays, err := r.build("song_plays", func() (*dataset.Table, error) {
		return star.AssembleSongplays(raw, songs, r.sess.IDs)
	})
	if err != nil {
		return err
	}
	events := raw.Filter(star.IsNextSong).Len()
	r.sum.UnmatchedPlays = events - plays.Len()
	metrics.RecordRow(r.job, "unmatched_plays", int64(r.sum.UnmatchedPlays))
	r.log.Debug("etl: song join",
		zap.Int("events", events), zap.Int("matched", plays.Len()), zap.Int("dropped", r.sum.UnmatchedPlays))

	return r.write(ctx, "song_plays", tables.Songplays, plays, SongplaysPartitionBy)
}

// read loads kind either from the names in listFile or from the files
// matching pattern.
func (r *runner) read(ctx context.Context, kind schema.Kind, pattern, listFile string) (*dataset.Table, error) {
	step := "read_" + string(kind)
	start := time.Now()

	rt := r.sess.Spec.Runtime
	opt := reader.Options{
		Workers:       rt.ReaderWorkers,
		ChannelBuffer: rt.ChannelBuffer,
		Parser:        r.sess.Spec.Parser.Options,
		Logger:        r.log,
	}

	var (
		tbl *dataset.Table
		err error
	)
	if listFile != "" {
		var names []string
		if names, err = file.ReadList(listFile); err == nil {
			r.log.Info("etl: reading from list", zap.String("kind", string(kind)),
				zap.String("list", listFile), zap.Int("files", len(names)))
			tbl, err = reader.ReadFiles(ctx, r.sess.Source, kind, names, opt)
		}
	} else {
		tbl, err = reader.Read(ctx, r.sess.Source, kind, pattern, opt)
	}
	metrics.RecordStep(r.job, step, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return tbl, nil
}

func (r *runner) build(name string, fn func() (*dataset.Table, error)) (*dataset.Table, error) {
	start := time.Now()
	tbl, err := fn()
	metrics.RecordStep(r.job, "build_"+name, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return tbl, nil
}

func (r *runner) write(ctx context.Context, name, dest string, tbl *dataset.Table, partitionBy []string) error {
	r.log.Info("etl: writing table",
		zap.String("table", name), zap.String("dest", dest),
		zap.Int("rows", tbl.Len()), zap.Strings("partition_by", partitionBy))

	start := time.Now()
	st, err := r.sess.Writer.WriteTable(ctx, dest, tbl, partitionBy)
	d := time.Since(start)
	metrics.RecordStep(r.job, "write_"+name, err, d)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	metrics.RecordTable(r.job, name, st.Rows, st.Files)

	r.sum.Tables = append(r.sum.Tables, TableResult{Name: name, Dest: dest, Stats: st, Duration: d})
	return nil
}
