// Package metrics records operational metrics from the star-schema ETL.
//
// Callers use the Record* helpers; the concrete system (Pushgateway,
// DogStatsD) is installed once at startup with SetBackend. The default
// backend discards everything, so instrumentation is always safe to call.
package metrics

import "time"

// Metric names emitted by the Record* helpers.
const (
	StepTotal       = "etl_step_total"
	StepDuration    = "etl_step_duration_seconds"
	RecordsTotal    = "etl_records_total"
	TableRowsTotal  = "etl_table_rows_total"
	TableFilesTotal = "etl_table_files_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a pipeline step and observes its
// duration, labelled with success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Kinds used by the pipeline:
//   - "song_read", "log_read": records decoded from input files
//   - "unmatched_plays": NextSong events with no matching song
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordTable counts the rows and files written for one output table.
func RecordTable(job, table string, rows int64, files int) {
	lbls := Labels{
		"job":   job,
		"table": table,
	}
	if rows > 0 {
		backend.IncCounter(TableRowsTotal, float64(rows), lbls)
	}
	if files > 0 {
		backend.IncCounter(TableFilesTotal, float64(files), lbls)
	}
}
