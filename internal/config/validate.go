// Package config provides configuration models and helpers for the ETL job.
//
// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"staretl/internal/logging"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// MaxNodeID is the largest snowflake node number.
const MaxNodeID = 1023

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "output.kind",
// "input.song_glob"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not. Defaults are
// expected to have been applied (Load does this).
//
// Example:
//
//	p, err := config.Load(path)
//	if err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateInput(p.Input)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateOutput(p.Output)...)
	issues = append(issues, validateCredentials(p.Credentials)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateLogging(p.Logging)...)

	return issues
}

func validateInput(in Input) []Issue {
	var issues []Issue

	switch in.Kind {
	case "file":
		if strings.TrimSpace(in.Root) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "input.root",
				Message:  "file input requires a non-empty root directory",
			})
		}
	case "s3":
		if strings.TrimSpace(in.Bucket) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "input.bucket",
				Message:  "s3 input requires a bucket",
			})
		}
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.kind",
			Message:  "input.kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.kind",
			Message:  fmt.Sprintf("unknown input kind %q; want file or s3", in.Kind),
		})
	}

	for _, g := range []struct{ path, pattern, list string }{
		{"input.song_glob", in.SongGlob, in.SongList},
		{"input.log_glob", in.LogGlob, in.LogList},
	} {
		if g.list != "" {
			continue
		}
		if !doublestar.ValidatePattern(g.pattern) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     g.path,
				Message:  fmt.Sprintf("invalid glob pattern %q", g.pattern),
			})
		}
	}

	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "json" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only json is implemented", p.Kind),
		})
	}
	if hm := p.Options.Any("header_map"); hm != nil {
		if _, ok := hm.(map[string]any); !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "parser.options.header_map",
				Message:  "header_map must be an object of source key to column name",
			})
		}
	}

	return issues
}

var knownOutputs = map[string]struct{}{
	"local":    {},
	"s3":       {},
	"minio":    {},
	"postgres": {},
	"sqlite":   {},
	"mssql":    {},
}

func validateOutput(o Output) []Issue {
	var issues []Issue

	if strings.TrimSpace(o.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.kind",
			Message:  "output.kind must not be empty",
		})
	}
	if _, ok := knownOutputs[o.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "output.kind",
			Message:  fmt.Sprintf("unknown output kind %q; ensure a matching writer is registered", o.Kind),
		})
	}

	switch o.Kind {
	case "local":
		if strings.TrimSpace(o.Root) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.root",
				Message:  "local output requires a non-empty root directory",
			})
		}
	case "s3", "minio":
		if strings.TrimSpace(o.Bucket) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.bucket",
				Message:  fmt.Sprintf("%s output requires a bucket", o.Kind),
			})
		}
		if o.Kind == "minio" && strings.TrimSpace(o.Endpoint) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.endpoint",
				Message:  "minio output requires an endpoint",
			})
		}
	case "postgres", "sqlite", "mssql":
		if strings.TrimSpace(o.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.dsn",
				Message:  fmt.Sprintf("%s output requires a dsn", o.Kind),
			})
		}
		if o.Compress {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "output.compress",
				Message:  "compress has no effect on SQL outputs",
			})
		}
	}

	seen := map[string]bool{}
	for _, name := range o.Tables.WithDefaults().All() {
		if seen[name] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.tables",
				Message:  fmt.Sprintf("table name %q is used more than once", name),
			})
		}
		seen[name] = true
	}

	return issues
}

func validateCredentials(c Credentials) []Issue {
	if c.File == "" {
		return nil
	}
	if _, err := os.Stat(c.File); err != nil {
		msg := fmt.Sprintf("cannot stat credentials file: %v", err)
		if errors.Is(err, fs.ErrNotExist) {
			msg = fmt.Sprintf("credentials file %s does not exist", c.File)
		}
		return []Issue{{Severity: SeverityError, Path: "credentials.file", Message: msg}}
	}
	return nil
}

// validateRuntime validates RuntimeConfig for obvious misconfigurations
// (negative values, zero-sized batches, etc.). Zero worker counts mean
// "use the default".
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; the default batch size will be used", r.BatchSize),
		})
	}
	for _, f := range []struct {
		path string
		v    int
	}{
		{"runtime.reader_workers", r.ReaderWorkers},
		{"runtime.writer_workers", r.WriterWorkers},
		{"runtime.channel_buffer", r.ChannelBuffer},
	} {
		if f.v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     f.path,
				Message:  fmt.Sprintf("%s must not be negative", strings.TrimPrefix(f.path, "runtime.")),
			})
		}
	}
	if r.NodeID < 0 || r.NodeID > MaxNodeID {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.node_id",
			Message:  fmt.Sprintf("node_id=%d is outside 0..%d", r.NodeID, MaxNodeID),
		})
	}

	return issues
}

func validateLogging(l Logging) []Issue {
	var issues []Issue
	if !logging.ValidLevel(l.Level) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "logging.level",
			Message:  fmt.Sprintf("unknown log level %q", l.Level),
		})
	}
	switch strings.ToLower(l.Encoding) {
	case "", "console", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "logging.encoding",
			Message:  fmt.Sprintf("unknown encoding %q; console will be used", l.Encoding),
		})
	}
	return issues
}
