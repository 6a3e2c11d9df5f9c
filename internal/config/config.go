// Package config defines the JSON-serializable configuration model for the
// star-schema ETL job. A job file is decoded with the standard library; the
// Options helper gives typed access to free-form option maps.
//
// Example (trimmed):
//
//	{
//	  "job":    "sparkify_star",
//	  "input":  { "kind": "file", "root": "data" },
//	  "parser": { "kind": "json", "options": { "normalize_unicode": true } },
//	  "output": { "kind": "local", "root": "out" },
//	  "runtime": { "reader_workers": 8, "batch_size": 5000 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Default input globs: song files nest three directories deep, log files two.
const (
	DefaultSongGlob = "song_data/*/*/*/*.json"
	DefaultLogGlob  = "log_data/*/*/*.json"
)

// Pipeline is the top-level job configuration.
type Pipeline struct {
	// Job names the run for logs and metrics.
	Job string `json:"job"`

	Input       Input         `json:"input"`
	Parser      Parser        `json:"parser"`
	Output      Output        `json:"output"`
	Credentials Credentials   `json:"credentials"`
	Runtime     RuntimeConfig `json:"runtime"`
	Logging     Logging       `json:"logging"`
}

// Input locates the raw song and log files.
type Input struct {
	// Kind selects the source: "file" or "s3".
	Kind string `json:"kind"`
	// Root is a directory for "file" and a key prefix for "s3".
	Root string `json:"root"`

	SongGlob string `json:"song_glob"`
	LogGlob  string `json:"log_glob"`

	// SongList and LogList optionally name list files (one input name per
	// line) that replace glob matching.
	SongList string `json:"song_list"`
	LogList  string `json:"log_list"`

	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
}

// Parser selects how raw bytes are turned into records.
type Parser struct {
	// Kind selects the parser implementation. Current value: "json".
	Kind string `json:"kind"`

	// Options is interpreted by the parser and reader:
	//   normalize_unicode (bool), drop_invalid (bool),
	//   unwrap_envelope (bool), header_map (object)
	Options Options `json:"options"`
}

// Output selects where the star-schema tables are written.
type Output struct {
	// Kind selects the writer backend: local, s3, minio, postgres, sqlite,
	// mssql.
	Kind string `json:"kind"`
	// Root is a directory for local, a key prefix for object stores and a
	// table-name prefix for SQL sinks.
	Root string `json:"root"`
	// Compress gzips part files written by file-like backends.
	Compress bool `json:"compress"`

	DSN      string `json:"dsn"`
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
	UseSSL   bool   `json:"use_ssl"`

	Tables TableNames `json:"tables"`
}

// TableNames overrides the destination name of each output table.
type TableNames struct {
	Songs     string `json:"songs"`
	Artists   string `json:"artists"`
	Users     string `json:"users"`
	Time      string `json:"time"`
	Songplays string `json:"song_plays"`
}

// WithDefaults fills empty names with the table names.
func (t TableNames) WithDefaults() TableNames {
	def := func(s, d string) string {
		if s == "" {
			return d
		}
		return s
	}
	return TableNames{
		Songs:     def(t.Songs, "songs"),
		Artists:   def(t.Artists, "artists"),
		Users:     def(t.Users, "users"),
		Time:      def(t.Time, "time"),
		Songplays: def(t.Songplays, "song_plays"),
	}
}

// All returns the five names in write order.
func (t TableNames) All() []string {
	return []string{t.Songs, t.Artists, t.Users, t.Time, t.Songplays}
}

// Credentials points at the object-storage access keys.
type Credentials struct {
	// File is a KEY=VALUE file (optionally with [section] headers) holding
	// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
	File string `json:"file"`
}

// RuntimeConfig controls concurrency and batching.
type RuntimeConfig struct {
	ReaderWorkers int `json:"reader_workers"`
	WriterWorkers int `json:"writer_workers"`
	BatchSize     int `json:"batch_size"`
	ChannelBuffer int `json:"channel_buffer"`
	// NodeID is the snowflake node used for songplay_id (0..1023).
	NodeID int64 `json:"node_id"`
}

// Logging configures the process logger.
type Logging struct {
	Level       string `json:"level"`
	Encoding    string `json:"encoding"`
	Development bool   `json:"development"`
}

// WithDefaults returns a copy of p with empty optional fields filled in.
func (p Pipeline) WithDefaults() Pipeline {
	if p.Input.Kind == "" {
		p.Input.Kind = "file"
	}
	if p.Input.SongGlob == "" {
		p.Input.SongGlob = DefaultSongGlob
	}
	if p.Input.LogGlob == "" {
		p.Input.LogGlob = DefaultLogGlob
	}
	if p.Parser.Kind == "" {
		p.Parser.Kind = "json"
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	if p.Output.Kind == "" {
		p.Output.Kind = "local"
	}
	p.Output.Tables = p.Output.Tables.WithDefaults()
	return p
}

// Load reads and decodes the job file at path and applies defaults.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p.WithDefaults(), nil
}

// Options is a small helper to fetch typed values from arbitrary JSON maps. It
// performs no type coercion and returns the provided default when a key is
// absent or of an unexpected type.
type Options map[string]any

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Any returns the raw value for key (which may itself be a nested
// map[string]any, []any, or primitive).
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map. This simplifies call
// sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
