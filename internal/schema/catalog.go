// Package schema holds the fixed column catalog for the two raw record shapes
// the pipeline reads: song metadata records and user-activity log records.
//
// The catalog is static configuration. Field order is significant: the raw
// reader emits columns in exactly this order.
package schema

import (
	"errors"
	"fmt"
)

// Type is the semantic type of a catalog field.
type Type string

const (
	Text      Type = "text"
	Double    Type = "double"
	Float     Type = "float"
	Int32     Type = "int32"
	Int64     Type = "int64"
	Timestamp Type = "timestamp"
)

// Kind identifies a raw record shape.
type Kind string

const (
	KindSong Kind = "song"
	KindLog  Kind = "log"
)

// ErrUnknownKind is returned by Catalog for kinds other than song and log.
var ErrUnknownKind = errors.New("schema: unknown record kind")

// Field describes one column of a raw record.
type Field struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable"`
}

// SongRecord returns the song record fields in catalog order.
func SongRecord() []Field {
	return []Field{
		{Name: "artist_id", Type: Text},
		{Name: "artist_latitude", Type: Double, Nullable: true},
		{Name: "artist_longitude", Type: Double, Nullable: true},
		{Name: "artist_location", Type: Text, Nullable: true},
		{Name: "artist_name", Type: Text, Nullable: true},
		{Name: "song_id", Type: Text},
		{Name: "title", Type: Text, Nullable: true},
		{Name: "duration", Type: Double, Nullable: true},
		{Name: "year", Type: Int32, Nullable: true},
		{Name: "num_songs", Type: Int32, Nullable: true},
	}
}

// LogRecord returns the activity log record fields in catalog order. Keys are
// the raw JSON keys of the log files; renaming happens in the dimension
// builder.
func LogRecord() []Field {
	return []Field{
		{Name: "artist", Type: Text, Nullable: true},
		{Name: "auth", Type: Text, Nullable: true},
		{Name: "firstName", Type: Text, Nullable: true},
		{Name: "gender", Type: Text, Nullable: true},
		{Name: "itemInSession", Type: Int64, Nullable: true},
		{Name: "lastName", Type: Text, Nullable: true},
		{Name: "length", Type: Double, Nullable: true},
		{Name: "level", Type: Text, Nullable: true},
		{Name: "location", Type: Text, Nullable: true},
		{Name: "method", Type: Text, Nullable: true},
		{Name: "page", Type: Text, Nullable: true},
		{Name: "registration", Type: Double, Nullable: true},
		{Name: "sessionId", Type: Int32, Nullable: true},
		{Name: "song", Type: Text, Nullable: true},
		{Name: "status", Type: Int32, Nullable: true},
		{Name: "ts", Type: Double, Nullable: true},
		{Name: "userAgent", Type: Text, Nullable: true},
		{Name: "userId", Type: Text, Nullable: true},
	}
}

// Catalog returns the fields for kind.
func Catalog(kind Kind) ([]Field, error) {
	switch kind {
	case KindSong:
		return SongRecord(), nil
	case KindLog:
		return LogRecord(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Names returns the field names in order.
func Names(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// Valid reports whether t is one of the known semantic types.
func (t Type) Valid() bool {
	switch t {
	case Text, Double, Float, Int32, Int64, Timestamp:
		return true
	}
	return false
}
