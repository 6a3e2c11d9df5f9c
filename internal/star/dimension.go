// Package star builds the star-schema tables from raw song and log tables:
// the songs, artists, users and time dimensions and the song_plays fact.
//
// Every builder is a pure function of its input tables.
package star

import (
	"github.com/iancoleman/strcase"

	"staretl/internal/dataset"
)

// ColumnSpec maps a source column to an output column. An empty Output keeps
// the value and renames the column to the snake_case form of Source.
type ColumnSpec struct {
	Source string
	Output string
}

// Name returns the output column name.
func (c ColumnSpec) Name() string {
	if c.Output != "" {
		return c.Output
	}
	return strcase.ToSnake(c.Source)
}

var (
	// SongColumns project the raw song table onto the songs dimension.
	SongColumns = []ColumnSpec{
		{Source: "song_id"},
		{Source: "title"},
		{Source: "artist_id"},
		{Source: "year"},
		{Source: "duration"},
	}

	// ArtistColumns project the raw song table onto the artists dimension.
	ArtistColumns = []ColumnSpec{
		{Source: "artist_id"},
		{Source: "artist_name", Output: "name"},
		{Source: "artist_location", Output: "location"},
		{Source: "artist_latitude", Output: "latitude"},
		{Source: "artist_longitude", Output: "longitude"},
	}

	// UserColumns project the raw log table onto the users dimension.
	UserColumns = []ColumnSpec{
		{Source: "userId"},
		{Source: "firstName"},
		{Source: "lastName"},
		{Source: "gender"},
		{Source: "level"},
	}
)

// BuildDimension projects tbl onto specs, in order, and removes rows that are
// equal in every projected column. Row order is not significant.
func BuildDimension(tbl *dataset.Table, specs []ColumnSpec) (*dataset.Table, error) {
	proj, err := tbl.Select(selections(specs)...)
	if err != nil {
		return nil, err
	}
	return proj.Distinct(), nil
}

// BuildSongs builds the songs dimension from raw song records.
func BuildSongs(songs *dataset.Table) (*dataset.Table, error) {
	return BuildDimension(songs, SongColumns)
}

// BuildArtists builds the artists dimension from raw song records. Rows are
// distinct as a whole; one artist_id with differing metadata yields several
// rows.
func BuildArtists(songs *dataset.Table) (*dataset.Table, error) {
	return BuildDimension(songs, ArtistColumns)
}

// BuildUsers builds the users dimension from the song-play events of the raw
// log. A user seen at two levels yields two rows.
func BuildUsers(logs *dataset.Table) (*dataset.Table, error) {
	return BuildDimension(logs.Filter(IsNextSong), UserColumns)
}
