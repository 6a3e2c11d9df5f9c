package star

import (
	"sync"

	"github.com/bwmarrin/snowflake"

	"staretl/internal/dataset"
	"staretl/internal/schema"
)

// IDSource hands out surrogate keys that are unique within a run.
type IDSource interface {
	NextID() int64
}

// SnowflakeIDs adapts a snowflake node to IDSource.
type SnowflakeIDs struct{ Node *snowflake.Node }

// NextID returns the next snowflake id.
func (s SnowflakeIDs) NextID() int64 { return s.Node.Generate().Int64() }

// SequenceIDs is an IDSource counting up from 1. It is safe for concurrent
// use.
type SequenceIDs struct {
	mu   sync.Mutex
	last int64
}

// NextID returns the next number in the sequence.
func (s *SequenceIDs) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// SongplayColumns are the song_plays output columns in order.
var SongplayColumns = []ColumnSpec{
	{Source: "songplay_id"},
	{Source: "start_time"},
	{Source: "userId"},
	{Source: "level"},
	{Source: "song_id"},
	{Source: "artist_id"},
	{Source: "sessionId"},
	{Source: "location"},
	{Source: "userAgent"},
	{Source: "month"},
	{Source: "year"},
}

// AssembleSongplays builds the song_plays fact table. Song-play events in logs
// are inner-joined to songs on artist name, song title and exact duration;
// events without a match are dropped. Each surviving event gets a fresh id
// from ids.
func AssembleSongplays(logs, songs *dataset.Table, ids IDSource) (*dataset.Table, error) {
	songSide, err := songs.Select(
		dataset.Col("song_id"),
		dataset.Col("artist_id"),
		dataset.Col("artist_name"),
		dataset.Col("title"),
		dataset.Col("duration"),
	)
	if err != nil {
		return nil, err
	}

	t, err := logs.Filter(IsNextSong).Join(songSide,
		dataset.On{Left: "artist", Right: "artist_name"},
		dataset.On{Left: "song", Right: "title"},
		dataset.On{Left: "length", Right: "duration"},
	)
	if err != nil {
		return nil, err
	}

	steps := []struct {
		name string
		typ  schema.Type
		fn   func(dataset.Row) any
	}{
		{"start_time", schema.Timestamp, startTimeOf},
		{"songplay_id", schema.Int64, func(dataset.Row) any { return ids.NextID() }},
		{"month", schema.Int32, monthOf},
		{"year", schema.Int32, yearOf},
	}
	for _, s := range steps {
		if t, err = t.WithColumn(s.name, s.typ, s.fn); err != nil {
			return nil, err
		}
	}

	return t.Select(selections(SongplayColumns)...)
}

func selections(specs []ColumnSpec) []dataset.Selection {
	sel := make([]dataset.Selection, len(specs))
	for i, s := range specs {
		sel[i] = dataset.ColAs(s.Source, s.Name())
	}
	return sel
}
