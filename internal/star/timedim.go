package star

import (
	"math"
	"time"

	"staretl/internal/dataset"
	"staretl/internal/schema"
)

// NextSongPage is the log page value of a song-play event.
const NextSongPage = "NextSong"

// IsNextSong reports whether a log row is a song-play event. The time and
// fact builders both filter with it.
func IsNextSong(r dataset.Row) bool {
	page, _ := r.Get("page").(string)
	return page == NextSongPage
}

// StartTime converts a log ts, epoch milliseconds as a float, to a UTC
// instant with microsecond precision. Zero and negative values are valid.
func StartTime(ts float64) time.Time {
	return time.UnixMicro(int64(math.Round(ts * 1000))).UTC()
}

// startTimeOf is the start_time column function; a NULL or non-finite ts has
// no start time.
func startTimeOf(r dataset.Row) any {
	ts, ok := r.Get("ts").(float64)
	if !ok || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil
	}
	return StartTime(ts)
}

// Calendar holds the calendar fields of an instant.
type Calendar struct {
	Hour    int32
	Day     int32
	Week    int32 // ISO 8601 week of year
	Month   int32
	Year    int32
	Weekday int32 // ISO 8601: 1 = Monday .. 7 = Sunday
}

// CalendarOf derives the calendar fields of t in UTC.
func CalendarOf(t time.Time) Calendar {
	t = t.UTC()
	_, week := t.ISOWeek()
	wd := int32(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return Calendar{
		Hour:    int32(t.Hour()),
		Day:     int32(t.Day()),
		Week:    int32(week),
		Month:   int32(t.Month()),
		Year:    int32(t.Year()),
		Weekday: wd,
	}
}

// calendarColumn returns a column function extracting one calendar field from
// start_time.
func calendarColumn(field func(Calendar) int32) func(dataset.Row) any {
	return func(r dataset.Row) any {
		t, ok := r.Get("start_time").(time.Time)
		if !ok {
			return nil
		}
		return field(CalendarOf(t))
	}
}

var (
	hourOf    = calendarColumn(func(c Calendar) int32 { return c.Hour })
	dayOf     = calendarColumn(func(c Calendar) int32 { return c.Day })
	weekOf    = calendarColumn(func(c Calendar) int32 { return c.Week })
	monthOf   = calendarColumn(func(c Calendar) int32 { return c.Month })
	yearOf    = calendarColumn(func(c Calendar) int32 { return c.Year })
	weekdayOf = calendarColumn(func(c Calendar) int32 { return c.Weekday })
)

// TimeColumns are the time dimension columns in output order.
var TimeColumns = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}

// DecomposeTime builds the time dimension: one row per distinct start_time of
// the song-play events in logs. Events without a ts are skipped.
func DecomposeTime(logs *dataset.Table) (*dataset.Table, error) {
	t, err := logs.Filter(IsNextSong).WithColumn("start_time", schema.Timestamp, startTimeOf)
	if err != nil {
		return nil, err
	}
	t = t.Filter(func(r dataset.Row) bool { return r.Get("start_time") != nil })

	derived := []struct {
		name string
		fn   func(dataset.Row) any
	}{
		{"hour", hourOf},
		{"day", dayOf},
		{"week", weekOf},
		{"month", monthOf},
		{"year", yearOf},
		{"weekday", weekdayOf},
	}
	for _, d := range derived {
		if t, err = t.WithColumn(d.name, schema.Int32, d.fn); err != nil {
			return nil, err
		}
	}

	sel := make([]dataset.Selection, len(TimeColumns))
	for i, c := range TimeColumns {
		sel[i] = dataset.Col(c)
	}
	out, err := t.Select(sel...)
	if err != nil {
		return nil, err
	}
	return out.Distinct(), nil
}
