package types

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the storage format of Exposure.Date and WeeklySummary.WeekOf.
	DateLayout = "2006-01-02"
	// TimeLayout is the storage format of Exposure.Time.
	TimeLayout = "15:04"
)

// ParseDate parses a stored calendar date in the local timezone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// FormatDate renders t as a stored calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// dateTime combines a stored date and optional time. A missing time is
// midnight. Unparseable values yield the zero time, which sorts last.
func dateTime(date, clock string) time.Time {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}
	}
	if clock == "" {
		return d
	}
	c, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return d
	}
	return d.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute)
}

// WeekBounds returns the Sunday 00:00 and the following Saturday 23:59:59.999
// that enclose t, in t's location.
func WeekBounds(t time.Time) (start, end time.Time) {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	start = day.AddDate(0, 0, -int(day.Weekday()))
	end = start.AddDate(0, 0, 7).Add(-time.Millisecond)
	return start, end
}
