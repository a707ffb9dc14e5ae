// Package clockutil provides the floor/ceil-to-hour and local-date
// arithmetic every engine anchors its windows to (§2, §4.3).
package clockutil

import "time"

// FloorHourUTC returns the top of the UTC hour containing t.
func FloorHourUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// CeilHourUTC returns the next top-of-hour UTC strictly after t, unless t is
// already exactly on an hour boundary, in which case t itself is returned.
func CeilHourUTC(t time.Time) time.Time {
	floor := FloorHourUTC(t)
	if floor.Equal(t.UTC()) {
		return floor
	}
	return floor.Add(time.Hour)
}

// FloorHourLocal returns the top of the hour containing t, in loc.
func FloorHourLocal(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), 0, 0, 0, loc)
}

// LocalDateString formats t's calendar date in loc as "YYYY-MM-DD".
func LocalDateString(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// MidnightLocal returns local midnight for the date t falls on, in loc.
func MidnightLocal(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// WeekStartLocal returns local midnight of the most recent day whose
// weekday equals dow (1=Monday..7=Sunday, ISO convention), at or before t.
func WeekStartLocal(t time.Time, loc *time.Location, dow int) time.Time {
	midnight := MidnightLocal(t, loc)
	wd := isoWeekday(midnight.Weekday())
	back := wd - dow
	if back < 0 {
		back += 7
	}
	return midnight.AddDate(0, 0, -back)
}

func isoWeekday(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}
