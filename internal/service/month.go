package service

import "time"

// MonthKey returns the first day of the calendar month containing t as seen
// in loc. The result is a date at midnight UTC, matching a DATE column.
func MonthKey(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthRange returns the half-open instant range [from, to) covered by the
// month key in loc.
func MonthRange(month time.Time, loc *time.Location) (time.Time, time.Time) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	return from.UTC(), from.AddDate(0, 1, 0).UTC()
}

// ParseMonth parses a YYYY-MM month key.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, BadInput("invalid_month")
	}
	return t, nil
}
