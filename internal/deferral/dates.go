package deferral

import (
	"math"
	"time"
)

// DiffMonths returns the distance between two dates in 30-day months.
// The last day of any month counts as day 30, so February, 30-day and
// 31-day months all weigh the same. The result is symmetric.
func DiffMonths(start, end time.Time) float64 {
	if start.After(end) {
		start, end = end, start
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	days := normalizedDay(end) - normalizedDay(start)
	return float64(months*30+days) / 30
}

func normalizedDay(d time.Time) int {
	if d.Day() == lastDayOfMonth(d) {
		return 30
	}
	return d.Day()
}

func lastDayOfMonth(d time.Time) int {
	return endOfMonth(d).Day()
}

// DateOf builds a UTC calendar date.
func DateOf(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return DateOf(t.Year(), t.Month(), t.Day())
}

func startOfMonth(d time.Time) time.Time {
	return DateOf(d.Year(), d.Month(), 1)
}

func endOfMonth(d time.Time) time.Time {
	return DateOf(d.Year(), d.Month()+1, 1).AddDate(0, 0, -1)
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func daysBetween(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Hours() / 24))
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
