package deferral

import "time"

// BuildPeriods splits the inclusive range [start, end] into calendar-month
// buckets. A single bucket in the same month as accountingDate would be
// reversed within the period it is posted in, so it is reported as NoDeferral.
func BuildPeriods(start, end, accountingDate time.Time) Plan {
	start, end = dateOnly(start), dateOnly(end)
	var periods Periods
	for cursor := start; !cursor.After(end); {
		monthEnd := endOfMonth(cursor)
		periods = append(periods, Period{Start: cursor, End: minDate(monthEnd, end), Label: LabelMonth})
		cursor = monthEnd.AddDate(0, 0, 1)
	}
	if len(periods) == 0 {
		return NoDeferral{Reason: SkipNoPeriods}
	}
	if len(periods) == 1 && sameMonth(periods[0].Start, accountingDate) {
		return NoDeferral{Reason: SkipSameMonth}
	}
	return periods
}

var (
	reportFloor   = DateOf(1900, time.January, 1)
	reportCeiling = DateOf(9999, time.December, 31)
)

// BuildReportPeriods returns the columns of a deferral report for [from, to]:
// total, not started, before, one current column per month, and later.
func BuildReportPeriods(from, to time.Time) ([]Period, error) {
	from, to = dateOnly(from), dateOnly(to)
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	dayAfter := to.AddDate(0, 0, 1)
	periods := []Period{
		{Start: reportFloor, End: reportCeiling, Label: LabelTotal},
		{Start: dayAfter, End: reportCeiling, Label: LabelNotStarted},
		{Start: reportFloor, End: from.AddDate(0, 0, -1), Label: LabelBefore},
	}
	for cursor := from; !cursor.After(to); {
		monthEnd := endOfMonth(cursor)
		periods = append(periods, Period{Start: cursor, End: minDate(monthEnd, to), Label: LabelCurrent})
		cursor = monthEnd.AddDate(0, 0, 1)
	}
	periods = append(periods, Period{Start: dayAfter, End: reportCeiling, Label: LabelLater})
	return periods, nil
}
