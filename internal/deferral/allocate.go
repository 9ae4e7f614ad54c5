package deferral

import "time"

// PeriodAmount returns the share of balance that falls in [periodStart, periodEnd)
// for a line spanning [lineStart, lineEnd). Rounding is left to the caller.
func PeriodAmount(method Method, periodStart, periodEnd, lineStart, lineEnd time.Time, balance float64) float64 {
	if !periodEnd.After(lineStart) || !periodEnd.After(periodStart) {
		return 0
	}
	switch method {
	case MethodDay:
		lineDays := daysBetween(lineStart, lineEnd)
		if lineDays <= 0 {
			return balance
		}
		perDay := balance / float64(lineDays)
		return float64(daysBetween(periodStart, periodEnd)) * perDay
	case MethodMonth, MethodFullMonths:
		if method == MethodFullMonths {
			lineStart, lineEnd = startOfMonth(lineStart), startOfMonth(lineEnd)
			periodStart, periodEnd = startOfMonth(periodStart), startOfMonth(periodEnd)
		}
		lineDiff := DiffMonths(lineEnd, lineStart)
		if lineDiff == 0 {
			return balance
		}
		return DiffMonths(periodEnd, periodStart) / lineDiff * balance
	}
	return 0
}

// inclusiveAmount allocates balance to the inclusive range [from, to] of a line
// spanning the inclusive range [line.StartDate, line.EndDate].
func inclusiveAmount(method Method, from, to time.Time, line Line) float64 {
	from = maxDate(from, line.StartDate)
	to = minDate(to, line.EndDate)
	if to.Before(from) {
		return 0
	}
	return PeriodAmount(
		method,
		from.AddDate(0, 0, -1), to,
		line.StartDate.AddDate(0, 0, -1), line.EndDate,
		line.Balance.InexactFloat64(),
	)
}
