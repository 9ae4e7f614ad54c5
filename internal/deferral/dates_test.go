package deferral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiffMonthsTreatsMonthEndsAsDayThirty(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Time
		want       float64
	}{
		{"same day", DateOf(2024, time.March, 10), DateOf(2024, time.March, 10), 0},
		{"whole month", DateOf(2024, time.January, 15), DateOf(2024, time.February, 15), 1},
		{"jan end to feb end", DateOf(2023, time.January, 31), DateOf(2023, time.February, 28), 1},
		{"leap feb end to mar end", DateOf(2024, time.February, 29), DateOf(2024, time.March, 31), 1},
		{"feb end to mar end", DateOf(2021, time.February, 28), DateOf(2021, time.March, 31), 1},
		{"apr end to may end", DateOf(2021, time.April, 30), DateOf(2021, time.May, 31), 1},
		{"one year", DateOf(2023, time.January, 1), DateOf(2024, time.January, 1), 12},
		{"half month", DateOf(2024, time.January, 15), DateOf(2024, time.January, 30), 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, DiffMonths(tc.start, tc.end), 1e-9)
		})
	}
}

func TestDiffMonthsIsSymmetric(t *testing.T) {
	a, b := DateOf(2024, time.January, 14), DateOf(2024, time.December, 14)
	require.Equal(t, DiffMonths(a, b), DiffMonths(b, a))
	require.InDelta(t, 11, DiffMonths(a, b), 1e-9)
}

func TestDiffMonthsMonthEndAnchoring(t *testing.T) {
	// Jan 31 and Feb 28 both normalise to day 30, so only the month count separates them.
	jan31, feb28, mar1 := DateOf(2023, time.January, 31), DateOf(2023, time.February, 28), DateOf(2023, time.March, 1)
	require.InDelta(t, 1, DiffMonths(jan31, feb28), 1e-9)
	require.InDelta(t, 1, DiffMonths(jan31, mar1)-DiffMonths(feb28, mar1), 1e-9)
}

func TestDateHelpers(t *testing.T) {
	d := time.Date(2024, time.February, 10, 17, 45, 0, 0, time.FixedZone("WIB", 7*3600))
	require.Equal(t, DateOf(2024, time.February, 10), dateOnly(d))
	require.True(t, dateOnly(time.Time{}).IsZero())
	require.Equal(t, DateOf(2024, time.February, 1), startOfMonth(d))
	require.Equal(t, DateOf(2024, time.February, 29), endOfMonth(d))
	require.Equal(t, 28, lastDayOfMonth(DateOf(2023, time.February, 3)))
	require.True(t, sameMonth(DateOf(2024, time.May, 1), DateOf(2024, time.May, 31)))
	require.False(t, sameMonth(DateOf(2024, time.May, 1), DateOf(2023, time.May, 1)))
	require.Equal(t, 366, daysBetween(DateOf(2024, time.January, 1), DateOf(2025, time.January, 1)))
}
