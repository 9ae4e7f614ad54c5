package deferral

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func reportLines() []Line {
	return []Line{
		{ID: 1, AccountID: 600, Balance: decimal.RequireFromString("1200"), StartDate: DateOf(2024, time.January, 15), EndDate: DateOf(2024, time.December, 14)},
		{ID: 2, AccountID: 600, Balance: decimal.RequireFromString("300"), StartDate: DateOf(2024, time.June, 1), EndDate: DateOf(2024, time.August, 31)},
		{ID: 3, AccountID: 500, Balance: decimal.RequireFromString("100"), StartDate: DateOf(2024, time.March, 1), EndDate: DateOf(2024, time.March, 20)},
	}
}

func TestBuildReportColumnsAddUpToTotal(t *testing.T) {
	report, err := BuildReport(MethodMonth, "USD", DateOf(2024, time.March, 1), DateOf(2024, time.May, 31), reportLines())
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	require.Equal(t, int64(500), report.Rows[0].AccountID)
	require.Equal(t, int64(600), report.Rows[1].AccountID)

	for _, row := range append(report.Rows, ReportRow{AccountID: -1, Amounts: report.Totals}) {
		var total, parts decimal.Decimal
		for i, p := range report.Periods {
			if p.Label == LabelTotal {
				total = row.Amounts[i]
				continue
			}
			parts = parts.Add(row.Amounts[i])
		}
		require.True(t, total.Equal(parts), "account %d: total %s, columns %s", row.AccountID, total, parts)
	}
	require.Equal(t, "1600", report.Totals[0].String())
}

func TestBuildReportNotStartedLines(t *testing.T) {
	report, err := BuildReport(MethodMonth, "USD", DateOf(2024, time.March, 1), DateOf(2024, time.April, 30), reportLines())
	require.NoError(t, err)

	notStarted := report.Periods[1]
	later := report.Periods[len(report.Periods)-1]
	require.Equal(t, LabelNotStarted, notStarted.Label)
	require.Equal(t, LabelLater, later.Label)

	cell := report.Cell(ReportKey{AccountID: 600, PeriodStart: notStarted.Start, PeriodEnd: notStarted.End, Label: LabelNotStarted})
	require.Equal(t, "300", cell.String())
	march := report.Cell(ReportKey{AccountID: 500, PeriodStart: DateOf(2024, time.March, 1), PeriodEnd: DateOf(2024, time.March, 31), Label: LabelCurrent})
	require.Equal(t, "100", march.String())
}

func TestBuildReportBeforeColumn(t *testing.T) {
	line := reportLines()[0]
	report, err := BuildReport(MethodMonth, "USD", DateOf(2024, time.February, 1), DateOf(2024, time.February, 29), []Line{line})
	require.NoError(t, err)

	before := report.Cell(ReportKey{AccountID: 600, PeriodStart: reportFloor, PeriodEnd: DateOf(2024, time.January, 31), Label: LabelBefore})
	require.Equal(t, "58.18", before.StringFixed(2))
	feb := report.Cell(ReportKey{AccountID: 600, PeriodStart: DateOf(2024, time.February, 1), PeriodEnd: DateOf(2024, time.February, 29), Label: LabelCurrent})
	require.Equal(t, "109.09", feb.StringFixed(2))
	later := report.Cell(ReportKey{AccountID: 600, PeriodStart: DateOf(2024, time.March, 1), PeriodEnd: reportCeiling, Label: LabelLater})
	require.Equal(t, "1032.73", later.StringFixed(2))
}

func TestBuildReportFlagsAbnormalLines(t *testing.T) {
	report, err := BuildReport(MethodDay, "USD", DateOf(2024, time.January, 1), DateOf(2024, time.December, 31), reportLines())
	require.NoError(t, err)
	require.Equal(t, []int64{3}, report.Abnormal)
}

func TestBuildReportValidatesInput(t *testing.T) {
	_, err := BuildReport("weekly", "USD", DateOf(2024, time.January, 1), DateOf(2024, time.January, 31), nil)
	require.ErrorIs(t, err, ErrInvalidMethod)
	_, err = BuildReport(MethodMonth, "USD", DateOf(2024, time.February, 1), DateOf(2024, time.January, 31), nil)
	require.ErrorIs(t, err, ErrInvalidRange)
}
