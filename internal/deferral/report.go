package deferral

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ReportKey identifies one aggregated cell of the deferral report.
type ReportKey struct {
	AccountID   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Label       PeriodLabel
}

// ReportRow holds one account's amounts, aligned with Report.Periods.
type ReportRow struct {
	AccountID int64             `json:"account_id"`
	Amounts   []decimal.Decimal `json:"amounts"`
}

// Report is the amortisation schedule of a set of lines over report periods.
type Report struct {
	Direction Direction         `json:"direction"`
	Method    Method            `json:"method"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Periods   []Period          `json:"periods"`
	Rows      []ReportRow       `json:"rows"`
	Totals    []decimal.Decimal `json:"totals"`
	Abnormal  []int64           `json:"abnormal_line_ids,omitempty"`
}

// Cell returns the aggregated amount for key.
func (r Report) Cell(key ReportKey) decimal.Decimal {
	for _, row := range r.Rows {
		if row.AccountID != key.AccountID {
			continue
		}
		for i, p := range r.Periods {
			if p.Label == key.Label && p.Start.Equal(key.PeriodStart) && p.End.Equal(key.PeriodEnd) {
				return row.Amounts[i]
			}
		}
	}
	return decimal.Zero
}

// orderedSums accumulates amounts per ReportKey, remembering insertion order.
type orderedSums struct {
	keys []ReportKey
	sums map[ReportKey]decimal.Decimal
}

func newOrderedSums() *orderedSums {
	return &orderedSums{sums: make(map[ReportKey]decimal.Decimal)}
}

func (o *orderedSums) add(key ReportKey, amount decimal.Decimal) {
	current, ok := o.sums[key]
	if !ok {
		o.keys = append(o.keys, key)
	}
	o.sums[key] = current.Add(amount)
}

// BuildReport allocates every line over the report columns for [from, to] and
// aggregates the result per account. For each line the later column absorbs
// rounding so that before, current, later and not started add up to total.
func BuildReport(method Method, currency string, from, to time.Time, lines []Line) (Report, error) {
	if !method.Valid() {
		return Report{}, ErrInvalidMethod
	}
	periods, err := BuildReportPeriods(from, to)
	if err != nil {
		return Report{}, err
	}
	places := CurrencyPrecision(currency)
	report := Report{Method: method, From: dateOnly(from), To: dateOnly(to), Periods: periods}
	sums := newOrderedSums()
	for _, raw := range lines {
		line, clamped := normalizeLine(raw)
		if clamped || abnormalRange(line) {
			report.Abnormal = append(report.Abnormal, line.ID)
		}
		amounts := lineColumns(method, line, periods, report.To, places)
		for i, p := range periods {
			sums.add(ReportKey{AccountID: line.AccountID, PeriodStart: p.Start, PeriodEnd: p.End, Label: p.Label}, amounts[i])
		}
	}
	report.Rows, report.Totals = collectRows(sums, periods)
	return report, nil
}

func lineColumns(method Method, line Line, periods []Period, to time.Time, places int32) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(periods))
	notStarted := line.StartDate.After(to)
	allocated := decimal.Zero
	laterIdx := -1
	for i, p := range periods {
		switch p.Label {
		case LabelTotal:
			amounts[i] = line.Balance
			continue
		case LabelNotStarted:
			if notStarted {
				amounts[i] = line.Balance
				allocated = allocated.Add(line.Balance)
			}
			continue
		case LabelLater:
			laterIdx = i
			continue
		}
		if notStarted {
			continue
		}
		amount := decimal.NewFromFloat(inclusiveAmount(method, p.Start, p.End, line)).Round(places)
		amounts[i] = amount
		allocated = allocated.Add(amount)
	}
	if laterIdx >= 0 {
		amounts[laterIdx] = line.Balance.Sub(allocated)
	}
	return amounts
}

func collectRows(sums *orderedSums, periods []Period) ([]ReportRow, []decimal.Decimal) {
	index := make(map[int64]int)
	var rows []ReportRow
	for _, key := range sums.keys {
		if _, ok := index[key.AccountID]; ok {
			continue
		}
		index[key.AccountID] = len(rows)
		rows = append(rows, ReportRow{AccountID: key.AccountID, Amounts: make([]decimal.Decimal, len(periods))})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AccountID < rows[j].AccountID })
	for i, row := range rows {
		index[row.AccountID] = i
	}
	totals := make([]decimal.Decimal, len(periods))
	for _, key := range sums.keys {
		row := rows[index[key.AccountID]]
		for i, p := range periods {
			if p.Label == key.Label && p.Start.Equal(key.PeriodStart) && p.End.Equal(key.PeriodEnd) {
				row.Amounts[i] = sums.sums[key]
				totals[i] = totals[i].Add(sums.sums[key])
				break
			}
		}
	}
	return rows, totals
}
