package deferral

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"
)

// Generator turns amortizable lines into deferral postings.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator constructs a Generator. A nil logger discards clamp warnings.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger}
}

// Generate builds the origin and period entries for every line, in input order.
// Lines are never merged; each one yields its own independent set of moves.
func (g *Generator) Generate(target Target, lines []Line) (Result, error) {
	if err := target.Validate(); err != nil {
		return Result{}, err
	}
	places := CurrencyPrecision(target.Currency)
	result := Result{Direction: target.Direction, Lines: make([]LineResult, 0, len(lines))}
	for _, raw := range lines {
		line, clamped := normalizeLine(raw)
		if clamped {
			g.warnClamped(raw)
		}
		lr := LineResult{
			Line:     line,
			Clamped:  clamped,
			Abnormal: clamped || abnormalRange(line),
			Plan:     BuildPeriods(line.StartDate, line.EndDate, line.AccountingDate),
		}
		if periods, ok := lr.Plan.(Periods); ok {
			lr.Moves = pruneZero(buildMoves(target, line, periods, places), places)
		}
		result.Lines = append(result.Lines, lr)
	}
	return result, nil
}

func (g *Generator) warnClamped(line Line) {
	if g == nil || g.logger == nil {
		return
	}
	g.logger.Warn("deferral end date before start date, clamped",
		slog.Int64("line_id", line.ID),
		slog.String("start_date", line.StartDate.Format("2006-01-02")),
		slog.String("end_date", line.EndDate.Format("2006-01-02")),
	)
}

// normalizeLine truncates dates and clamps a reversed range to a single day.
func normalizeLine(line Line) (Line, bool) {
	line.StartDate = dateOnly(line.StartDate)
	line.EndDate = dateOnly(line.EndDate)
	line.AccountingDate = dateOnly(line.AccountingDate)
	if line.EndDate.Before(line.StartDate) {
		line.EndDate = line.StartDate
		return line, true
	}
	return line, false
}

// HasAbnormalDates flags lines whose range is reversed or does not cover a
// whole number of months within a one day tolerance.
func HasAbnormalDates(line Line) bool {
	normalized, clamped := normalizeLine(line)
	return clamped || abnormalRange(normalized)
}

func abnormalRange(line Line) bool {
	months := DiffMonths(line.StartDate, line.EndDate.AddDate(0, 0, 1))
	_, frac := math.Modf(months)
	return math.Round((frac-1.0/30)*100) > 0
}

func buildMoves(target Target, line Line, periods Periods, places int32) []Move {
	ref := deferralRef(line)
	moves := make([]Move, 0, len(periods)+1)
	moves = append(moves, Move{
		OriginLineID: line.ID,
		Kind:         MoveOrigin,
		JournalCode:  target.JournalCode,
		Date:         line.AccountingDate,
		Ref:          ref,
		PartnerID:    line.PartnerID,
		Lines:        movePair(line, target.DeferredAccountID, line.Balance.Neg(), ref),
	})
	amounts := splitBalance(target.Method, line, periods, places)
	for i, period := range periods {
		moves = append(moves, Move{
			OriginLineID: line.ID,
			Kind:         MovePeriod,
			Sequence:     i + 1,
			JournalCode:  target.JournalCode,
			Date:         period.End,
			Ref:          ref,
			PartnerID:    line.PartnerID,
			Period:       &period,
			Lines:        movePair(line, target.DeferredAccountID, amounts[i], ref),
		})
	}
	return moves
}

// movePair books amount on the origin account and the opposite on the deferred account.
func movePair(line Line, deferredAccountID int64, amount decimal.Decimal, ref string) []MoveLine {
	return []MoveLine{
		{
			AccountID:            line.AccountID,
			Balance:              amount,
			Label:                ref,
			PartnerID:            line.PartnerID,
			AnalyticDistribution: line.AnalyticDistribution,
		},
		{
			AccountID:            deferredAccountID,
			Balance:              amount.Neg(),
			Label:                ref,
			PartnerID:            line.PartnerID,
			AnalyticDistribution: line.AnalyticDistribution,
		},
	}
}

func deferralRef(line Line) string {
	if line.MoveName != "" {
		return fmt.Sprintf("Deferral of %s", line.MoveName)
	}
	return fmt.Sprintf("Deferral of line %d", line.ID)
}

// allocation is the fold state while walking the ordered periods.
type allocation struct {
	amounts   []decimal.Decimal
	remaining decimal.Decimal
}

// splitBalance folds over the periods, rounding each slice to the currency
// scale. The last period takes whatever remains so the slices sum to the
// line balance exactly.
func splitBalance(method Method, line Line, periods Periods, places int32) []decimal.Decimal {
	last := len(periods) - 1
	step := func(acc allocation, i int, p Period) allocation {
		amount := acc.remaining
		if i != last {
			amount = decimal.NewFromFloat(inclusiveAmount(method, p.Start, p.End, line)).Round(places)
		}
		return allocation{
			amounts:   append(acc.amounts, amount),
			remaining: acc.remaining.Sub(amount),
		}
	}
	acc := allocation{amounts: make([]decimal.Decimal, 0, len(periods)), remaining: line.Balance}
	for i, p := range periods {
		acc = step(acc, i, p)
	}
	return acc.amounts
}

func pruneZero(moves []Move, places int32) []Move {
	kept := moves[:0]
	for _, m := range moves {
		if m.Amount().Round(places).IsZero() {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
