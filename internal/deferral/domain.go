package deferral

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method selects the pro-rata algorithm used to spread a line over its periods.
type Method string

const (
	// MethodDay allocates linearly per calendar day.
	MethodDay Method = "day"
	// MethodMonth allocates per normalised 30-day month.
	MethodMonth Method = "month"
	// MethodFullMonths counts any started month as a whole month.
	MethodFullMonths Method = "full_months"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodDay, MethodMonth, MethodFullMonths:
		return true
	}
	return false
}

// ParseMethod normalises user input into a Method.
func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, raw)
	}
	return m, nil
}

// Direction distinguishes deferred expenses from deferred revenues.
type Direction string

const (
	DirectionExpense Direction = "expense"
	DirectionRevenue Direction = "revenue"
)

// Valid reports whether d is a supported direction.
func (d Direction) Valid() bool {
	return d == DirectionExpense || d == DirectionRevenue
}

// AccountType returns the chart of accounts type whose lines are deferred in this direction.
func (d Direction) AccountType() string {
	if d == DirectionRevenue {
		return "REVENUE"
	}
	return "EXPENSE"
}

// Line is a posted ledger line eligible for deferral.
type Line struct {
	ID                   int64              `json:"id"`
	AccountID            int64              `json:"account_id"`
	Balance              decimal.Decimal    `json:"balance"`
	StartDate            time.Time          `json:"start_date"`
	EndDate              time.Time          `json:"end_date"`
	PartnerID            *int64             `json:"partner_id,omitempty"`
	AnalyticDistribution map[string]float64 `json:"analytic_distribution,omitempty"`
	AccountingDate       time.Time          `json:"accounting_date"`
	MoveName             string             `json:"move_name,omitempty"`
}

// PeriodLabel tags a period as a special report bucket or a plain month.
type PeriodLabel string

const (
	LabelMonth      PeriodLabel = "month"
	LabelTotal      PeriodLabel = "total"
	LabelNotStarted PeriodLabel = "not_started"
	LabelBefore     PeriodLabel = "before"
	LabelCurrent    PeriodLabel = "current"
	LabelLater      PeriodLabel = "later"
)

// Period is an inclusive date range with a label.
type Period struct {
	Start time.Time   `json:"start"`
	End   time.Time   `json:"end"`
	Label PeriodLabel `json:"label"`
}

// Plan is the outcome of decomposing a line into periods: either Periods or NoDeferral.
type Plan interface {
	isPlan()
}

// Periods lists the month-aligned buckets a line is spread over.
type Periods []Period

func (Periods) isPlan() {}

// SkipReason explains why a line needs no deferral.
type SkipReason string

const (
	SkipNoPeriods SkipReason = "no_periods"
	SkipSameMonth SkipReason = "same_month"
)

// NoDeferral means generating entries would only produce a self-cancelling pair.
type NoDeferral struct {
	Reason SkipReason
}

func (NoDeferral) isPlan() {}

// Settings holds the company level deferral configuration.
type Settings struct {
	CompanyID                int64
	DeferredExpenseAccountID int64
	DeferredRevenueAccountID int64
	JournalCode              string
	ExpenseMethod            Method
	RevenueMethod            Method
	Currency                 string
}

// Target is the resolved configuration for one direction.
type Target struct {
	Direction         Direction
	DeferredAccountID int64
	JournalCode       string
	Method            Method
	Currency          string
}

// Target resolves the deferred account, journal and method for dir.
func (s Settings) Target(dir Direction) (Target, error) {
	if !dir.Valid() {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	t := Target{Direction: dir, JournalCode: s.JournalCode, Currency: s.Currency}
	switch dir {
	case DirectionExpense:
		t.DeferredAccountID = s.DeferredExpenseAccountID
		t.Method = s.ExpenseMethod
	case DirectionRevenue:
		t.DeferredAccountID = s.DeferredRevenueAccountID
		t.Method = s.RevenueMethod
	}
	if t.Method == "" {
		t.Method = MethodMonth
	}
	return t, t.Validate()
}

// Validate reports missing configuration as a *ConfigError.
func (t Target) Validate() error {
	if t.DeferredAccountID == 0 {
		return &ConfigError{
			Setting: fmt.Sprintf("deferred %s account", t.Direction),
			Hint:    "accounting settings > deferrals",
		}
	}
	if strings.TrimSpace(t.JournalCode) == "" {
		return &ConfigError{Setting: "deferral journal", Hint: "accounting settings > deferrals"}
	}
	if !t.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, t.Method)
	}
	return nil
}

// MoveKind identifies the role of a generated entry.
type MoveKind string

const (
	// MoveOrigin moves the full balance from the origin account to the deferred account.
	MoveOrigin MoveKind = "origin"
	// MovePeriod recognises one period's slice back on the origin account.
	MovePeriod MoveKind = "period"
)

// MoveLine is a single signed posting line. Positive balances are debits.
type MoveLine struct {
	AccountID            int64              `json:"account_id"`
	Balance              decimal.Decimal    `json:"balance"`
	Label                string             `json:"label"`
	PartnerID            *int64             `json:"partner_id,omitempty"`
	AnalyticDistribution map[string]float64 `json:"analytic_distribution,omitempty"`
}

// Move is a balanced journal posting generated for an origin line.
type Move struct {
	OriginLineID int64      `json:"origin_line_id"`
	Kind         MoveKind   `json:"kind"`
	Sequence     int        `json:"sequence"`
	JournalCode  string     `json:"journal_code"`
	Date         time.Time  `json:"date"`
	Ref          string     `json:"ref"`
	PartnerID    *int64     `json:"partner_id,omitempty"`
	Period       *Period    `json:"period,omitempty"`
	Lines        []MoveLine `json:"lines"`
}

// Amount returns the total debit of the move.
func (m Move) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		if l.Balance.IsPositive() {
			total = total.Add(l.Balance)
		}
	}
	return total
}

// Balanced reports whether the signed line balances sum to zero.
func (m Move) Balanced() bool {
	sum := decimal.Zero
	for _, l := range m.Lines {
		sum = sum.Add(l.Balance)
	}
	return sum.IsZero()
}

// LineResult captures what the generator did with one line.
type LineResult struct {
	Line     Line   `json:"line"`
	Clamped  bool   `json:"clamped"`
	Abnormal bool   `json:"abnormal"`
	Plan     Plan   `json:"-"`
	Moves    []Move `json:"moves"`
}

// Skipped reports whether the line produced no deferral.
func (r LineResult) Skipped() (SkipReason, bool) {
	if nd, ok := r.Plan.(NoDeferral); ok {
		return nd.Reason, true
	}
	return "", false
}

// Result is the generator output for a batch of lines sharing a direction.
type Result struct {
	Direction Direction    `json:"direction"`
	Lines     []LineResult `json:"lines"`
}

// Moves flattens every generated move in input order.
func (r Result) Moves() []Move {
	var out []Move
	for _, lr := range r.Lines {
		out = append(out, lr.Moves...)
	}
	return out
}

// Skipped counts lines by skip reason.
func (r Result) Skipped() map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, lr := range r.Lines {
		if reason, ok := lr.Skipped(); ok {
			out[reason]++
		}
	}
	return out
}

// Clamped counts lines whose end date was corrected.
func (r Result) Clamped() int {
	n := 0
	for _, lr := range r.Lines {
		if lr.Clamped {
			n++
		}
	}
	return n
}

// ConfigError reports a missing deferral setting and where to fix it.
type ConfigError struct {
	Setting string
	Hint    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("deferral: %s is not configured, set it in %s", e.Setting, e.Hint)
}

// Is lets errors.Is match ErrMissingConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrMissingConfig
}

var (
	// ErrMissingConfig matches every *ConfigError.
	ErrMissingConfig = errors.New("deferral: missing configuration")
	// ErrInvalidMethod indicates an unknown allocation method.
	ErrInvalidMethod = errors.New("deferral: invalid method")
	// ErrInvalidDirection indicates an unknown direction.
	ErrInvalidDirection = errors.New("deferral: invalid direction")
	// ErrLineNotFound indicates the origin line does not exist.
	ErrLineNotFound = errors.New("deferral: line not found")
	// ErrInvalidRange indicates a report window with from after to.
	ErrInvalidRange = errors.New("deferral: invalid date range")
)
