package deferralhttp

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/deferrals/internal/deferral"
)

const dateLayout = "2006-01-02"

// PreviewLineReq is one line submitted for preview.
type PreviewLineReq struct {
	ID                   int64              `json:"id" validate:"required,gt=0"`
	AccountID            int64              `json:"account_id" validate:"required,gt=0"`
	Balance              decimal.Decimal    `json:"balance"`
	StartDate            string             `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate              string             `json:"end_date" validate:"required,datetime=2006-01-02"`
	AccountingDate       string             `json:"accounting_date" validate:"required,datetime=2006-01-02"`
	PartnerID            *int64             `json:"partner_id,omitempty" validate:"omitempty,gt=0"`
	AnalyticDistribution map[string]float64 `json:"analytic_distribution,omitempty"`
	MoveName             string             `json:"move_name,omitempty" validate:"max=128"`
}

// PreviewReq asks for the entries that would be generated for lines. Settings
// fields override the stored company settings when CompanyID is given.
type PreviewReq struct {
	CompanyID         int64            `json:"company_id" validate:"omitempty,gt=0"`
	Direction         string           `json:"direction" validate:"required,oneof=expense revenue"`
	Method            string           `json:"method" validate:"omitempty,oneof=day month full_months"`
	Currency          string           `json:"currency" validate:"omitempty,len=3"`
	DeferredAccountID int64            `json:"deferred_account_id" validate:"omitempty,gt=0"`
	JournalCode       string           `json:"journal_code" validate:"max=32"`
	Lines             []PreviewLineReq `json:"lines" validate:"required,min=1,dive"`
}

// GenerateReq triggers generation for a company.
type GenerateReq struct {
	CompanyID int64   `json:"company_id" validate:"required,gt=0"`
	Direction string  `json:"direction" validate:"omitempty,oneof=expense revenue"`
	LineIDs   []int64 `json:"line_ids" validate:"omitempty,dive,gt=0"`
}

// CancelReq carries the optional cancellation reason.
type CancelReq struct {
	Reason string `json:"reason" validate:"max=255"`
}

// ReportQuery holds the parsed report query string.
type ReportQuery struct {
	CompanyID int64  `validate:"required,gt=0"`
	Direction string `validate:"required,oneof=expense revenue"`
	From      string `validate:"required,datetime=2006-01-02"`
	To        string `validate:"required,datetime=2006-01-02"`
}

// PreviewLineResp describes the outcome for one previewed line.
type PreviewLineResp struct {
	LineID     int64           `json:"line_id"`
	Clamped    bool            `json:"clamped"`
	Abnormal   bool            `json:"abnormal"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Periods    []PeriodResp    `json:"periods,omitempty"`
	Moves      []deferral.Move `json:"moves"`
}

// PeriodResp is a month bucket of a deferral plan.
type PeriodResp struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PreviewResp is the preview payload.
type PreviewResp struct {
	Direction deferral.Direction `json:"direction"`
	Lines     []PreviewLineResp  `json:"lines"`
}

// GenerateQueuedResp acknowledges an enqueued generation.
type GenerateQueuedResp struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func (p PreviewLineReq) toDomain() (deferral.Line, error) {
	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return deferral.Line{}, fmt.Errorf("line %d start_date: %w", p.ID, err)
	}
	end, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return deferral.Line{}, fmt.Errorf("line %d end_date: %w", p.ID, err)
	}
	posted, err := time.Parse(dateLayout, p.AccountingDate)
	if err != nil {
		return deferral.Line{}, fmt.Errorf("line %d accounting_date: %w", p.ID, err)
	}
	return deferral.Line{
		ID:                   p.ID,
		AccountID:            p.AccountID,
		Balance:              p.Balance,
		StartDate:            start,
		EndDate:              end,
		AccountingDate:       posted,
		PartnerID:            p.PartnerID,
		AnalyticDistribution: p.AnalyticDistribution,
		MoveName:             p.MoveName,
	}, nil
}

// applyOverrides layers the request settings over the stored ones.
func (p PreviewReq) applyOverrides(settings deferral.Settings, dir deferral.Direction) deferral.Settings {
	if p.DeferredAccountID > 0 {
		if dir == deferral.DirectionRevenue {
			settings.DeferredRevenueAccountID = p.DeferredAccountID
		} else {
			settings.DeferredExpenseAccountID = p.DeferredAccountID
		}
	}
	if p.JournalCode != "" {
		settings.JournalCode = p.JournalCode
	}
	if p.Method != "" {
		if dir == deferral.DirectionRevenue {
			settings.RevenueMethod = deferral.Method(p.Method)
		} else {
			settings.ExpenseMethod = deferral.Method(p.Method)
		}
	}
	if p.Currency != "" {
		settings.Currency = p.Currency
	}
	return settings
}

func fromResult(result deferral.Result) PreviewResp {
	resp := PreviewResp{Direction: result.Direction, Lines: make([]PreviewLineResp, 0, len(result.Lines))}
	for _, lr := range result.Lines {
		line := PreviewLineResp{
			LineID:   lr.Line.ID,
			Clamped:  lr.Clamped,
			Abnormal: lr.Abnormal,
			Moves:    lr.Moves,
		}
		if line.Moves == nil {
			line.Moves = []deferral.Move{}
		}
		if reason, ok := lr.Skipped(); ok {
			line.SkipReason = string(reason)
		}
		if periods, ok := lr.Plan.(deferral.Periods); ok {
			for _, p := range periods {
				line.Periods = append(line.Periods, PeriodResp{Start: p.Start.Format(dateLayout), End: p.End.Format(dateLayout)})
			}
		}
		resp.Lines = append(resp.Lines, line)
	}
	return resp
}
