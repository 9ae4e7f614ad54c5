package deferral

import (
	"context"
	"time"

	"github.com/odyssey-erp/deferrals/internal/accounting"
)

// LineFilter narrows the pending lines returned for generation.
type LineFilter struct {
	CompanyID int64
	Direction Direction
	LineIDs   []int64
}

// ReportFilter narrows the lines included in a deferral report.
type ReportFilter struct {
	CompanyID int64
	Direction Direction
	From      time.Time
	To        time.Time
}

// Repository abstracts persistence for deferral generation.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LoadSettings(ctx context.Context, companyID int64) (Settings, error)
	ListReportLines(ctx context.Context, filter ReportFilter) ([]Line, error)
}

// TxRepository exposes the reads and ledger writes performed inside one transaction.
type TxRepository interface {
	LockCompany(ctx context.Context, companyID int64) error
	LoadSettings(ctx context.Context, companyID int64) (Settings, error)
	ListPendingLines(ctx context.Context, filter LineFilter) ([]Line, error)
	GetLine(ctx context.Context, lineID int64) (Line, error)
	Ledger() accounting.TxRepository
}
