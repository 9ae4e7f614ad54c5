package deferral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/deferrals/internal/accounting"
	"github.com/odyssey-erp/deferrals/internal/shared"
)

// SourceModule tags every journal entry created by deferral generation.
const SourceModule = "DEFERRAL"

// Ledger posts and releases journal entries inside a caller-owned transaction.
type Ledger interface {
	PostJournalsTx(ctx context.Context, tx accounting.TxRepository, inputs []accounting.PostingInput) ([]accounting.JournalEntry, error)
	ReleaseOriginTx(ctx context.Context, tx accounting.TxRepository, input accounting.ReleaseInput) (accounting.ReleaseResult, error)
}

// AuditPort records deferral activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives generation counters.
type Recorder interface {
	AddDeferralEntries(direction string, count int)
	AddDeferralSkips(direction, reason string, count int)
	AddDeferralClamped(direction string, count int)
	AddDeferralAbnormal(direction string, count int)
}

// ServiceConfig carries optional collaborators.
type ServiceConfig struct {
	Logger          *slog.Logger
	Cache           *ReportCache
	Metrics         Recorder
	DefaultCurrency string
}

// Service orchestrates deferral preview, generation, cancellation and reporting.
type Service struct {
	repo      Repository
	ledger    Ledger
	audit     AuditPort
	cache     *ReportCache
	metrics   Recorder
	logger    *slog.Logger
	generator *Generator
	currency  string
	now       func() time.Time
}

// NewService wires the service.
func NewService(repo Repository, ledger Ledger, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		audit:     audit,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		logger:    logger,
		generator: NewGenerator(logger),
		currency:  strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency)),
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GenerateRequest selects the lines to defer. An empty Direction processes both.
type GenerateRequest struct {
	CompanyID int64
	Direction Direction
	LineIDs   []int64
	ActorID   int64
}

// DirectionSummary reports generation results for one direction.
type DirectionSummary struct {
	Direction Direction          `json:"direction"`
	Lines     int                `json:"lines"`
	Entries   int                `json:"entries"`
	EntryIDs  []int64            `json:"entry_ids,omitempty"`
	Skipped   map[SkipReason]int `json:"skipped,omitempty"`
	Clamped   int                `json:"clamped"`
	Abnormal  []int64            `json:"abnormal_line_ids,omitempty"`
}

// GenerateSummary aggregates one generation run.
type GenerateSummary struct {
	CompanyID  int64              `json:"company_id"`
	RunID      uuid.UUID          `json:"run_id"`
	Directions []DirectionSummary `json:"directions"`
}

// Entries returns the total number of posted entries.
func (s GenerateSummary) Entries() int {
	n := 0
	for _, d := range s.Directions {
		n += d.Entries
	}
	return n
}

// CancelRequest identifies the origin line whose deferral is undone.
type CancelRequest struct {
	OriginLineID int64
	ActorID      int64
	Reason       string
}

// CancelSummary lists voided and reversing entries.
type CancelSummary struct {
	OriginLineID int64   `json:"origin_line_id"`
	Voided       []int64 `json:"voided"`
	Reversals    []int64 `json:"reversals"`
}

// ReportRequest selects a deferral report window.
type ReportRequest struct {
	CompanyID int64
	Direction Direction
	From      time.Time
	To        time.Time
}

var (
	// ErrInvalidRequest indicates missing request fields.
	ErrInvalidRequest = errors.New("deferral: invalid request")
	// ErrNotDeferred indicates the line has no live deferral entries.
	ErrNotDeferred = errors.New("deferral: line has no posted deferral entries")
)

// Settings returns the stored deferral settings of a company.
func (s *Service) Settings(ctx context.Context, companyID int64) (Settings, error) {
	if companyID == 0 {
		return Settings{}, fmt.Errorf("%w: company id required", ErrInvalidRequest)
	}
	return s.repo.LoadSettings(ctx, companyID)
}

// Preview generates the entries for lines without writing anything.
func (s *Service) Preview(_ context.Context, dir Direction, settings Settings, lines []Line) (Result, error) {
	target, err := settings.Target(dir)
	if err != nil {
		return Result{}, err
	}
	target.Currency = s.resolveCurrency(target.Currency)
	return s.generator.Generate(target, lines)
}

type plannedDirection struct {
	target Target
	result Result
}

// Generate defers every pending line of the company and posts the resulting
// entries in a single transaction.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateSummary, error) {
	if req.CompanyID == 0 {
		return GenerateSummary{}, fmt.Errorf("%w: company id required", ErrInvalidRequest)
	}
	dirs := []Direction{DirectionExpense, DirectionRevenue}
	if req.Direction != "" {
		if !req.Direction.Valid() {
			return GenerateSummary{}, fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
		}
		dirs = []Direction{req.Direction}
	}
	summary := GenerateSummary{CompanyID: req.CompanyID, RunID: uuid.New()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		summary.Directions = nil
		if err := tx.LockCompany(ctx, req.CompanyID); err != nil {
			return err
		}
		settings, err := tx.LoadSettings(ctx, req.CompanyID)
		if err != nil {
			return err
		}
		plans := make([]plannedDirection, 0, len(dirs))
		for _, dir := range dirs {
			lines, err := tx.ListPendingLines(ctx, LineFilter{CompanyID: req.CompanyID, Direction: dir, LineIDs: req.LineIDs})
			if err != nil {
				return err
			}
			target, err := settings.Target(dir)
			if err != nil {
				// Batch runs skip unconfigured directions that have nothing pending.
				if len(lines) == 0 && req.Direction == "" && errors.Is(err, ErrMissingConfig) {
					continue
				}
				return err
			}
			target.Currency = s.resolveCurrency(target.Currency)
			result, err := s.generator.Generate(target, lines)
			if err != nil {
				return err
			}
			plans = append(plans, plannedDirection{target: target, result: result})
		}
		for _, plan := range plans {
			inputs := toPostingInputs(summary.RunID, req.CompanyID, req.ActorID, plan.result.Moves())
			entries, err := s.ledger.PostJournalsTx(ctx, tx.Ledger(), inputs)
			if err != nil {
				return fmt.Errorf("deferral: post %s entries: %w", plan.target.Direction, err)
			}
			summary.Directions = append(summary.Directions, summarize(plan.result, entries))
		}
		return nil
	})
	if err != nil {
		return GenerateSummary{}, err
	}
	for _, d := range summary.Directions {
		s.observe(d)
	}
	if summary.Entries() > 0 {
		s.invalidate(ctx)
	}
	s.record(ctx, req.ActorID, "deferral.generate", fmt.Sprintf("%d", req.CompanyID), map[string]any{
		"run_id":  summary.RunID.String(),
		"entries": summary.Entries(),
	})
	s.logger.Info("deferral generation finished",
		slog.Int64("company_id", req.CompanyID),
		slog.String("run_id", summary.RunID.String()),
		slog.Int("entries", summary.Entries()),
	)
	return summary, nil
}

// Cancel undoes the deferral of one origin line so it becomes pending again.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (CancelSummary, error) {
	if req.OriginLineID == 0 {
		return CancelSummary{}, fmt.Errorf("%w: line id required", ErrInvalidRequest)
	}
	summary := CancelSummary{OriginLineID: req.OriginLineID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetLine(ctx, req.OriginLineID); err != nil {
			return err
		}
		released, err := s.ledger.ReleaseOriginTx(ctx, tx.Ledger(), accounting.ReleaseInput{
			OriginLineID: req.OriginLineID,
			ActorID:      req.ActorID,
			Reason:       req.Reason,
		})
		if err != nil {
			return err
		}
		if len(released.Voided) == 0 && len(released.Reversed) == 0 {
			return ErrNotDeferred
		}
		summary.Voided = released.Voided
		summary.Reversals = nil
		for _, entry := range released.Reversed {
			summary.Reversals = append(summary.Reversals, entry.ID)
		}
		return nil
	})
	if err != nil {
		return CancelSummary{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, req.ActorID, "deferral.cancel", fmt.Sprintf("%d", req.OriginLineID), map[string]any{
		"reason":    req.Reason,
		"voided":    len(summary.Voided),
		"reversals": len(summary.Reversals),
	})
	return summary, nil
}

// Report renders the amortisation schedule of the company lines for a window.
func (s *Service) Report(ctx context.Context, req ReportRequest) (Report, error) {
	if req.CompanyID == 0 {
		return Report{}, fmt.Errorf("%w: company id required", ErrInvalidRequest)
	}
	if !req.Direction.Valid() {
		return Report{}, fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	}
	from, to := dateOnly(req.From), dateOnly(req.To)
	if to.Before(from) {
		return Report{}, ErrInvalidRange
	}
	key, err := s.cache.BuildKey(ctx, reportKey(req.CompanyID, req.Direction, from, to))
	if err != nil {
		return Report{}, err
	}
	var report Report
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		settings, err := s.repo.LoadSettings(ctx, req.CompanyID)
		if err != nil {
			return nil, err
		}
		method := settings.ExpenseMethod
		if req.Direction == DirectionRevenue {
			method = settings.RevenueMethod
		}
		if method == "" {
			method = MethodMonth
		}
		lines, err := s.repo.ListReportLines(ctx, ReportFilter{CompanyID: req.CompanyID, Direction: req.Direction, From: from, To: to})
		if err != nil {
			return nil, err
		}
		built, err := BuildReport(method, s.resolveCurrency(settings.Currency), from, to, lines)
		if err != nil {
			return nil, err
		}
		built.Direction = req.Direction
		return built, nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *Service) resolveCurrency(code string) string {
	if strings.TrimSpace(code) != "" {
		return code
	}
	return s.currency
}

func (s *Service) observe(d DirectionSummary) {
	if s.metrics == nil {
		return
	}
	dir := string(d.Direction)
	s.metrics.AddDeferralEntries(dir, d.Entries)
	s.metrics.AddDeferralClamped(dir, d.Clamped)
	for reason, n := range d.Skipped {
		s.metrics.AddDeferralSkips(dir, string(reason), n)
	}
	s.metrics.AddDeferralAbnormal(dir, len(d.Abnormal))
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("deferral report cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "deferral",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("deferral audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func summarize(result Result, entries []accounting.JournalEntry) DirectionSummary {
	d := DirectionSummary{
		Direction: result.Direction,
		Lines:     len(result.Lines),
		Entries:   len(entries),
		Clamped:   result.Clamped(),
	}
	if skipped := result.Skipped(); len(skipped) > 0 {
		d.Skipped = skipped
	}
	for _, e := range entries {
		d.EntryIDs = append(d.EntryIDs, e.ID)
	}
	for _, lr := range result.Lines {
		if lr.Abnormal {
			d.Abnormal = append(d.Abnormal, lr.Line.ID)
		}
	}
	return d
}

// toPostingInputs converts signed moves into ledger postings. Positive
// balances become debits and negative balances credits.
func toPostingInputs(runID uuid.UUID, companyID, actorID int64, moves []Move) []accounting.PostingInput {
	inputs := make([]accounting.PostingInput, 0, len(moves))
	for _, m := range moves {
		origin := m.OriginLineID
		company := companyID
		input := accounting.PostingInput{
			JournalCode:  m.JournalCode,
			Date:         m.Date,
			SourceModule: SourceModule,
			SourceID:     uuid.NewSHA1(runID, []byte(fmt.Sprintf("%d/%s/%d", m.OriginLineID, m.Kind, m.Sequence))),
			OriginLineID: &origin,
			Memo:         m.Ref,
			PostedBy:     actorID,
			Lines:        make([]accounting.PostingLineInput, 0, len(m.Lines)),
		}
		for _, l := range m.Lines {
			line := accounting.PostingLineInput{
				AccountID:            l.AccountID,
				Label:                l.Label,
				PartnerID:            l.PartnerID,
				AnalyticDistribution: l.AnalyticDistribution,
				CompanyID:            &company,
			}
			if l.Balance.IsNegative() {
				line.Credit = l.Balance.Neg().InexactFloat64()
			} else {
				line.Debit = l.Balance.InexactFloat64()
			}
			input.Lines = append(input.Lines, line)
		}
		inputs = append(inputs, input)
	}
	return inputs
}
