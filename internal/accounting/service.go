package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/deferrals/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates posting, voiding, and reversing journal entries.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostJournal validates and persists a new journal entry.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.post(ctx, tx, input)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.PostedBy, "journal.post", entry.ID, map[string]any{
		"number":        entry.Number,
		"source_module": input.SourceModule,
		"source_id":     input.SourceID.String(),
	})
	return entry, nil
}

// PostJournals posts every input in a single transaction. Either all entries
// are written or none are.
func (s *Service) PostJournals(ctx context.Context, inputs []PostingInput) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = s.PostJournalsTx(ctx, tx, inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PostJournalsTx posts inputs using a transaction owned by the caller.
func (s *Service) PostJournalsTx(ctx context.Context, tx TxRepository, inputs []PostingInput) ([]JournalEntry, error) {
	for idx, input := range inputs {
		if err := input.Validate(); err != nil {
			return nil, fmt.Errorf("accounting: posting %d: %w", idx, err)
		}
	}
	entries := make([]JournalEntry, 0, len(inputs))
	for _, input := range inputs {
		entry, err := s.post(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	var (
		period Period
		err    error
	)
	if input.PeriodID == 0 {
		period, err = tx.FindPostablePeriod(ctx, input.Date)
		input.PeriodID = period.ID
	} else {
		period, err = tx.GetPeriodForUpdate(ctx, input.PeriodID)
	}
	if err != nil {
		return JournalEntry{}, err
	}
	if period.Status == PeriodStatusLocked {
		return JournalEntry{}, ErrPeriodLocked
	}
	if period.Status != PeriodStatusOpen && period.Status != PeriodStatusClosed {
		return JournalEntry{}, ErrInvalidPeriod
	}
	if input.Date.Before(period.StartDate) || input.Date.After(period.EndDate) {
		return JournalEntry{}, ErrDateOutOfRange
	}
	inserted, err := tx.InsertJournalEntry(ctx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertJournalLines(ctx, inserted.ID, input.Lines); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.LinkSource(ctx, input.SourceModule, input.SourceID, inserted.ID); err != nil {
		if errors.Is(err, ErrSourceConflict) {
			return JournalEntry{}, ErrSourceAlreadyLinked
		}
		return JournalEntry{}, err
	}
	inserted.Lines = toJournalLines(inserted.ID, input.Lines, s.now())
	return inserted, nil
}

// VoidJournal marks an existing journal as VOID.
func (s *Service) VoidJournal(ctx context.Context, input VoidInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("accounting: entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, lines, err := tx.GetJournalWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusLocked {
			return ErrPeriodLocked
		}
		if period.Status == PeriodStatusClosed {
			return ErrInvalidPeriod
		}
		if current.Status != JournalStatusPosted {
			return ErrInvalidStatus
		}
		if err := tx.UpdateJournalStatus(ctx, current.ID, JournalStatusVoid); err != nil {
			return err
		}
		entry = current
		entry.Status = JournalStatusVoid
		entry.Lines = lines
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.ActorID, "journal.void", entry.ID, map[string]any{"reason": input.Reason})
	return entry, nil
}

// ReverseJournal creates a reversing journal entry.
func (s *Service) ReverseJournal(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("accounting: entry id required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, lines, err := tx.GetJournalWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		reversal, err = s.reverse(ctx, tx, original, lines, input)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.ActorID, "journal.reverse", input.EntryID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.Number,
	})
	return reversal, nil
}

func (s *Service) reverse(ctx context.Context, tx TxRepository, original JournalEntry, lines []JournalLine, input ReverseInput) (JournalEntry, error) {
	if original.Status != JournalStatusPosted {
		return JournalEntry{}, ErrInvalidStatus
	}
	period, err := tx.GetPeriodForUpdate(ctx, original.PeriodID)
	if err != nil {
		return JournalEntry{}, err
	}
	targetPeriod := period
	targetDate := original.Date
	if input.TargetDate != nil {
		targetDate = *input.TargetDate
	}
	if period.Status != PeriodStatusOpen {
		if period.Status == PeriodStatusLocked && !input.Override {
			return JournalEntry{}, ErrPeriodLocked
		}
		next, err := tx.GetNextOpenPeriodAfter(ctx, period.EndDate.AddDate(0, 0, 1))
		if err != nil {
			return JournalEntry{}, err
		}
		targetPeriod = next
		targetDate = next.StartDate
	}
	if targetDate.Before(targetPeriod.StartDate) || targetDate.After(targetPeriod.EndDate) {
		return JournalEntry{}, ErrDateOutOfRange
	}
	posting := PostingInput{
		PeriodID:     targetPeriod.ID,
		JournalCode:  original.JournalCode,
		Date:         targetDate,
		SourceModule: original.SourceModule + ":REVERSAL",
		SourceID:     uuid.New(),
		Memo:         defaultReversalMemo(input.Memo, original.Number),
		PostedBy:     input.ActorID,
		Lines:        reverseLines(lines),
	}
	inserted, err := tx.InsertJournalEntry(ctx, posting)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertJournalLines(ctx, inserted.ID, posting.Lines); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.LinkSource(ctx, posting.SourceModule, posting.SourceID, inserted.ID); err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = toJournalLines(inserted.ID, posting.Lines, s.now())
	return inserted, nil
}

// ReleaseOriginTx undoes every posted entry derived from an origin line.
// Entries in open periods are voided; entries in closed or locked periods
// are reversed into the next open period and marked REVERSED.
func (s *Service) ReleaseOriginTx(ctx context.Context, tx TxRepository, input ReleaseInput) (ReleaseResult, error) {
	if input.OriginLineID == 0 {
		return ReleaseResult{}, errors.New("accounting: origin line required")
	}
	entries, err := tx.ListEntriesByOrigin(ctx, input.OriginLineID)
	if err != nil {
		return ReleaseResult{}, err
	}
	var result ReleaseResult
	for _, entry := range entries {
		if entry.Status != JournalStatusPosted {
			continue
		}
		period, err := tx.GetPeriodForUpdate(ctx, entry.PeriodID)
		if err != nil {
			return ReleaseResult{}, err
		}
		if period.Status == PeriodStatusOpen {
			if err := tx.UpdateJournalStatus(ctx, entry.ID, JournalStatusVoid); err != nil {
				return ReleaseResult{}, err
			}
			result.Voided = append(result.Voided, entry.ID)
			continue
		}
		original, lines, err := tx.GetJournalWithLines(ctx, entry.ID)
		if err != nil {
			return ReleaseResult{}, err
		}
		reversal, err := s.reverse(ctx, tx, original, lines, ReverseInput{
			EntryID:  entry.ID,
			ActorID:  input.ActorID,
			Memo:     input.Reason,
			Override: true,
		})
		if err != nil {
			return ReleaseResult{}, err
		}
		if err := tx.UpdateJournalStatus(ctx, entry.ID, JournalStatusReversed); err != nil {
			return ReleaseResult{}, err
		}
		result.Reversed = append(result.Reversed, reversal)
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:            line.AccountID,
			Debit:                line.Credit,
			Credit:               line.Debit,
			Label:                line.Label,
			PartnerID:            line.PartnerID,
			AnalyticDistribution: line.AnalyticDistribution,
			CompanyID:            line.DimCompanyID,
			BranchID:             line.DimBranchID,
			Warehouse:            line.DimWarehouseID,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []PostingLineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			JournalID:            entryID,
			AccountID:            line.AccountID,
			Debit:                line.Debit,
			Credit:               line.Credit,
			Label:                line.Label,
			PartnerID:            line.PartnerID,
			AnalyticDistribution: line.AnalyticDistribution,
			DimCompanyID:         line.CompanyID,
			DimBranchID:          line.BranchID,
			DimWarehouseID:       line.Warehouse,
			CreatedAt:            ts,
			UpdatedAt:            ts,
		})
	}
	return out
}

func defaultReversalMemo(memo string, number int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}
