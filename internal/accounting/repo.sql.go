package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/deferrals/internal/platform/db"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error
	LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error
	GetPeriodForUpdate(ctx context.Context, periodID int64) (Period, error)
	FindPostablePeriod(ctx context.Context, date time.Time) (Period, error)
	GetNextOpenPeriodAfter(ctx context.Context, date time.Time) (Period, error)
	GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error)
	ListEntriesByOrigin(ctx context.Context, originLineID int64) ([]JournalEntry, error)
	UpdateJournalStatus(ctx context.Context, entryID int64, status JournalStatus) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds ledger operations to a transaction opened elsewhere.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// ErrSourceConflict indicates the source link already exists.
var ErrSourceConflict = errors.New("accounting: source link conflict")

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const entryColumns = `id, number, period_id, journal_code, date, source_module, source_id, origin_line_id, memo, COALESCE(posted_by, 0), posted_at, status, created_at, updated_at`

const periodColumns = `id, code, start_date, end_date, status, closed_at, locked_by, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.PeriodID, &e.JournalCode, &e.Date, &e.SourceModule, &e.SourceID, &e.OriginLineID,
		&e.Memo, &e.PostedBy, &e.PostedAt, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.LockedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrInvalidPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (period_id, journal_code, date, source_module, source_id, origin_line_id, memo, posted_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'POSTED') RETURNING id, number, posted_at, created_at, updated_at`,
		in.PeriodID, in.JournalCode, in.Date, in.SourceModule, in.SourceID, nullIntPtr(in.OriginLineID), in.Memo, nullInt(in.PostedBy))
	entry := JournalEntry{
		PeriodID:     in.PeriodID,
		JournalCode:  in.JournalCode,
		Date:         in.Date,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		OriginLineID: in.OriginLineID,
		Memo:         in.Memo,
		PostedBy:     in.PostedBy,
		Status:       JournalStatusPosted,
	}
	if err := row.Scan(&entry.ID, &entry.Number, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error {
	for _, line := range lines {
		analytic, err := encodeAnalytic(line.AnalyticDistribution)
		if err != nil {
			return err
		}
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, label, partner_id, analytic_distribution, dim_company_id, dim_branch_id, dim_warehouse_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, entryID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit), line.Label,
			nullIntPtr(line.PartnerID), analytic, nullIntPtr(line.CompanyID), nullIntPtr(line.BranchID), nullIntPtr(line.Warehouse)); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (module, ref_id, je_id) VALUES ($1,$2,$3)`, module, ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, periodID int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1 FOR UPDATE`, periodID))
}

// FindPostablePeriod returns the OPEN or CLOSED period covering date.
func (r *txRepository) FindPostablePeriod(ctx context.Context, date time.Time) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
WHERE status IN ('OPEN','CLOSED') AND $1 BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1 FOR UPDATE`, date))
}

func (r *txRepository) GetNextOpenPeriodAfter(ctx context.Context, date time.Time) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
WHERE status='OPEN' AND start_date >= $1 ORDER BY start_date ASC LIMIT 1`, date))
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, nil, ErrJournalNotFound
		}
		return JournalEntry{}, nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, je_id, account_id, debit, credit, label, partner_id, COALESCE(analytic_distribution, '{}'::jsonb),
dim_company_id, dim_branch_id, dim_warehouse_id, created_at, updated_at
FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var (
			line     JournalLine
			analytic []byte
		)
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &line.Debit, &line.Credit, &line.Label, &line.PartnerID, &analytic,
			&line.DimCompanyID, &line.DimBranchID, &line.DimWarehouseID, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return JournalEntry{}, nil, err
		}
		if line.AnalyticDistribution, err = decodeAnalytic(analytic); err != nil {
			return JournalEntry{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

// ListEntriesByOrigin returns entries generated from originLineID, oldest first.
func (r *txRepository) ListEntriesByOrigin(ctx context.Context, originLineID int64) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE origin_line_id=$1 ORDER BY date ASC, id ASC FOR UPDATE`, originLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepository) UpdateJournalStatus(ctx context.Context, entryID int64, status JournalStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, updated_at=NOW() WHERE id=$1`, entryID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrJournalNotFound
	}
	return nil
}

func encodeAnalytic(dist map[string]float64) (any, error) {
	if len(dist) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(dist)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func decodeAnalytic(raw []byte) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var dist map[string]float64
	if err := json.Unmarshal(raw, &dist); err != nil {
		return nil, err
	}
	if len(dist) == 0 {
		return nil, nil
	}
	return dist, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullIntPtr(val *int64) any {
	if val == nil {
		return nil
	}
	if *val == 0 {
		return nil
	}
	return *val
}

func toNumeric(v float64) any {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
