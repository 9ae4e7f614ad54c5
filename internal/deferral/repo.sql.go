package deferral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/deferrals/internal/accounting"
	"github.com/odyssey-erp/deferrals/internal/platform/db"
	"github.com/odyssey-erp/deferrals/internal/shared"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository reads deferral settings and lines from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a repeatable-read transaction whose ledger shares the same tx.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("deferral repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// LoadSettings returns the company deferral configuration.
func (r *PGRepository) LoadSettings(ctx context.Context, companyID int64) (Settings, error) {
	return loadSettings(ctx, r.pool, companyID)
}

// ListReportLines returns posted lines of the direction whose deferral range
// overlaps [From, To] or starts after it.
func (r *PGRepository) ListReportLines(ctx context.Context, filter ReportFilter) ([]Line, error) {
	return queryLines(ctx, r.pool, lineSelect+`
WHERE je.status = 'POSTED' AND je.origin_line_id IS NULL
  AND jl.dim_company_id = $1 AND a.type = $2
  AND jl.deferred_start_date IS NOT NULL AND jl.deferred_end_date IS NOT NULL
  AND jl.deferred_end_date >= $3
ORDER BY jl.id`, filter.CompanyID, filter.Direction.AccountType(), filter.From)
}

// ListDeferralCompanies returns every company with a deferral settings row.
func (r *PGRepository) ListDeferralCompanies(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT company_id FROM deferral_settings ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockCompany serialises generation runs of one company until the transaction ends.
func (t *txRepository) LockCompany(ctx context.Context, companyID int64) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, shared.DeferralLockKey(companyID))
	return err
}

func (t *txRepository) LoadSettings(ctx context.Context, companyID int64) (Settings, error) {
	return loadSettings(ctx, t.tx, companyID)
}

// ListPendingLines returns posted lines carrying deferral dates that have no
// live deferral entries yet. Rows are locked until the transaction ends.
func (t *txRepository) ListPendingLines(ctx context.Context, filter LineFilter) ([]Line, error) {
	var (
		sb   strings.Builder
		args = []any{filter.CompanyID, filter.Direction.AccountType()}
	)
	sb.WriteString(lineSelect)
	sb.WriteString(`
WHERE je.status = 'POSTED' AND je.origin_line_id IS NULL
  AND jl.dim_company_id = $1 AND a.type = $2
  AND jl.deferred_start_date IS NOT NULL AND jl.deferred_end_date IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM journal_entries d WHERE d.origin_line_id = jl.id AND d.status = 'POSTED'
  )`)
	if len(filter.LineIDs) > 0 {
		args = append(args, filter.LineIDs)
		sb.WriteString(fmt.Sprintf("\n  AND jl.id = ANY($%d)", len(args)))
	}
	sb.WriteString("\nORDER BY jl.id\nFOR UPDATE OF jl")
	return queryLines(ctx, t.tx, sb.String(), args...)
}

func (t *txRepository) GetLine(ctx context.Context, lineID int64) (Line, error) {
	lines, err := queryLines(ctx, t.tx, lineSelect+`
WHERE jl.id = $1 AND jl.deferred_start_date IS NOT NULL
FOR UPDATE OF jl`, lineID)
	if err != nil {
		return Line{}, err
	}
	if len(lines) == 0 {
		return Line{}, ErrLineNotFound
	}
	return lines[0], nil
}

func (t *txRepository) Ledger() accounting.TxRepository {
	return accounting.NewTxRepository(t.tx)
}

const lineSelect = `SELECT jl.id, jl.account_id, (jl.debit - jl.credit)::text,
  jl.deferred_start_date, jl.deferred_end_date, jl.partner_id,
  COALESCE(jl.analytic_distribution, '{}'::jsonb), je.date, COALESCE(je.memo, '')
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.je_id
JOIN accounts a ON a.id = jl.account_id`

func loadSettings(ctx context.Context, q querier, companyID int64) (Settings, error) {
	s := Settings{CompanyID: companyID}
	var (
		expenseAccount, revenueAccount *int64
		journal, currency              *string
		expenseMethod, revenueMethod   *string
	)
	err := q.QueryRow(ctx, `SELECT deferred_expense_account_id, deferred_revenue_account_id, journal_code,
  expense_method, revenue_method, currency
FROM deferral_settings WHERE company_id = $1`, companyID).
		Scan(&expenseAccount, &revenueAccount, &journal, &expenseMethod, &revenueMethod, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Missing row surfaces as a ConfigError once a target is resolved.
			return s, nil
		}
		return Settings{}, err
	}
	s.DeferredExpenseAccountID = derefInt(expenseAccount)
	s.DeferredRevenueAccountID = derefInt(revenueAccount)
	s.JournalCode = derefString(journal)
	s.ExpenseMethod = Method(derefString(expenseMethod))
	s.RevenueMethod = Method(derefString(revenueMethod))
	s.Currency = derefString(currency)
	return s, nil
}

func queryLines(ctx context.Context, q querier, sql string, args ...any) ([]Line, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var (
			line     Line
			balance  string
			analytic []byte
		)
		if err := rows.Scan(&line.ID, &line.AccountID, &balance, &line.StartDate, &line.EndDate, &line.PartnerID,
			&analytic, &line.AccountingDate, &line.MoveName); err != nil {
			return nil, err
		}
		if line.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("deferral: line %d balance: %w", line.ID, err)
		}
		if len(analytic) > 0 {
			if err := json.Unmarshal(analytic, &line.AnalyticDistribution); err != nil {
				return nil, fmt.Errorf("deferral: line %d analytic distribution: %w", line.ID, err)
			}
			if len(line.AnalyticDistribution) == 0 {
				line.AnalyticDistribution = nil
			}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
