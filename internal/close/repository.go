package close

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const uniqueClosure = "fiscal_year_closures_organization_id_fiscal_year_key"

// Repository persists period validation and fiscal year closures.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn inside a read-committed transaction. The close takes
// the year advisory lock first and must see every posting committed while
// it waited, which a repeatable-read snapshot would hide.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("close: repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const closureColumns = `id, organization_id, fiscal_year, result, closing_entry_id, closed_by, closed_at`

func scanClosure(row pgx.Row) (*Closure, error) {
	var c Closure
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.FiscalYear, &c.Result, &c.ClosingEntryID, &c.ClosedBy, &c.ClosedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func findClosure(ctx context.Context, q ledger.Querier, orgID uuid.UUID, year int) (*Closure, error) {
	return scanClosure(q.QueryRow(ctx, `SELECT `+closureColumns+` FROM fiscal_year_closures WHERE organization_id = $1 AND fiscal_year = $2`, orgID, year))
}

// FindClosure returns the closure for the year or nil when it is open.
func (r *Repository) FindClosure(ctx context.Context, orgID uuid.UUID, year int) (*Closure, error) {
	return findClosure(ctx, r.pool, orgID, year)
}

// ListClosures returns closures ordered by year descending.
func (r *Repository) ListClosures(ctx context.Context, orgID uuid.UUID) ([]Closure, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+closureColumns+` FROM fiscal_year_closures WHERE organization_id = $1 ORDER BY fiscal_year DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Closure
	for rows.Next() {
		c, err := scanClosure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// LockYear takes the exclusive per (organization, year) advisory lock.
// Ledger postings hold the shared side, so the close waits for in-flight
// postings and blocks new ones until commit.
func (r *txRepository) LockYear(ctx context.Context, orgID uuid.UUID, year int) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2)`, orgID.String(), year)
	return err
}

func (r *txRepository) FindClosure(ctx context.Context, orgID uuid.UUID, year int) (*Closure, error) {
	return findClosure(ctx, r.tx, orgID, year)
}

func (r *txRepository) ValidateEntries(ctx context.Context, in ValidateInput, at time.Time) (int, error) {
	var actor *uuid.UUID
	if in.ActorID != uuid.Nil {
		actor = &in.ActorID
	}
	tag, err := r.tx.Exec(ctx, `UPDATE accounting_entries
SET is_validated = true, validated_at = $1, validated_by = $2, updated_at = $1
WHERE organization_id = $3 AND fiscal_year = $4 AND fiscal_period = $5
  AND is_validated = false AND deleted_at IS NULL`,
		at, actor, in.OrganizationID, in.Year, in.Period)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *txRepository) CountUnvalidated(ctx context.Context, orgID uuid.UUID, year int) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounting_entries
WHERE organization_id = $1 AND fiscal_year = $2 AND is_validated = false AND deleted_at IS NULL`, orgID, year).Scan(&n)
	return n, err
}

func (r *txRepository) SumResult(ctx context.Context, orgID uuid.UUID, year int, revenuePrefix, expensePrefix string) (decimal.Decimal, decimal.Decimal, error) {
	var revenue, expenses decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT
  COALESCE(SUM(amount) FILTER (WHERE credit_account LIKE $3 || '%'), 0),
  COALESCE(SUM(amount) FILTER (WHERE debit_account LIKE $4 || '%'), 0)
FROM accounting_entries
WHERE organization_id = $1 AND fiscal_year = $2 AND is_validated = true AND deleted_at IS NULL`,
		orgID, year, revenuePrefix, expensePrefix).Scan(&revenue, &expenses)
	return revenue, expenses, err
}

func (r *txRepository) AccountOverrides(ctx context.Context, orgID uuid.UUID) (map[string]string, error) {
	return ledger.LoadOverrides(ctx, r.tx, orgID)
}

func (r *txRepository) InsertClosingEntry(ctx context.Context, entry ledger.Entry) error {
	return ledger.InsertEntries(ctx, r.tx, []ledger.Entry{entry})
}

func (r *txRepository) InsertClosure(ctx context.Context, c Closure) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO fiscal_year_closures (`+closureColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.OrganizationID, c.FiscalYear, c.Result, c.ClosingEntryID, c.ClosedBy, c.ClosedAt)
	if db.IsUniqueViolation(err, uniqueClosure) {
		return fmt.Errorf("%w: %d", ErrYearClosed, c.FiscalYear)
	}
	return err
}
