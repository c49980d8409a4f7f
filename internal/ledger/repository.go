package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// uniqueEntryPair names the partial unique index backing at-most-once posting.
const uniqueEntryPair = "accounting_entries_source_pair_key"

// Repository persists accounting entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, organization_id, source_type, source_id, journal_type, entry_date, description, debit_account,
credit_account, amount, tax_rate_id, tax_amount, fiscal_year, fiscal_period, is_validated, validated_by, validated_at, created_at`

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var src, journal string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &src, &e.SourceID, &journal, &e.EntryDate, &e.Description, &e.DebitAccount,
			&e.CreditAccount, &e.Amount, &e.TaxRateID, &e.TaxAmount, &e.FiscalYear, &e.FiscalPeriod, &e.IsValidated,
			&e.ValidatedBy, &e.ValidatedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SourceType = SourceType(src)
		e.JournalType = JournalType(journal)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEntries returns non-deleted entries matching filter.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	where := db.NewWhere("organization_id = ?", filter.OrganizationID).
		And("deleted_at IS NULL").
		AndIf(filter.SourceType != "", "source_type = ?", string(filter.SourceType)).
		AndIf(filter.SourceID != nil, "source_id = ?", uuidArg(filter.SourceID)).
		AndIf(filter.FiscalYear != nil, "fiscal_year = ?", intArg(filter.FiscalYear)).
		AndIf(filter.FiscalPeriod != nil, "fiscal_period = ?", intArg(filter.FiscalPeriod)).
		AndIf(filter.Validated != nil, "is_validated = ?", filter.Validated != nil && *filter.Validated)
	limit := where.Arg(filter.Limit)
	offset := where.Arg(filter.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM accounting_entries`+where.SQL()+
		` ORDER BY entry_date DESC, created_at DESC, id LIMIT `+limit+` OFFSET `+offset, where.Args()...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// EntriesForYear returns every non-deleted entry of a fiscal year.
func (r *Repository) EntriesForYear(ctx context.Context, orgID uuid.UUID, year int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM accounting_entries
WHERE organization_id = $1 AND fiscal_year = $2 AND deleted_at IS NULL ORDER BY source_type, source_id, created_at`, orgID, year)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// InvoiceTotals returns the gross total of each invoice found.
func (r *Repository) InvoiceTotals(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, total_amount FROM invoices WHERE organization_id = $1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]decimal.Decimal, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var total decimal.Decimal
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		out[id] = total
	}
	return out, rows.Err()
}

// AccountOverrides loads the organization's account mappings.
func (r *Repository) AccountOverrides(ctx context.Context, orgID uuid.UUID) (map[string]string, error) {
	return LoadOverrides(ctx, r.pool, orgID)
}

// ListOrganizations returns organizations that hold entries.
func (r *Repository) ListOrganizations(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT organization_id FROM accounting_entries WHERE deleted_at IS NULL ORDER BY organization_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadOverrides reads the organization account_mappings as chart override keys.
func LoadOverrides(ctx context.Context, q Querier, orgID uuid.UUID) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, account_code FROM account_mappings WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, code string
		if err := rows.Scan(&key, &code); err != nil {
			return nil, err
		}
		out[key] = code
	}
	return out, rows.Err()
}

func (r *txRepository) AccountOverrides(ctx context.Context, orgID uuid.UUID) (map[string]string, error) {
	return LoadOverrides(ctx, r.tx, orgID)
}

func (r *txRepository) GetInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	var inv Invoice
	var subtotal, tax decimal.NullDecimal
	err := r.tx.QueryRow(ctx, `SELECT id, organization_id, COALESCE(invoice_number, ''), status, subtotal_amount, tax_amount,
total_amount, tax_rate_id, issue_date, due_date
FROM invoices WHERE id = $1 AND organization_id = $2`, id, orgID).
		Scan(&inv.ID, &inv.OrganizationID, &inv.Number, &inv.Status, &subtotal, &tax, &inv.Total, &inv.TaxRateID, &inv.IssueDate, &inv.DueDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.Subtotal = subtotal.Decimal
	inv.TaxAmount = tax.Decimal
	return inv, nil
}

func (r *txRepository) GetExpense(ctx context.Context, orgID, id uuid.UUID) (Expense, error) {
	var exp Expense
	err := r.tx.QueryRow(ctx, `SELECT id, organization_id, COALESCE(expense_number, ''), amount, expense_date, payment_status
FROM expenses WHERE id = $1 AND organization_id = $2`, id, orgID).
		Scan(&exp.ID, &exp.OrganizationID, &exp.Number, &exp.Amount, &exp.ExpenseDate, &exp.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrExpenseNotFound
	}
	return exp, err
}

func (r *txRepository) GetPayment(ctx context.Context, orgID, id uuid.UUID) (Payment, error) {
	var pay Payment
	err := r.tx.QueryRow(ctx, `SELECT p.id, p.organization_id, p.invoice_id, COALESCE(i.invoice_number, ''), p.amount, p.payment_date,
COALESCE(p.payment_method, '')
FROM payments p LEFT JOIN invoices i ON i.id = p.invoice_id AND i.organization_id = p.organization_id
WHERE p.id = $1 AND p.organization_id = $2`, id, orgID).
		Scan(&pay.ID, &pay.OrganizationID, &pay.InvoiceID, &pay.InvoiceNumber, &pay.Amount, &pay.PaymentDate, &pay.Method)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return pay, err
}

func (r *txRepository) GetTaxRate(ctx context.Context, orgID, id uuid.UUID) (TaxRate, error) {
	var rate TaxRate
	err := r.tx.QueryRow(ctx, `SELECT id, rate FROM tax_rates WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID).
		Scan(&rate.ID, &rate.Rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return TaxRate{}, ErrTaxRateNotFound
	}
	return rate, err
}

func (r *txRepository) DefaultTaxRate(ctx context.Context, orgID uuid.UUID) (*TaxRate, error) {
	var rate TaxRate
	err := r.tx.QueryRow(ctx, `SELECT id, rate FROM tax_rates WHERE organization_id = $1 AND is_default = TRUE AND deleted_at IS NULL
ORDER BY id LIMIT 1`, orgID).Scan(&rate.ID, &rate.Rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *txRepository) HasEntries(ctx context.Context, source SourceType, sourceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounting_entries WHERE source_type = $1 AND source_id = $2 AND deleted_at IS NULL)`,
		string(source), sourceID).Scan(&exists)
	return exists, err
}

// LockYearShared takes the shared side of the per (organization, year)
// advisory lock that a fiscal year close holds exclusively.
func (r *txRepository) LockYearShared(ctx context.Context, orgID uuid.UUID, year int) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtext($1), $2)`, orgID.String(), year)
	return err
}

func (r *txRepository) InsertEntries(ctx context.Context, entries []Entry) error {
	return InsertEntries(ctx, r.tx, entries)
}

// InsertEntries writes entries with one batch so every pair commits or none does.
func InsertEntries(ctx context.Context, tx pgx.Tx, entries []Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO accounting_entries (id, organization_id, source_type, source_id, journal_type, entry_date, description,
debit_account, credit_account, amount, tax_rate_id, tax_amount, fiscal_year, fiscal_period, is_validated, validated_by, validated_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)`,
			e.ID, e.OrganizationID, string(e.SourceType), e.SourceID, string(e.JournalType), e.EntryDate, e.Description,
			e.DebitAccount, e.CreditAccount, e.Amount, e.TaxRateID, e.TaxAmount, e.FiscalYear, e.FiscalPeriod,
			e.IsValidated, e.ValidatedBy, e.ValidatedAt, e.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if db.IsUniqueViolation(err, uniqueEntryPair) {
				return fmt.Errorf("%w: %v", shared.ErrAlreadyProcessed, err)
			}
			return err
		}
	}
	return br.Close()
}

func uuidArg(v *uuid.UUID) uuid.UUID {
	if v == nil {
		return uuid.Nil
	}
	return *v
}

func intArg(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
