package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists bank transactions and updates document settlement.
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

// WithTx runs fn in a read-committed transaction; the pass relies on row
// locks rather than a snapshot.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reconciliation repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const transactionColumns = `id, organization_id, bank_account_id, transaction_date, amount, transaction_type, COALESCE(description, ''),
reconciliation_status, matched_invoice_id, matched_expense_id, matched_payment_id, reconciled_at, reconciled_by, COALESCE(notes, '')`

func scanTransaction(row pgx.Row) (BankTransaction, error) {
	var t BankTransaction
	var kind, status string
	err := row.Scan(&t.ID, &t.OrganizationID, &t.BankAccountID, &t.TransactionDate, &t.Amount, &kind, &t.Description,
		&status, &t.MatchedInvoiceID, &t.MatchedExpenseID, &t.MatchedPaymentID, &t.ReconciledAt, &t.ReconciledBy, &t.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BankTransaction{}, ErrTransactionNotFound
		}
		return BankTransaction{}, err
	}
	t.Type = TransactionType(kind)
	t.Status = Status(status)
	return t, nil
}

func (r *txRepository) PendingTransactions(ctx context.Context, orgID uuid.UUID, bankAccountID *uuid.UUID) ([]BankTransaction, error) {
	where := db.NewWhere("organization_id = ?", orgID).
		And("reconciliation_status = ?", string(StatusPending)).
		And("deleted_at IS NULL").
		AndIf(bankAccountID != nil, "bank_account_id = ?", bankAccountID)
	rows, err := r.tx.Query(ctx, `SELECT `+transactionColumns+` FROM bank_transactions`+where.SQL()+
		` ORDER BY transaction_date DESC, id FOR UPDATE`, where.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanCandidates(rows pgx.Rows, kind MatchType) ([]Candidate, error) {
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		c := Candidate{Type: kind}
		if err := rows.Scan(&c.ID, &c.Number, &c.Amount, &c.Date); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) OpenInvoices(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]Candidate, error) {
	rows, err := r.tx.Query(ctx, `SELECT i.id, COALESCE(i.invoice_number, ''), i.total_amount, i.due_date
FROM invoices i
WHERE i.organization_id = $1 AND i.status = 'sent' AND i.due_date BETWEEN $2 AND $3
  AND NOT EXISTS (SELECT 1 FROM bank_transactions bt WHERE bt.matched_invoice_id = i.id AND bt.deleted_at IS NULL)
ORDER BY i.id
FOR UPDATE OF i`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows, MatchInvoice)
}

func (r *txRepository) OpenExpenses(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]Candidate, error) {
	rows, err := r.tx.Query(ctx, `SELECT e.id, COALESCE(e.expense_number, ''), e.amount, e.expense_date
FROM expenses e
WHERE e.organization_id = $1 AND e.payment_status IN ('pending', 'partial') AND e.expense_date BETWEEN $2 AND $3
  AND NOT EXISTS (SELECT 1 FROM bank_transactions bt WHERE bt.matched_expense_id = e.id AND bt.deleted_at IS NULL)
ORDER BY e.id
FOR UPDATE OF e`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows, MatchExpense)
}

func (r *txRepository) GetTransaction(ctx context.Context, orgID, id uuid.UUID) (BankTransaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM bank_transactions
WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL FOR UPDATE`, id, orgID))
}

func (r *txRepository) GetDocument(ctx context.Context, orgID uuid.UUID, kind MatchType, id uuid.UUID) (Candidate, error) {
	var query string
	switch kind {
	case MatchInvoice:
		query = `SELECT id, COALESCE(invoice_number, ''), total_amount, COALESCE(due_date, issue_date) FROM invoices WHERE id = $1 AND organization_id = $2 FOR UPDATE`
	case MatchExpense:
		query = `SELECT id, COALESCE(expense_number, ''), amount, expense_date FROM expenses WHERE id = $1 AND organization_id = $2 FOR UPDATE`
	case MatchPayment:
		query = `SELECT id, '', amount, payment_date FROM payments WHERE id = $1 AND organization_id = $2 FOR UPDATE`
	default:
		return Candidate{}, fmt.Errorf("reconciliation: unknown match type %q", kind)
	}
	c := Candidate{Type: kind}
	var date *time.Time
	var amount decimal.Decimal
	if err := r.tx.QueryRow(ctx, query, id, orgID).Scan(&c.ID, &c.Number, &amount, &date); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Candidate{}, ErrDocumentNotFound
		}
		return Candidate{}, err
	}
	c.Amount = amount
	if date != nil {
		c.Date = *date
	}
	return c, nil
}

func matchColumn(kind MatchType) (string, error) {
	switch kind {
	case MatchInvoice:
		return "matched_invoice_id", nil
	case MatchExpense:
		return "matched_expense_id", nil
	case MatchPayment:
		return "matched_payment_id", nil
	}
	return "", fmt.Errorf("reconciliation: unknown match type %q", kind)
}

func (r *txRepository) DocumentReferenced(ctx context.Context, kind MatchType, id uuid.UUID) (bool, error) {
	col, err := matchColumn(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bank_transactions WHERE `+col+` = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) SaveMatch(ctx context.Context, t BankTransaction) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bank_transactions SET
  matched_invoice_id = $1, matched_expense_id = $2, matched_payment_id = $3,
  reconciliation_status = $4, reconciled_at = $5, reconciled_by = $6, notes = NULLIF($7, ''), updated_at = NOW()
WHERE id = $8 AND organization_id = $9 AND deleted_at IS NULL`,
		t.MatchedInvoiceID, t.MatchedExpenseID, t.MatchedPaymentID, string(t.Status), t.ReconciledAt, t.ReconciledBy, t.Notes,
		t.ID, t.OrganizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) SettleDocument(ctx context.Context, kind MatchType, id uuid.UUID) error {
	var err error
	switch kind {
	case MatchInvoice:
		_, err = r.tx.Exec(ctx, `UPDATE invoices SET status = 'paid', updated_at = NOW() WHERE id = $1`, id)
	case MatchExpense:
		_, err = r.tx.Exec(ctx, `UPDATE expenses SET payment_status = 'paid', updated_at = NOW() WHERE id = $1`, id)
	}
	return err
}

func (r *txRepository) ReopenDocument(ctx context.Context, kind MatchType, id uuid.UUID) error {
	var err error
	switch kind {
	case MatchInvoice:
		_, err = r.tx.Exec(ctx, `UPDATE invoices SET status = 'sent', updated_at = NOW() WHERE id = $1 AND status = 'paid'`, id)
	case MatchExpense:
		_, err = r.tx.Exec(ctx, `UPDATE expenses SET payment_status = 'pending', updated_at = NOW() WHERE id = $1 AND payment_status = 'paid'`, id)
	}
	return err
}

func (r *txRepository) FindDuplicate(ctx context.Context, bankAccountID uuid.UUID, line StatementLine) (bool, error) {
	kind := Credit
	if line.Amount.IsNegative() {
		kind = Debit
	}
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bank_transactions
WHERE bank_account_id = $1 AND transaction_date = $2 AND amount = $3 AND transaction_type = $4
  AND COALESCE(description, '') = $5 AND deleted_at IS NULL)`,
		bankAccountID, line.TransactionDate, line.Amount.Abs(), string(kind), line.Description).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertTransaction(ctx context.Context, t BankTransaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO bank_transactions (id, organization_id, bank_account_id, transaction_date, amount,
transaction_type, description, reconciliation_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())`,
		t.ID, t.OrganizationID, t.BankAccountID, t.TransactionDate, t.Amount, string(t.Type), t.Description, string(t.Status))
	return err
}
