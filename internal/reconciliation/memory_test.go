package reconciliation

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memInvoice struct {
	org    uuid.UUID
	number string
	status string
	total  decimal.Decimal
	due    time.Time
}

type memExpense struct {
	org    uuid.UUID
	number string
	status string
	amount decimal.Decimal
	date   time.Time
}

type memPayment struct {
	org    uuid.UUID
	amount decimal.Decimal
	date   time.Time
}

type memoryRepo struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]BankTransaction
	invoices     map[uuid.UUID]memInvoice
	expenses     map[uuid.UUID]memExpense
	payments     map[uuid.UUID]memPayment
	// afterSave runs after every SaveMatch inside a transaction.
	afterSave func()
	failSave  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transactions: make(map[uuid.UUID]BankTransaction),
		invoices:     make(map[uuid.UUID]memInvoice),
		expenses:     make(map[uuid.UUID]memExpense),
		payments:     make(map[uuid.UUID]memPayment),
	}
}

type memoryTx struct {
	repo *memoryRepo
}

// WithTx serialises callers and restores every map when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txs, invs, exps := maps.Clone(r.transactions), maps.Clone(r.invoices), maps.Clone(r.expenses)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.transactions, r.invoices, r.expenses = txs, invs, exps
		return err
	}
	return nil
}

func (t *memoryTx) referenced(kind MatchType, id uuid.UUID) bool {
	for _, bt := range t.repo.transactions {
		if k, ref, ok := bt.MatchRef(); ok && k == kind && ref == id {
			return true
		}
	}
	return false
}

func (t *memoryTx) PendingTransactions(_ context.Context, orgID uuid.UUID, bankAccountID *uuid.UUID) ([]BankTransaction, error) {
	var out []BankTransaction
	for _, bt := range t.repo.transactions {
		if bt.OrganizationID != orgID || bt.Status != StatusPending {
			continue
		}
		if bankAccountID != nil && bt.BankAccountID != *bankAccountID {
			continue
		}
		out = append(out, bt)
	}
	return out, nil
}

func within(d, from, to time.Time) bool {
	return !d.Before(from) && !d.After(to)
}

func (t *memoryTx) OpenInvoices(_ context.Context, orgID uuid.UUID, from, to time.Time) ([]Candidate, error) {
	var out []Candidate
	for id, inv := range t.repo.invoices {
		if inv.org != orgID || inv.status != "sent" || !within(inv.due, from, to) || t.referenced(MatchInvoice, id) {
			continue
		}
		out = append(out, Candidate{Type: MatchInvoice, ID: id, Number: inv.number, Amount: inv.total, Date: inv.due})
	}
	return out, nil
}

func (t *memoryTx) OpenExpenses(_ context.Context, orgID uuid.UUID, from, to time.Time) ([]Candidate, error) {
	var out []Candidate
	for id, exp := range t.repo.expenses {
		if exp.org != orgID || (exp.status != "pending" && exp.status != "partial") || !within(exp.date, from, to) || t.referenced(MatchExpense, id) {
			continue
		}
		out = append(out, Candidate{Type: MatchExpense, ID: id, Number: exp.number, Amount: exp.amount, Date: exp.date})
	}
	return out, nil
}

func (t *memoryTx) GetTransaction(_ context.Context, orgID, id uuid.UUID) (BankTransaction, error) {
	bt, ok := t.repo.transactions[id]
	if !ok || bt.OrganizationID != orgID {
		return BankTransaction{}, ErrTransactionNotFound
	}
	return bt, nil
}

func (t *memoryTx) GetDocument(_ context.Context, orgID uuid.UUID, kind MatchType, id uuid.UUID) (Candidate, error) {
	switch kind {
	case MatchInvoice:
		if inv, ok := t.repo.invoices[id]; ok && inv.org == orgID {
			return Candidate{Type: kind, ID: id, Number: inv.number, Amount: inv.total, Date: inv.due}, nil
		}
	case MatchExpense:
		if exp, ok := t.repo.expenses[id]; ok && exp.org == orgID {
			return Candidate{Type: kind, ID: id, Number: exp.number, Amount: exp.amount, Date: exp.date}, nil
		}
	case MatchPayment:
		if pay, ok := t.repo.payments[id]; ok && pay.org == orgID {
			return Candidate{Type: kind, ID: id, Amount: pay.amount, Date: pay.date}, nil
		}
	}
	return Candidate{}, ErrDocumentNotFound
}

func (t *memoryTx) DocumentReferenced(_ context.Context, kind MatchType, id uuid.UUID) (bool, error) {
	return t.referenced(kind, id), nil
}

func (t *memoryTx) SaveMatch(_ context.Context, bt BankTransaction) error {
	if t.repo.failSave != nil {
		return t.repo.failSave
	}
	if _, ok := t.repo.transactions[bt.ID]; !ok {
		return ErrTransactionNotFound
	}
	refs := 0
	for _, p := range []*uuid.UUID{bt.MatchedInvoiceID, bt.MatchedExpenseID, bt.MatchedPaymentID} {
		if p != nil {
			refs++
		}
	}
	if refs > 1 || (bt.Status != StatusPending && refs == 0) {
		return errors.New("match reference check violated")
	}
	t.repo.transactions[bt.ID] = bt
	if t.repo.afterSave != nil {
		t.repo.afterSave()
	}
	return nil
}

func (t *memoryTx) SettleDocument(_ context.Context, kind MatchType, id uuid.UUID) error {
	switch kind {
	case MatchInvoice:
		inv := t.repo.invoices[id]
		inv.status = "paid"
		t.repo.invoices[id] = inv
	case MatchExpense:
		exp := t.repo.expenses[id]
		exp.status = "paid"
		t.repo.expenses[id] = exp
	}
	return nil
}

func (t *memoryTx) ReopenDocument(_ context.Context, kind MatchType, id uuid.UUID) error {
	switch kind {
	case MatchInvoice:
		if inv := t.repo.invoices[id]; inv.status == "paid" {
			inv.status = "sent"
			t.repo.invoices[id] = inv
		}
	case MatchExpense:
		if exp := t.repo.expenses[id]; exp.status == "paid" {
			exp.status = "pending"
			t.repo.expenses[id] = exp
		}
	}
	return nil
}

func (t *memoryTx) FindDuplicate(_ context.Context, bankAccountID uuid.UUID, line StatementLine) (bool, error) {
	kind := Credit
	if line.Amount.IsNegative() {
		kind = Debit
	}
	for _, bt := range t.repo.transactions {
		if bt.BankAccountID == bankAccountID && bt.TransactionDate.Equal(line.TransactionDate) &&
			bt.Amount.Equal(line.Amount.Abs()) && bt.Type == kind && bt.Description == line.Description {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, bt BankTransaction) error {
	t.repo.transactions[bt.ID] = bt
	return nil
}
