package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	invoices    map[uuid.UUID]Invoice
	expenses    map[uuid.UUID]Expense
	payments    map[uuid.UUID]Payment
	taxRates    map[uuid.UUID]TaxRate
	defaultRate map[uuid.UUID]uuid.UUID
	overrides   map[uuid.UUID]map[string]string
	entries     []Entry
	failInsert  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:    make(map[uuid.UUID]Invoice),
		expenses:    make(map[uuid.UUID]Expense),
		payments:    make(map[uuid.UUID]Payment),
		taxRates:    make(map[uuid.UUID]TaxRate),
		defaultRate: make(map[uuid.UUID]uuid.UUID),
		overrides:   make(map[uuid.UUID]map[string]string),
	}
}

type memoryTx struct {
	repo    *memoryRepo
	pending []Entry
}

// WithTx serialises transactions; inserts become visible on commit and the
// pair index is enforced at commit time.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, e := range tx.pending {
		for _, existing := range r.entries {
			if existing.SourceType == e.SourceType && existing.SourceID == e.SourceID &&
				existing.DebitAccount == e.DebitAccount && existing.CreditAccount == e.CreditAccount {
				return fmt.Errorf("%w: duplicate pair", shared.ErrAlreadyProcessed)
			}
		}
	}
	r.entries = append(r.entries, tx.pending...)
	return nil
}

func (r *memoryRepo) ListEntries(_ context.Context, filter EntryFilter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.SourceType != "" && e.SourceType != filter.SourceType {
			continue
		}
		if filter.SourceID != nil && e.SourceID != *filter.SourceID {
			continue
		}
		if filter.FiscalYear != nil && e.FiscalYear != *filter.FiscalYear {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) EntriesForYear(ctx context.Context, orgID uuid.UUID, year int) ([]Entry, error) {
	return r.ListEntries(ctx, EntryFilter{OrganizationID: orgID, FiscalYear: &year})
}

func (r *memoryRepo) InvoiceTotals(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, id := range ids {
		if inv, ok := r.invoices[id]; ok && inv.OrganizationID == orgID {
			out[id] = inv.Total
		}
	}
	return out, nil
}

func (r *memoryRepo) AccountOverrides(_ context.Context, orgID uuid.UUID) (map[string]string, error) {
	return r.overrides[orgID], nil
}

func (r *memoryRepo) ListOrganizations(context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range r.entries {
		if !seen[e.OrganizationID] {
			seen[e.OrganizationID] = true
			out = append(out, e.OrganizationID)
		}
	}
	return out, nil
}

func (t *memoryTx) AccountOverrides(_ context.Context, orgID uuid.UUID) (map[string]string, error) {
	return t.repo.overrides[orgID], nil
}

func (t *memoryTx) GetInvoice(_ context.Context, orgID, id uuid.UUID) (Invoice, error) {
	inv, ok := t.repo.invoices[id]
	if !ok || inv.OrganizationID != orgID {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (t *memoryTx) GetExpense(_ context.Context, orgID, id uuid.UUID) (Expense, error) {
	exp, ok := t.repo.expenses[id]
	if !ok || exp.OrganizationID != orgID {
		return Expense{}, ErrExpenseNotFound
	}
	return exp, nil
}

func (t *memoryTx) GetPayment(_ context.Context, orgID, id uuid.UUID) (Payment, error) {
	pay, ok := t.repo.payments[id]
	if !ok || pay.OrganizationID != orgID {
		return Payment{}, ErrPaymentNotFound
	}
	return pay, nil
}

func (t *memoryTx) GetTaxRate(_ context.Context, _ uuid.UUID, id uuid.UUID) (TaxRate, error) {
	rate, ok := t.repo.taxRates[id]
	if !ok {
		return TaxRate{}, ErrTaxRateNotFound
	}
	return rate, nil
}

func (t *memoryTx) DefaultTaxRate(_ context.Context, orgID uuid.UUID) (*TaxRate, error) {
	id, ok := t.repo.defaultRate[orgID]
	if !ok {
		return nil, nil
	}
	rate := t.repo.taxRates[id]
	return &rate, nil
}

func (t *memoryTx) HasEntries(_ context.Context, source SourceType, sourceID uuid.UUID) (bool, error) {
	for _, e := range t.repo.entries {
		if e.SourceType == source && e.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) LockYearShared(context.Context, uuid.UUID, int) error { return nil }

func (t *memoryTx) InsertEntries(_ context.Context, entries []Entry) error {
	if t.repo.failInsert != nil {
		return t.repo.failInsert
	}
	t.pending = append(t.pending, entries...)
	return nil
}
