package close

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

type yearKey struct {
	org  uuid.UUID
	year int
}

type memoryRepo struct {
	mu        sync.Mutex
	entries   []ledger.Entry
	closures  map[yearKey]Closure
	overrides map[uuid.UUID]map[string]string
	// afterCount runs once the unvalidated count was read.
	afterCount func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		closures:  make(map[yearKey]Closure),
		overrides: make(map[uuid.UUID]map[string]string),
	}
}

type memoryTx struct {
	repo     *memoryRepo
	entries  []ledger.Entry
	closures map[yearKey]Closure
}

// WithTx works on a copy and publishes it on success, so a failed close
// leaves no trace.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, entries: append([]ledger.Entry(nil), r.entries...), closures: make(map[yearKey]Closure, len(r.closures))}
	for k, v := range r.closures {
		tx.closures[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.entries, r.closures = tx.entries, tx.closures
	return nil
}

func (r *memoryRepo) FindClosure(_ context.Context, orgID uuid.UUID, year int) (*Closure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.closures[yearKey{orgID, year}]; ok {
		return &c, nil
	}
	return nil, nil
}

func (r *memoryRepo) ListClosures(_ context.Context, orgID uuid.UUID) ([]Closure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Closure
	for k, c := range r.closures {
		if k.org == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memoryTx) LockYear(context.Context, uuid.UUID, int) error { return nil }

func (t *memoryTx) FindClosure(_ context.Context, orgID uuid.UUID, year int) (*Closure, error) {
	if c, ok := t.closures[yearKey{orgID, year}]; ok {
		return &c, nil
	}
	return nil, nil
}

func (t *memoryTx) ValidateEntries(_ context.Context, in ValidateInput, at time.Time) (int, error) {
	n := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.OrganizationID != in.OrganizationID || e.FiscalYear != in.Year || e.FiscalPeriod != in.Period || e.IsValidated {
			continue
		}
		e.IsValidated = true
		e.ValidatedAt = &at
		if in.ActorID != uuid.Nil {
			actor := in.ActorID
			e.ValidatedBy = &actor
		}
		n++
	}
	return n, nil
}

func (t *memoryTx) CountUnvalidated(_ context.Context, orgID uuid.UUID, year int) (int, error) {
	n := 0
	for _, e := range t.entries {
		if e.OrganizationID == orgID && e.FiscalYear == year && !e.IsValidated {
			n++
		}
	}
	if t.repo.afterCount != nil {
		t.repo.afterCount()
	}
	return n, nil
}

func (t *memoryTx) SumResult(_ context.Context, orgID uuid.UUID, year int, revenuePrefix, expensePrefix string) (decimal.Decimal, decimal.Decimal, error) {
	revenue, expenses := decimal.Zero, decimal.Zero
	for _, e := range t.entries {
		if e.OrganizationID != orgID || e.FiscalYear != year || !e.IsValidated {
			continue
		}
		if strings.HasPrefix(e.CreditAccount, revenuePrefix) {
			revenue = revenue.Add(e.Amount)
		}
		if strings.HasPrefix(e.DebitAccount, expensePrefix) {
			expenses = expenses.Add(e.Amount)
		}
	}
	return revenue, expenses, nil
}

func (t *memoryTx) AccountOverrides(_ context.Context, orgID uuid.UUID) (map[string]string, error) {
	return t.repo.overrides[orgID], nil
}

func (t *memoryTx) InsertClosingEntry(_ context.Context, entry ledger.Entry) error {
	t.entries = append(t.entries, entry)
	return nil
}

func (t *memoryTx) InsertClosure(_ context.Context, c Closure) error {
	t.closures[yearKey{c.OrganizationID, c.FiscalYear}] = c
	return nil
}
