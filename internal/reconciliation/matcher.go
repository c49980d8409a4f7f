package reconciliation

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
)

// matcher is a greedy single-pass matcher. A document matched to one
// transaction is never offered to a later one and earlier decisions are
// never revisited.
type matcher struct {
	tol      Tolerance
	invoices []Candidate
	expenses []Candidate
	taken    map[uuid.UUID]bool
}

func newMatcher(tol Tolerance, invoices, expenses []Candidate) *matcher {
	return &matcher{tol: tol, invoices: invoices, expenses: expenses, taken: make(map[uuid.UUID]bool)}
}

// next picks the best remaining candidate for tx and reserves it.
func (m *matcher) next(tx BankTransaction) (Match, bool) {
	ranked := m.rank(tx)
	if len(ranked) == 0 {
		return Match{}, false
	}
	best := ranked[0]
	m.taken[best.DocumentID] = true
	return best, true
}

// rank returns the eligible candidates for tx ordered by amount difference,
// then date difference, then document id.
func (m *matcher) rank(tx BankTransaction) []Match {
	var pool []Candidate
	switch tx.Type {
	case Credit:
		pool = m.invoices
	case Debit:
		pool = m.expenses
	default:
		return nil
	}
	var out []Match
	for _, c := range pool {
		if m.taken[c.ID] {
			continue
		}
		amountDiff := c.Amount.Sub(tx.Amount).Abs()
		if amountDiff.GreaterThan(m.tol.Amount) {
			continue
		}
		dateDiff := daysBetween(c.Date, tx.TransactionDate)
		if dateDiff > m.tol.Days {
			continue
		}
		out = append(out, Match{
			TransactionID:  tx.ID,
			Type:           c.Type,
			DocumentID:     c.ID,
			DocumentNumber: c.Number,
			AmountDiff:     amountDiff,
			DateDiffDays:   dateDiff,
		})
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := a.AmountDiff.Cmp(b.AmountDiff); c != 0 {
			return c
		}
		if a.DateDiffDays != b.DateDiffDays {
			return a.DateDiffDays - b.DateDiffDays
		}
		return bytes.Compare(a.DocumentID[:], b.DocumentID[:])
	})
	return out
}

// daysBetween is the absolute calendar-day distance between two dates.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

// sortPending orders transactions newest first with id as tie-breaker.
func sortPending(txs []BankTransaction) {
	slices.SortStableFunc(txs, func(a, b BankTransaction) int {
		if c := b.TransactionDate.Compare(a.TransactionDate); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}
