package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts ledger persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
	EntriesForYear(ctx context.Context, orgID uuid.UUID, year int) ([]Entry, error)
	InvoiceTotals(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	AccountOverrides(ctx context.Context, orgID uuid.UUID) (map[string]string, error)
	ListOrganizations(ctx context.Context) ([]uuid.UUID, error)
}

// TxRepository exposes the reads and writes of one posting transaction.
type TxRepository interface {
	GetInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error)
	GetExpense(ctx context.Context, orgID, id uuid.UUID) (Expense, error)
	GetPayment(ctx context.Context, orgID, id uuid.UUID) (Payment, error)
	GetTaxRate(ctx context.Context, orgID, id uuid.UUID) (TaxRate, error)
	DefaultTaxRate(ctx context.Context, orgID uuid.UUID) (*TaxRate, error)
	AccountOverrides(ctx context.Context, orgID uuid.UUID) (map[string]string, error)
	HasEntries(ctx context.Context, source SourceType, sourceID uuid.UUID) (bool, error)
	LockYearShared(ctx context.Context, orgID uuid.UUID, year int) error
	InsertEntries(ctx context.Context, entries []Entry) error
}

// YearGuard blocks postings into closed fiscal years.
type YearGuard interface {
	EnsureYearOpen(ctx context.Context, orgID uuid.UUID, year int) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service derives balanced accounting entries from business events.
type Service struct {
	repo   RepositoryPort
	guard  YearGuard
	audit  AuditPort
	chart  Chart
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, guard YearGuard, audit AuditPort, chart Chart, logger *slog.Logger) *Service {
	return &Service{repo: repo, guard: guard, audit: audit, chart: chart, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetGuard attaches the closed-year guard after construction.
func (s *Service) SetGuard(guard YearGuard) {
	s.guard = guard
}

// Chart returns the default chart of accounts.
func (s *Service) Chart() Chart {
	return s.chart
}

type buildFunc func(ctx context.Context, tx TxRepository, chart Chart) ([]Entry, error)

// RecordInvoiceIssued posts Dr Receivable / Cr Revenue and the output tax pair.
func (s *Service) RecordInvoiceIssued(ctx context.Context, orgID, invoiceID uuid.UUID) (RecordResult, error) {
	return s.record(ctx, orgID, SourceInvoice, invoiceID, func(ctx context.Context, tx TxRepository, chart Chart) ([]Entry, error) {
		inv, err := tx.GetInvoice(ctx, orgID, invoiceID)
		if err != nil {
			return nil, err
		}
		rate, err := s.resolveRate(ctx, tx, inv)
		if err != nil {
			return nil, err
		}
		return invoicePostings(chart, inv, rate)
	})
}

// resolveRate picks the invoice's explicit rate, else the organization default, else none.
func (s *Service) resolveRate(ctx context.Context, tx TxRepository, inv Invoice) (*TaxRate, error) {
	if inv.TaxRateID != nil {
		rate, err := tx.GetTaxRate(ctx, inv.OrganizationID, *inv.TaxRateID)
		if err != nil {
			return nil, err
		}
		return &rate, nil
	}
	return tx.DefaultTaxRate(ctx, inv.OrganizationID)
}

// RecordExpenseIncurred posts Dr Purchases / Cr Payable for the gross amount.
func (s *Service) RecordExpenseIncurred(ctx context.Context, orgID, expenseID uuid.UUID) (RecordResult, error) {
	return s.record(ctx, orgID, SourceExpense, expenseID, func(ctx context.Context, tx TxRepository, chart Chart) ([]Entry, error) {
		exp, err := tx.GetExpense(ctx, orgID, expenseID)
		if err != nil {
			return nil, err
		}
		return expensePostings(chart, exp)
	})
}

// RecordPaymentReceived posts Dr Bank / Cr Receivable.
func (s *Service) RecordPaymentReceived(ctx context.Context, orgID, paymentID uuid.UUID) (RecordResult, error) {
	return s.record(ctx, orgID, SourcePayment, paymentID, func(ctx context.Context, tx TxRepository, chart Chart) ([]Entry, error) {
		pay, err := tx.GetPayment(ctx, orgID, paymentID)
		if err != nil {
			return nil, err
		}
		return paymentPostings(chart, pay)
	})
}

// record short-circuits when entries exist, then loads the source, verifies the
// generated postings and inserts them in one transaction. A duplicate insert
// lost to a concurrent caller is reported as skipped.
func (s *Service) record(ctx context.Context, orgID uuid.UUID, src SourceType, srcID uuid.UUID, build buildFunc) (RecordResult, error) {
	if orgID == uuid.Nil || srcID == uuid.Nil {
		return RecordResult{}, fmt.Errorf("%w: organization and %s id required", shared.ErrInvalidInput, src)
	}
	var result RecordResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.HasEntries(ctx, src, srcID)
		if err != nil {
			return err
		}
		if exists {
			result.Skipped = true
			return nil
		}
		overrides, err := tx.AccountOverrides(ctx, orgID)
		if err != nil {
			return err
		}
		chart := s.chart.WithOverrides(overrides)
		entries, err := build(ctx, tx, chart)
		if err != nil {
			return err
		}
		if err := VerifyBalanced(entries); err != nil {
			return err
		}
		year := entries[0].FiscalYear
		if err := tx.LockYearShared(ctx, orgID, year); err != nil {
			return err
		}
		if s.guard != nil {
			if err := s.guard.EnsureYearOpen(ctx, orgID, year); err != nil {
				return err
			}
		}
		now := s.now()
		for i := range entries {
			entries[i].CreatedAt = now
		}
		if err := tx.InsertEntries(ctx, entries); err != nil {
			return err
		}
		result.Entries = entries
		return nil
	})
	if errors.Is(err, shared.ErrAlreadyProcessed) {
		result = RecordResult{Skipped: true}
		err = nil
	}
	if err != nil {
		if s.logger != nil && !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrInvalidInput) && !errors.Is(err, shared.ErrFiscalYearClosed) {
			s.logger.Error("ledger record", slog.String("source_type", string(src)), slog.String("source_id", srcID.String()), slog.Any("error", err))
		}
		return RecordResult{}, err
	}
	if s.logger != nil {
		if result.Skipped {
			s.logger.Info("ledger entries already exist", slog.String("source_type", string(src)), slog.String("source_id", srcID.String()))
		} else {
			s.logger.Info("ledger entries recorded", slog.String("source_type", string(src)), slog.String("source_id", srcID.String()), slog.Int("entries", len(result.Entries)))
		}
	}
	if s.audit != nil && !result.Skipped {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "ledger.record",
			Entity:   string(src),
			EntityID: srcID.String(),
			Meta: map[string]any{
				"organization_id": orgID.String(),
				"entries":         len(result.Entries),
			},
			At: s.now(),
		})
	}
	return result, nil
}

// ListEntries returns entries matching filter, most recent first.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if filter.OrganizationID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	if filter.FiscalPeriod != nil && (*filter.FiscalPeriod < 1 || *filter.FiscalPeriod > 12) {
		return nil, fmt.Errorf("%w: fiscal period %d", shared.ErrInvalidInput, *filter.FiscalPeriod)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListEntries(ctx, filter)
}

type pairKey struct {
	src    SourceType
	id     uuid.UUID
	debit  string
	credit string
}

// CheckIntegrity reports malformed rows, duplicated pairs and invoices whose
// posted receivable differs from the invoice total. It never repairs.
func (s *Service) CheckIntegrity(ctx context.Context, orgID uuid.UUID, year int) ([]IntegrityIssue, error) {
	if orgID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	entries, err := s.repo.EntriesForYear(ctx, orgID, year)
	if err != nil {
		return nil, err
	}
	overrides, err := s.repo.AccountOverrides(ctx, orgID)
	if err != nil {
		return nil, err
	}
	chart := s.chart.WithOverrides(overrides)

	var issues []IntegrityIssue
	pairs := make(map[pairKey]int)
	receivable := make(map[uuid.UUID]decimal.Decimal)
	var invoiceIDs []uuid.UUID
	for _, e := range entries {
		if err := VerifyBalanced([]Entry{e}); err != nil {
			var imb *shared.ImbalanceError
			detail := err.Error()
			if errors.As(err, &imb) {
				detail = imb.Reason
			}
			issues = append(issues, IntegrityIssue{Kind: IssueMalformed, SourceType: e.SourceType, SourceID: e.SourceID, EntryID: e.ID, Detail: detail})
		}
		k := pairKey{e.SourceType, e.SourceID, e.DebitAccount, e.CreditAccount}
		pairs[k]++
		if pairs[k] == 2 {
			issues = append(issues, IntegrityIssue{Kind: IssueDuplicatePair, SourceType: e.SourceType, SourceID: e.SourceID, EntryID: e.ID,
				Detail: fmt.Sprintf("%s/%s posted more than once", e.DebitAccount, e.CreditAccount)})
		}
		if e.SourceType == SourceInvoice && e.DebitAccount == chart.Receivable {
			if _, ok := receivable[e.SourceID]; !ok {
				invoiceIDs = append(invoiceIDs, e.SourceID)
			}
			receivable[e.SourceID] = receivable[e.SourceID].Add(e.Amount)
		}
	}
	if len(invoiceIDs) > 0 {
		totals, err := s.repo.InvoiceTotals(ctx, orgID, invoiceIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range invoiceIDs {
			total, ok := totals[id]
			if !ok {
				issues = append(issues, IntegrityIssue{Kind: IssueOrphanSource, SourceType: SourceInvoice, SourceID: id, Detail: "invoice not found"})
				continue
			}
			if posted := receivable[id]; !posted.Equal(round2(total)) {
				issues = append(issues, IntegrityIssue{Kind: IssueReceivableDrift, SourceType: SourceInvoice, SourceID: id,
					Detail: fmt.Sprintf("receivable %s, invoice total %s", posted.StringFixed(2), total.StringFixed(2))})
			}
		}
	}
	return issues, nil
}

// Organizations lists organizations holding ledger entries.
func (s *Service) Organizations(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListOrganizations(ctx)
}

// CountIntegrityIssues adapts CheckIntegrity to the background scan.
func (s *Service) CountIntegrityIssues(ctx context.Context, orgID uuid.UUID, year int) (int, error) {
	issues, err := s.CheckIntegrity(ctx, orgID, year)
	return len(issues), err
}
