package close

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort describes persistence used outside a transaction.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindClosure(ctx context.Context, orgID uuid.UUID, year int) (*Closure, error)
	ListClosures(ctx context.Context, orgID uuid.UUID) ([]Closure, error)
}

// TxRepository exposes the transactional operations of a close.
type TxRepository interface {
	LockYear(ctx context.Context, orgID uuid.UUID, year int) error
	FindClosure(ctx context.Context, orgID uuid.UUID, year int) (*Closure, error)
	ValidateEntries(ctx context.Context, in ValidateInput, at time.Time) (int, error)
	CountUnvalidated(ctx context.Context, orgID uuid.UUID, year int) (int, error)
	SumResult(ctx context.Context, orgID uuid.UUID, year int, revenuePrefix, expensePrefix string) (revenue, expenses decimal.Decimal, err error)
	AccountOverrides(ctx context.Context, orgID uuid.UUID) (map[string]string, error)
	InsertClosingEntry(ctx context.Context, entry ledger.Entry) error
	InsertClosure(ctx context.Context, closure Closure) error
}

// AuditPort records close events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service validates periods and closes fiscal years.
type Service struct {
	repo    RepositoryPort
	locker  shared.Locker
	audit   AuditPort
	chart   ledger.Chart
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service instance. A nil locker disables the
// cross-process guard; the database advisory lock still applies.
func NewService(repo RepositoryPort, locker shared.Locker, audit AuditPort, chart ledger.Chart, lockTTL time.Duration, logger *slog.Logger) *Service {
	if locker == nil {
		locker = shared.NoopLocker{}
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		audit:   audit,
		chart:   chart,
		lockTTL: lockTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ValidatePeriod marks every unvalidated entry of the period as validated
// and returns how many rows changed. Re-running it returns 0.
func (s *Service) ValidatePeriod(ctx context.Context, in ValidateInput) (int, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	var count int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		count, err = tx.ValidateEntries(ctx, in, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.logger != nil {
		s.logger.Info("period validated",
			slog.String("organization_id", in.OrganizationID.String()),
			slog.Int("year", in.Year), slog.Int("period", in.Period), slog.Int("validated", count))
	}
	if count > 0 {
		s.record(ctx, in.ActorID, "close.validate_period", fmt.Sprintf("%d-%02d", in.Year, in.Period), map[string]any{
			"organization_id": in.OrganizationID.String(),
			"validated":       count,
		})
	}
	return count, nil
}

// CloseFiscalYear posts the year result to retained earnings and records
// the closure. Every entry of the year must be validated first.
func (s *Service) CloseFiscalYear(ctx context.Context, in CloseInput) (Closing, error) {
	if err := in.Validate(); err != nil {
		return Closing{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.FiscalYearLockKey(in.OrganizationID, in.Year), s.lockTTL)
	if err != nil {
		return Closing{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil && s.logger != nil {
			s.logger.Warn("release close lock", slog.Any("error", err))
		}
	}()

	var closing Closing
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockYear(ctx, in.OrganizationID, in.Year); err != nil {
			return err
		}
		existing, err := tx.FindClosure(ctx, in.OrganizationID, in.Year)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %d", ErrYearClosed, in.Year)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := tx.CountUnvalidated(ctx, in.OrganizationID, in.Year)
		if err != nil {
			return err
		}
		if pending > 0 {
			return &shared.UnvalidatedEntriesError{Year: in.Year, Count: pending}
		}
		overrides, err := tx.AccountOverrides(ctx, in.OrganizationID)
		if err != nil {
			return err
		}
		chart := s.chart.WithOverrides(overrides)
		if chart.RetainedProfit == chart.RetainedLoss {
			return ErrInvalidChart
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		revenue, expenses, err := tx.SumResult(ctx, in.OrganizationID, in.Year, chart.RevenuePrefix, chart.ExpensePrefix)
		if err != nil {
			return err
		}
		closing = s.buildClosing(in, chart, revenue, expenses)
		if err := ledger.VerifyBalanced([]ledger.Entry{closing.Entry}); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.InsertClosingEntry(ctx, closing.Entry); err != nil {
			return err
		}
		return tx.InsertClosure(ctx, closing.Closure)
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("fiscal year close rejected",
				slog.String("organization_id", in.OrganizationID.String()),
				slog.Int("year", in.Year), slog.Any("error", err))
		}
		return Closing{}, err
	}
	if s.logger != nil {
		s.logger.Info("fiscal year closed",
			slog.String("organization_id", in.OrganizationID.String()),
			slog.Int("year", in.Year),
			slog.String("result", closing.Closure.Result.StringFixed(2)))
	}
	s.record(ctx, in.ActorID, "close.fiscal_year", fmt.Sprintf("%d", in.Year), map[string]any{
		"organization_id": in.OrganizationID.String(),
		"result":          closing.Closure.Result.StringFixed(2),
		"entry_id":        closing.Entry.ID.String(),
	})
	return closing, nil
}

// buildClosing computes the year result and its retained earnings posting.
// A profit debits RetainedLoss and credits RetainedProfit; a loss is the mirror.
func (s *Service) buildClosing(in CloseInput, chart ledger.Chart, revenue, expenses decimal.Decimal) Closing {
	now := s.now()
	result := revenue.Sub(expenses).Round(2)
	debit, credit, label := chart.RetainedLoss, chart.RetainedProfit, "profit"
	if result.IsNegative() {
		debit, credit, label = chart.RetainedProfit, chart.RetainedLoss, "loss"
	}
	closureID := uuid.New()
	var actor *uuid.UUID
	if in.ActorID != uuid.Nil {
		id := in.ActorID
		actor = &id
	}
	entry := ledger.Entry{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		SourceType:     ledger.SourceClosing,
		SourceID:       closureID,
		JournalType:    ledger.JournalClosing,
		EntryDate:      shared.YearEnd(in.Year),
		Description:    fmt.Sprintf("Closing fiscal year %d - result: %s", in.Year, label),
		DebitAccount:   debit,
		CreditAccount:  credit,
		Amount:         result.Abs(),
		FiscalYear:     in.Year,
		FiscalPeriod:   12,
		IsValidated:    true,
		ValidatedBy:    actor,
		ValidatedAt:    &now,
		CreatedAt:      now,
	}
	return Closing{
		Closure: Closure{
			ID:             closureID,
			OrganizationID: in.OrganizationID,
			FiscalYear:     in.Year,
			Result:         result,
			ClosingEntryID: entry.ID,
			ClosedBy:       actor,
			ClosedAt:       now,
		},
		Entry:    entry,
		Revenue:  revenue,
		Expenses: expenses,
	}
}

// EnsureYearOpen rejects postings into a closed fiscal year.
func (s *Service) EnsureYearOpen(ctx context.Context, orgID uuid.UUID, year int) error {
	closure, err := s.repo.FindClosure(ctx, orgID, year)
	if err != nil {
		return err
	}
	if closure != nil {
		return fmt.Errorf("%w: %d", ErrYearClosed, year)
	}
	return nil
}

// ListClosures returns the organization's closed years, latest first.
func (s *Service) ListClosures(ctx context.Context, orgID uuid.UUID) ([]Closure, error) {
	if orgID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	return s.repo.ListClosures(ctx, orgID)
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "fiscal_year",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("close audit", slog.Any("error", err))
	}
}
