package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts bank transaction persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the transactional operations of the matcher.
type TxRepository interface {
	// PendingTransactions locks and returns pending transactions, newest first.
	PendingTransactions(ctx context.Context, orgID uuid.UUID, bankAccountID *uuid.UUID) ([]BankTransaction, error)
	// OpenInvoices returns sent invoices due within [from, to] that no live transaction references.
	OpenInvoices(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]Candidate, error)
	// OpenExpenses returns pending or partial expenses dated within [from, to] that no live transaction references.
	OpenExpenses(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]Candidate, error)
	GetTransaction(ctx context.Context, orgID, id uuid.UUID) (BankTransaction, error)
	GetDocument(ctx context.Context, orgID uuid.UUID, kind MatchType, id uuid.UUID) (Candidate, error)
	DocumentReferenced(ctx context.Context, kind MatchType, id uuid.UUID) (bool, error)
	SaveMatch(ctx context.Context, tx BankTransaction) error
	SettleDocument(ctx context.Context, kind MatchType, id uuid.UUID) error
	ReopenDocument(ctx context.Context, kind MatchType, id uuid.UUID) error
	FindDuplicate(ctx context.Context, bankAccountID uuid.UUID, line StatementLine) (bool, error)
	InsertTransaction(ctx context.Context, tx BankTransaction) error
}

// Service matches bank transactions against open invoices and expenses.
type Service struct {
	repo      RepositoryPort
	locker    shared.Locker
	defaults  Tolerance
	lockTTL   time.Duration
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
	idFactory func() uuid.UUID
}

// NewService constructs the reconciliation service. A nil locker runs
// without the cross-process guard.
func NewService(repo RepositoryPort, locker shared.Locker, defaults Tolerance, lockTTL time.Duration, logger *slog.Logger) *Service {
	if locker == nil {
		locker = shared.NoopLocker{}
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		defaults:  defaults,
		lockTTL:   lockTTL,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
		idFactory: uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) tolerance(days *int, amount *decimal.Decimal) (Tolerance, error) {
	tol := s.defaults
	if days != nil {
		tol.Days = *days
	}
	if amount != nil {
		tol.Amount = *amount
	}
	if tol.Days < 0 || tol.Amount.IsNegative() {
		return Tolerance{}, fmt.Errorf("%w: tolerances must be non-negative", shared.ErrInvalidInput)
	}
	return tol, nil
}

// AutoMatch runs one greedy pass over the organization's pending
// transactions inside a single database transaction. Cancelling ctx between
// iterations rolls the whole batch back.
func (s *Service) AutoMatch(ctx context.Context, in AutoMatchInput) (AutoMatchResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return AutoMatchResult{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	tol, err := s.tolerance(in.ToleranceDays, in.ToleranceAmount)
	if err != nil {
		return AutoMatchResult{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.AutoMatchLockKey(in.OrganizationID), s.lockTTL)
	if err != nil {
		return AutoMatchResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil && s.logger != nil {
			s.logger.Warn("release auto-match lock", slog.Any("error", err))
		}
	}()

	var result AutoMatchResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = AutoMatchResult{}
		pending, err := tx.PendingTransactions(ctx, in.OrganizationID, in.BankAccountID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		sortPending(pending)
		from, to := window(pending, tol.Days)
		invoices, err := tx.OpenInvoices(ctx, in.OrganizationID, from, to)
		if err != nil {
			return err
		}
		expenses, err := tx.OpenExpenses(ctx, in.OrganizationID, from, to)
		if err != nil {
			return err
		}
		m := newMatcher(tol, invoices, expenses)
		for _, bt := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			match, ok := m.next(bt)
			if !ok {
				result.Unmatched = append(result.Unmatched, bt)
				continue
			}
			if err := s.apply(ctx, tx, bt, match, in.ActorID, noteFor(bt.Notes, match)); err != nil {
				return err
			}
			result.Matched = append(result.Matched, match)
		}
		return nil
	})
	if err != nil {
		return AutoMatchResult{}, err
	}
	if s.logger != nil {
		s.logger.Info("auto-match completed",
			slog.String("organization_id", in.OrganizationID.String()),
			slog.Int("matched", len(result.Matched)),
			slog.Int("unmatched", len(result.Unmatched)))
	}
	return result, nil
}

// window spans every pending transaction date widened by the day tolerance.
func window(txs []BankTransaction, days int) (time.Time, time.Time) {
	from, to := txs[0].TransactionDate, txs[0].TransactionDate
	for _, t := range txs[1:] {
		if t.TransactionDate.Before(from) {
			from = t.TransactionDate
		}
		if t.TransactionDate.After(to) {
			to = t.TransactionDate
		}
	}
	return from.AddDate(0, 0, -days), to.AddDate(0, 0, days)
}

// apply writes one match and settles its document.
func (s *Service) apply(ctx context.Context, tx TxRepository, bt BankTransaction, m Match, actor uuid.UUID, notes string) error {
	id := m.DocumentID
	switch m.Type {
	case MatchInvoice:
		bt.MatchedInvoiceID = &id
	case MatchExpense:
		bt.MatchedExpenseID = &id
	case MatchPayment:
		bt.MatchedPaymentID = &id
	}
	now := s.now()
	bt.Status = StatusMatched
	bt.ReconciledAt = &now
	bt.ReconciledBy = nil
	if actor != uuid.Nil {
		bt.ReconciledBy = &actor
	}
	bt.Notes = notes
	if err := tx.SaveMatch(ctx, bt); err != nil {
		return err
	}
	return tx.SettleDocument(ctx, m.Type, m.DocumentID)
}

// Reconcile manually matches a pending transaction to a document of the
// same organization without any tolerance search.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (BankTransaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return BankTransaction{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	var out BankTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bt, err := tx.GetTransaction(ctx, in.OrganizationID, in.TransactionID)
		if err != nil {
			return err
		}
		doc, err := tx.GetDocument(ctx, in.OrganizationID, in.MatchType, in.MatchID)
		if err != nil {
			return err
		}
		if bt.Status != StatusPending {
			return ErrTransactionMatched
		}
		referenced, err := tx.DocumentReferenced(ctx, in.MatchType, in.MatchID)
		if err != nil {
			return err
		}
		if referenced {
			return ErrDocumentMatched
		}
		m := Match{
			TransactionID:  bt.ID,
			Type:           doc.Type,
			DocumentID:     doc.ID,
			DocumentNumber: doc.Number,
			AmountDiff:     doc.Amount.Sub(bt.Amount).Abs(),
			DateDiffDays:   daysBetween(doc.Date, bt.TransactionDate),
		}
		if err := s.apply(ctx, tx, bt, m, in.ActorID, bt.Notes); err != nil {
			return err
		}
		out, err = tx.GetTransaction(ctx, in.OrganizationID, in.TransactionID)
		return err
	})
	if err != nil {
		return BankTransaction{}, err
	}
	if s.logger != nil {
		s.logger.Info("transaction reconciled",
			slog.String("transaction_id", in.TransactionID.String()),
			slog.String("match_type", string(in.MatchType)),
			slog.String("match_id", in.MatchID.String()))
	}
	return out, nil
}

// Unreconcile clears every match reference, returns the transaction to
// pending and reopens the document it had settled.
func (s *Service) Unreconcile(ctx context.Context, orgID, txID uuid.UUID) (BankTransaction, error) {
	if orgID == uuid.Nil || txID == uuid.Nil {
		return BankTransaction{}, fmt.Errorf("%w: organization and transaction required", shared.ErrInvalidInput)
	}
	var out BankTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bt, err := tx.GetTransaction(ctx, orgID, txID)
		if err != nil {
			return err
		}
		kind, docID, matched := bt.MatchRef()
		bt.MatchedInvoiceID, bt.MatchedExpenseID, bt.MatchedPaymentID = nil, nil, nil
		bt.Status = StatusPending
		bt.ReconciledAt, bt.ReconciledBy = nil, nil
		if err := tx.SaveMatch(ctx, bt); err != nil {
			return err
		}
		if matched {
			if err := tx.ReopenDocument(ctx, kind, docID); err != nil {
				return err
			}
		}
		out = bt
		return nil
	})
	if err != nil {
		return BankTransaction{}, err
	}
	if s.logger != nil {
		s.logger.Info("transaction unreconciled", slog.String("transaction_id", txID.String()))
	}
	return out, nil
}

// Confirm moves a matched transaction to confirmed.
func (s *Service) Confirm(ctx context.Context, orgID, txID, actor uuid.UUID) (BankTransaction, error) {
	if orgID == uuid.Nil || txID == uuid.Nil {
		return BankTransaction{}, fmt.Errorf("%w: organization and transaction required", shared.ErrInvalidInput)
	}
	var out BankTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bt, err := tx.GetTransaction(ctx, orgID, txID)
		if err != nil {
			return err
		}
		if bt.Status == StatusConfirmed {
			out = bt
			return nil
		}
		if bt.Status != StatusMatched {
			return ErrNotMatched
		}
		now := s.now()
		bt.Status = StatusConfirmed
		bt.ReconciledAt = &now
		if actor != uuid.Nil {
			bt.ReconciledBy = &actor
		}
		out = bt
		return tx.SaveMatch(ctx, bt)
	})
	if err != nil {
		return BankTransaction{}, err
	}
	return out, nil
}

// Suggest ranks the open documents a pending transaction could settle
// without writing anything.
func (s *Service) Suggest(ctx context.Context, orgID, txID uuid.UUID, days *int, amount *decimal.Decimal) ([]Match, error) {
	if orgID == uuid.Nil || txID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization and transaction required", shared.ErrInvalidInput)
	}
	tol, err := s.tolerance(days, amount)
	if err != nil {
		return nil, err
	}
	var out []Match
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bt, err := tx.GetTransaction(ctx, orgID, txID)
		if err != nil {
			return err
		}
		if bt.Status != StatusPending {
			return ErrTransactionMatched
		}
		from, to := window([]BankTransaction{bt}, tol.Days)
		var pool []Candidate
		switch bt.Type {
		case Credit:
			pool, err = tx.OpenInvoices(ctx, orgID, from, to)
		case Debit:
			pool, err = tx.OpenExpenses(ctx, orgID, from, to)
		}
		if err != nil {
			return err
		}
		if bt.Type == Credit {
			out = newMatcher(tol, pool, nil).rank(bt)
		} else {
			out = newMatcher(tol, nil, pool).rank(bt)
		}
		return nil
	})
	return out, err
}

// Import stores statement lines for one bank account. Lines matching an
// existing transaction on date, amount and description are skipped.
func (s *Service) Import(ctx context.Context, in ImportInput) (ImportResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if len(in.Lines) == 0 {
		return ImportResult{}, fmt.Errorf("%w: statement has no lines", shared.ErrInvalidInput)
	}
	for i, line := range in.Lines {
		if line.TransactionDate.IsZero() {
			return ImportResult{}, fmt.Errorf("%w: line %d has no date", shared.ErrInvalidInput, i)
		}
	}
	var result ImportResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ImportResult{}
		for _, line := range in.Lines {
			line.Amount = line.Amount.Round(2)
			line.Description = strings.TrimSpace(line.Description)
			dup, err := tx.FindDuplicate(ctx, in.BankAccountID, line)
			if err != nil {
				return err
			}
			if dup {
				result.Duplicates++
				continue
			}
			kind := Credit
			if line.Amount.IsNegative() {
				kind = Debit
			}
			bt := BankTransaction{
				ID:              s.idFactory(),
				OrganizationID:  in.OrganizationID,
				BankAccountID:   in.BankAccountID,
				TransactionDate: line.TransactionDate,
				Amount:          line.Amount.Abs(),
				Type:            kind,
				Description:     line.Description,
				Status:          StatusPending,
			}
			if err := tx.InsertTransaction(ctx, bt); err != nil {
				return err
			}
			result.Imported = append(result.Imported, bt)
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	if s.logger != nil {
		s.logger.Info("bank statement imported",
			slog.String("organization_id", in.OrganizationID.String()),
			slog.Int("imported", len(result.Imported)),
			slog.Int("duplicates", result.Duplicates))
	}
	return result, nil
}
