package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// TransactionType is the direction of a bank movement.
type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// Status is the reconciliation state of a bank transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMatched   Status = "matched"
	StatusConfirmed Status = "confirmed"
)

// MatchType names the kind of document a transaction settles.
type MatchType string

const (
	MatchInvoice MatchType = "invoice"
	MatchExpense MatchType = "expense"
	MatchPayment MatchType = "payment"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	switch t {
	case MatchInvoice, MatchExpense, MatchPayment:
		return true
	}
	return false
}

// BankTransaction is one imported statement line.
type BankTransaction struct {
	ID               uuid.UUID
	OrganizationID   uuid.UUID
	BankAccountID    uuid.UUID
	TransactionDate  time.Time
	Amount           decimal.Decimal
	Type             TransactionType
	Description      string
	Status           Status
	MatchedInvoiceID *uuid.UUID
	MatchedExpenseID *uuid.UUID
	MatchedPaymentID *uuid.UUID
	ReconciledAt     *time.Time
	ReconciledBy     *uuid.UUID
	Notes            string
}

// MatchRef returns the single document the transaction references, if any.
func (t BankTransaction) MatchRef() (MatchType, uuid.UUID, bool) {
	switch {
	case t.MatchedInvoiceID != nil:
		return MatchInvoice, *t.MatchedInvoiceID, true
	case t.MatchedExpenseID != nil:
		return MatchExpense, *t.MatchedExpenseID, true
	case t.MatchedPaymentID != nil:
		return MatchPayment, *t.MatchedPaymentID, true
	}
	return "", uuid.Nil, false
}

// Candidate is an open document a transaction may settle. Date is the
// invoice due date or the expense date.
type Candidate struct {
	Type   MatchType
	ID     uuid.UUID
	Number string
	Amount decimal.Decimal
	Date   time.Time
}

// Tolerance bounds how far a candidate may drift from the transaction.
type Tolerance struct {
	Days   int
	Amount decimal.Decimal
}

// DefaultTolerance is applied when a request leaves a bound unset.
func DefaultTolerance() Tolerance {
	return Tolerance{Days: 7, Amount: decimal.RequireFromString("0.01")}
}

// Match pairs a transaction with the document it settles.
type Match struct {
	TransactionID  uuid.UUID
	Type           MatchType
	DocumentID     uuid.UUID
	DocumentNumber string
	AmountDiff     decimal.Decimal
	DateDiffDays   int
}

// AutoMatchInput configures one greedy pass.
type AutoMatchInput struct {
	OrganizationID  uuid.UUID `validate:"required"`
	BankAccountID   *uuid.UUID
	ToleranceDays   *int `validate:"omitempty,min=0,max=366"`
	ToleranceAmount *decimal.Decimal
	ActorID         uuid.UUID
}

// AutoMatchResult lists what the pass matched and what stayed pending.
type AutoMatchResult struct {
	Matched   []Match
	Unmatched []BankTransaction
}

// ReconcileInput is a manual match request.
type ReconcileInput struct {
	OrganizationID uuid.UUID `validate:"required"`
	TransactionID  uuid.UUID `validate:"required"`
	MatchType      MatchType `validate:"required,oneof=invoice expense payment"`
	MatchID        uuid.UUID `validate:"required"`
	ActorID        uuid.UUID
}

// StatementLine is one row of an imported bank statement. A negative
// amount is a debit.
type StatementLine struct {
	TransactionDate time.Time
	Amount          decimal.Decimal
	Description     string
}

// ImportInput carries a statement for one bank account.
type ImportInput struct {
	OrganizationID uuid.UUID `validate:"required"`
	BankAccountID  uuid.UUID `validate:"required"`
	Lines          []StatementLine
}

// ImportResult reports inserted transactions and skipped duplicates.
type ImportResult struct {
	Imported   []BankTransaction
	Duplicates int
}

var (
	// ErrTransactionNotFound indicates the transaction is absent or cross-tenant.
	ErrTransactionNotFound = fmt.Errorf("reconciliation: transaction %w", shared.ErrNotFound)
	// ErrDocumentNotFound indicates the match target is absent or cross-tenant.
	ErrDocumentNotFound = fmt.Errorf("reconciliation: document %w", shared.ErrNotFound)
	// ErrTransactionMatched indicates the transaction is no longer pending.
	ErrTransactionMatched = fmt.Errorf("reconciliation: transaction %w", shared.ErrDuplicateMatch)
	// ErrDocumentMatched indicates another transaction references the document.
	ErrDocumentMatched = fmt.Errorf("reconciliation: document %w", shared.ErrDuplicateMatch)
	// ErrNotMatched indicates a confirm on a transaction without a match.
	ErrNotMatched = fmt.Errorf("reconciliation: transaction not matched: %w", shared.ErrInvalidInput)
)

func noteFor(existing string, m Match) string {
	note := fmt.Sprintf("Auto-matched with %s %s", m.Type, m.DocumentNumber)
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return existing + " - " + note
}
