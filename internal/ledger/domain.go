package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// SourceType identifies the business event an entry was derived from.
type SourceType string

const (
	SourceInvoice SourceType = "invoice"
	SourceExpense SourceType = "expense"
	SourcePayment SourceType = "payment"
	SourceClosing SourceType = "closing"
)

// JournalType groups entries by book.
type JournalType string

const (
	JournalSales     JournalType = "sales"
	JournalPurchases JournalType = "purchases"
	JournalBank      JournalType = "bank"
	JournalClosing   JournalType = "closing"
)

// Chart maps posting roles to account codes.
type Chart struct {
	Receivable     string `envconfig:"ACCOUNT_RECEIVABLE" default:"411"`
	Revenue        string `envconfig:"ACCOUNT_REVENUE" default:"706"`
	TaxPayable     string `envconfig:"ACCOUNT_TAX_PAYABLE" default:"44571"`
	Purchases      string `envconfig:"ACCOUNT_PURCHASES" default:"6061"`
	Payable        string `envconfig:"ACCOUNT_PAYABLE" default:"401"`
	Bank           string `envconfig:"ACCOUNT_BANK" default:"512"`
	RetainedProfit string `envconfig:"ACCOUNT_RETAINED_PROFIT" default:"120"`
	RetainedLoss   string `envconfig:"ACCOUNT_RETAINED_LOSS" default:"129"`
	// RevenuePrefix and ExpensePrefix select the account classes summed at year end.
	RevenuePrefix string `envconfig:"REVENUE_PREFIX" default:"7"`
	ExpensePrefix string `envconfig:"EXPENSE_PREFIX" default:"6"`
}

// DefaultChart returns the French general chart used when nothing is configured.
func DefaultChart() Chart {
	return Chart{
		Receivable:     "411",
		Revenue:        "706",
		TaxPayable:     "44571",
		Purchases:      "6061",
		Payable:        "401",
		Bank:           "512",
		RetainedProfit: "120",
		RetainedLoss:   "129",
		RevenuePrefix:  "7",
		ExpensePrefix:  "6",
	}
}

// Mapping keys accepted from account_mappings.
const (
	KeyReceivable     = "receivable"
	KeyRevenue        = "revenue"
	KeyTaxPayable     = "tax_payable"
	KeyPurchases      = "purchases"
	KeyPayable        = "payable"
	KeyBank           = "bank"
	KeyRetainedProfit = "retained_profit"
	KeyRetainedLoss   = "retained_loss"
	KeyRevenuePrefix  = "revenue_prefix"
	KeyExpensePrefix  = "expense_prefix"
)

// WithOverrides applies organization specific account codes.
func (c Chart) WithOverrides(overrides map[string]string) Chart {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(overrides[key]); v != "" {
			*dst = v
		}
	}
	set(&c.Receivable, KeyReceivable)
	set(&c.Revenue, KeyRevenue)
	set(&c.TaxPayable, KeyTaxPayable)
	set(&c.Purchases, KeyPurchases)
	set(&c.Payable, KeyPayable)
	set(&c.Bank, KeyBank)
	set(&c.RetainedProfit, KeyRetainedProfit)
	set(&c.RetainedLoss, KeyRetainedLoss)
	set(&c.RevenuePrefix, KeyRevenuePrefix)
	set(&c.ExpensePrefix, KeyExpensePrefix)
	return c
}

// Validate ensures every role has an account.
func (c Chart) Validate() error {
	for name, v := range map[string]string{
		KeyReceivable: c.Receivable, KeyRevenue: c.Revenue, KeyTaxPayable: c.TaxPayable,
		KeyPurchases: c.Purchases, KeyPayable: c.Payable, KeyBank: c.Bank,
		KeyRetainedProfit: c.RetainedProfit, KeyRetainedLoss: c.RetainedLoss,
		KeyRevenuePrefix: c.RevenuePrefix, KeyExpensePrefix: c.ExpensePrefix,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("ledger: chart account %s missing", name)
		}
	}
	if c.RetainedProfit == c.RetainedLoss {
		return errors.New("ledger: retained profit and loss accounts must differ")
	}
	return nil
}

// Entry is one paired debit/credit posting.
type Entry struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	SourceType     SourceType
	SourceID       uuid.UUID
	JournalType    JournalType
	EntryDate      time.Time
	Description    string
	DebitAccount   string
	CreditAccount  string
	Amount         decimal.Decimal
	TaxRateID      *uuid.UUID
	TaxAmount      decimal.NullDecimal
	FiscalYear     int
	FiscalPeriod   int
	IsValidated    bool
	ValidatedBy    *uuid.UUID
	ValidatedAt    *time.Time
	CreatedAt      time.Time
}

// Invoice is the read model of a customer invoice.
type Invoice struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Number         string
	Status         string
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	TaxRateID      *uuid.UUID
	IssueDate      *time.Time
	DueDate        *time.Time
}

// Expense is the read model of a supplier expense.
type Expense struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Number         string
	Amount         decimal.Decimal
	ExpenseDate    *time.Time
	PaymentStatus  string
}

// Payment is the read model of a collected payment.
type Payment struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	InvoiceID      *uuid.UUID
	InvoiceNumber  string
	Amount         decimal.Decimal
	PaymentDate    *time.Time
	Method         string
}

// TaxRate is a percentage rate such as 20 for 20%.
type TaxRate struct {
	ID   uuid.UUID
	Rate decimal.Decimal
}

// RecordResult reports what a Record* call wrote.
type RecordResult struct {
	Entries []Entry
	// Skipped is set when the source already had entries.
	Skipped bool
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	OrganizationID uuid.UUID
	SourceType     SourceType
	SourceID       *uuid.UUID
	FiscalYear     *int
	FiscalPeriod   *int
	Validated      *bool
	Limit          int
	Offset         int
}

// IssueKind classifies ledger integrity findings.
type IssueKind string

const (
	IssueMalformed       IssueKind = "malformed"
	IssueDuplicatePair   IssueKind = "duplicate_pair"
	IssueReceivableDrift IssueKind = "receivable_drift"
	IssueOrphanSource    IssueKind = "orphan_source"
)

// IntegrityIssue is a read-only finding; nothing is repaired.
type IntegrityIssue struct {
	Kind       IssueKind
	SourceType SourceType
	SourceID   uuid.UUID
	EntryID    uuid.UUID
	Detail     string
}

var (
	// ErrInvoiceNotFound indicates the invoice is absent or owned by another organization.
	ErrInvoiceNotFound = fmt.Errorf("ledger: invoice %w", shared.ErrNotFound)
	// ErrExpenseNotFound indicates the expense is absent or owned by another organization.
	ErrExpenseNotFound = fmt.Errorf("ledger: expense %w", shared.ErrNotFound)
	// ErrPaymentNotFound indicates the payment is absent or owned by another organization.
	ErrPaymentNotFound = fmt.Errorf("ledger: payment %w", shared.ErrNotFound)
	// ErrTaxRateNotFound indicates the referenced tax rate is absent.
	ErrTaxRateNotFound = fmt.Errorf("ledger: tax rate %w", shared.ErrNotFound)
	// ErrMissingDate indicates the event carries no effective date.
	ErrMissingDate = fmt.Errorf("ledger: effective date missing: %w", shared.ErrInvalidInput)
)
