package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// splitInvoice derives net and tax. rate is the explicit or default rate in
// percent, nil when the organization has none. A gross-only invoice is split
// as net = round2(total / (1 + rate/100)) and tax = total - net.
func splitInvoice(inv Invoice, rate *decimal.Decimal) (net, tax decimal.Decimal) {
	explicitTax := inv.TaxRateID != nil && inv.TaxAmount.IsPositive()
	if inv.Subtotal.IsPositive() {
		net = round2(inv.Subtotal)
		switch {
		case explicitTax:
			tax = round2(inv.TaxAmount)
		case rate != nil:
			tax = round2(net.Mul(*rate).Div(hundred))
		}
		return net, tax
	}
	total := round2(inv.Total)
	switch {
	case explicitTax:
		tax = round2(inv.TaxAmount)
		net = total.Sub(tax)
	case rate != nil && rate.IsPositive():
		net = round2(total.Div(decimal.NewFromInt(1).Add(rate.Div(hundred))))
		tax = total.Sub(net)
	default:
		net = total
	}
	return net, tax
}

func effectiveDate(d *time.Time) (time.Time, error) {
	if d == nil || d.IsZero() {
		return time.Time{}, ErrMissingDate
	}
	return *d, nil
}

func newEntry(orgID uuid.UUID, src SourceType, srcID uuid.UUID, journal JournalType, date time.Time, desc, debit, credit string, amount decimal.Decimal) Entry {
	fp := shared.FiscalPeriodOf(date)
	return Entry{
		ID:             uuid.New(),
		OrganizationID: orgID,
		SourceType:     src,
		SourceID:       srcID,
		JournalType:    journal,
		EntryDate:      date,
		Description:    desc,
		DebitAccount:   debit,
		CreditAccount:  credit,
		Amount:         round2(amount),
		FiscalYear:     fp.Year,
		FiscalPeriod:   fp.Period,
	}
}

// invoicePostings emits Dr Receivable / Cr Revenue for the net amount and
// Dr Receivable / Cr TaxPayable when tax is positive.
func invoicePostings(chart Chart, inv Invoice, rate *TaxRate) ([]Entry, error) {
	date, err := effectiveDate(inv.IssueDate)
	if err != nil {
		return nil, err
	}
	var pct *decimal.Decimal
	var rateID *uuid.UUID
	if rate != nil {
		pct = &rate.Rate
		id := rate.ID
		rateID = &id
	}
	net, tax := splitInvoice(inv, pct)
	sale := newEntry(inv.OrganizationID, SourceInvoice, inv.ID, JournalSales, date,
		fmt.Sprintf("Invoice %s", inv.Number), chart.Receivable, chart.Revenue, net)
	sale.TaxRateID = rateID
	sale.TaxAmount = decimal.NewNullDecimal(tax)
	entries := []Entry{sale}
	if tax.IsPositive() {
		vat := newEntry(inv.OrganizationID, SourceInvoice, inv.ID, JournalSales, date,
			fmt.Sprintf("Output tax - invoice %s", inv.Number), chart.Receivable, chart.TaxPayable, tax)
		vat.TaxRateID = rateID
		vat.TaxAmount = decimal.NewNullDecimal(tax)
		entries = append(entries, vat)
	}
	return entries, nil
}

// expensePostings emits Dr Purchases / Cr Payable for the gross amount.
func expensePostings(chart Chart, exp Expense) ([]Entry, error) {
	date, err := effectiveDate(exp.ExpenseDate)
	if err != nil {
		return nil, err
	}
	return []Entry{newEntry(exp.OrganizationID, SourceExpense, exp.ID, JournalPurchases, date,
		fmt.Sprintf("Expense %s", exp.Number), chart.Purchases, chart.Payable, exp.Amount)}, nil
}

// paymentPostings emits Dr Bank / Cr Receivable for the collected amount.
func paymentPostings(chart Chart, pay Payment) ([]Entry, error) {
	date, err := effectiveDate(pay.PaymentDate)
	if err != nil {
		return nil, err
	}
	desc := "Payment received"
	if pay.InvoiceNumber != "" {
		desc = "Payment for invoice " + pay.InvoiceNumber
	}
	if pay.Method != "" {
		desc += " - " + pay.Method
	}
	return []Entry{newEntry(pay.OrganizationID, SourcePayment, pay.ID, JournalBank, date,
		desc, chart.Bank, chart.Receivable, pay.Amount)}, nil
}

// VerifyBalanced rejects postings that would break the double-entry
// invariant. Each row carries its debit and credit leg with a single amount,
// so a row is balanced when both accounts are set and distinct and the amount
// is non-negative with cent precision. All rows must share one source.
func VerifyBalanced(entries []Entry) error {
	if len(entries) == 0 {
		return &shared.ImbalanceError{Reason: "no postings generated"}
	}
	src, srcID := entries[0].SourceType, entries[0].SourceID
	fail := func(reason string) error {
		return &shared.ImbalanceError{SourceType: string(src), SourceID: srcID.String(), Reason: reason}
	}
	for i, e := range entries {
		if e.SourceType != src || e.SourceID != srcID {
			return fail(fmt.Sprintf("row %d belongs to %s %s", i, e.SourceType, e.SourceID))
		}
		if strings.TrimSpace(e.DebitAccount) == "" || strings.TrimSpace(e.CreditAccount) == "" {
			return fail(fmt.Sprintf("row %d has a blank account", i))
		}
		if e.DebitAccount == e.CreditAccount {
			return fail(fmt.Sprintf("row %d debits and credits %s", i, e.DebitAccount))
		}
		if e.Amount.IsNegative() {
			return fail(fmt.Sprintf("row %d has negative amount %s", i, e.Amount))
		}
		if !e.Amount.Equal(round2(e.Amount)) {
			return fail(fmt.Sprintf("row %d amount %s exceeds cent precision", i, e.Amount))
		}
		if e.FiscalPeriod < 1 || e.FiscalPeriod > 12 {
			return fail(fmt.Sprintf("row %d fiscal period %d", i, e.FiscalPeriod))
		}
	}
	return nil
}
