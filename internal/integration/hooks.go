package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Numberer mints document numbers.
type Numberer interface {
	Next(ctx context.Context, in numbering.NextInput) (numbering.Issued, error)
}

// Ledger exposes the posting operations required by integrations.
type Ledger interface {
	RecordInvoiceIssued(ctx context.Context, orgID, invoiceID uuid.UUID) (ledger.RecordResult, error)
	RecordExpenseIncurred(ctx context.Context, orgID, expenseID uuid.UUID) (ledger.RecordResult, error)
	RecordPaymentReceived(ctx context.Context, orgID, paymentID uuid.UUID) (ledger.RecordResult, error)
}

// DocumentStore reads and stores the number printed on a document.
type DocumentStore interface {
	DocumentNumber(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType, id uuid.UUID) (string, error)
	AssignNumber(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType, id uuid.UUID, number string) error
}

// StatementImporter stores bank statement lines.
type StatementImporter interface {
	Import(ctx context.Context, in reconciliation.ImportInput) (reconciliation.ImportResult, error)
}

// Enqueuer schedules auto-match runs.
type Enqueuer interface {
	EnqueueAutoMatch(ctx context.Context, payload jobs.AutoMatchPayload) (*asynq.TaskInfo, error)
}

// Observer receives outcome counts for metrics.
type Observer interface {
	DocumentNumbered(docType string, reused bool)
	EntriesPosted(sourceType string, count int, skipped bool)
	StatementImported(imported, duplicates int)
}

// InvoiceIssuedEvent is raised when an invoice leaves draft.
type InvoiceIssuedEvent struct {
	OrganizationID uuid.UUID
	InvoiceID      uuid.UUID
	ActorID        uuid.UUID
	// Number is empty when the invoice has not been numbered yet.
	Number string
}

// ExpenseIncurredEvent is raised when an expense is recorded.
type ExpenseIncurredEvent struct {
	OrganizationID uuid.UUID
	ExpenseID      uuid.UUID
}

// PaymentReceivedEvent is raised when a customer payment is collected.
type PaymentReceivedEvent struct {
	OrganizationID uuid.UUID
	PaymentID      uuid.UUID
}

// StatementImportedEvent carries an uploaded bank statement.
type StatementImportedEvent struct {
	OrganizationID uuid.UUID
	BankAccountID  uuid.UUID
	ActorID        uuid.UUID
	Lines          []reconciliation.StatementLine
}

// Hooks wires document lifecycle events into numbering, the ledger and
// reconciliation, in that order.
type Hooks struct {
	numbers    Numberer
	ledger     Ledger
	documents  DocumentStore
	statements StatementImporter
	queue      Enqueuer
	observer   Observer
	logger     *slog.Logger
}

// NewHooks constructs integration hooks. queue may be nil, in which case
// imported statements wait for the next scheduled or manual auto-match.
func NewHooks(numbers Numberer, ledger Ledger, documents DocumentStore, statements StatementImporter, queue Enqueuer, logger *slog.Logger) *Hooks {
	return &Hooks{numbers: numbers, ledger: ledger, documents: documents, statements: statements, queue: queue, logger: logger}
}

// SetObserver attaches a metrics observer.
func (h *Hooks) SetObserver(o Observer) {
	h.observer = o
}

// InvoiceIssuedResult reports the number carried by the invoice and the
// postings written for it.
type InvoiceIssuedResult struct {
	Number  string
	Posting ledger.RecordResult
}

// HandleInvoiceIssued numbers the invoice when it has no number yet and
// then posts its accounting entries.
func (h *Hooks) HandleInvoiceIssued(ctx context.Context, evt InvoiceIssuedEvent) (InvoiceIssuedResult, error) {
	if h == nil || h.numbers == nil || h.ledger == nil || h.documents == nil {
		return InvoiceIssuedResult{}, errors.New("integration: hooks not configured")
	}
	if evt.OrganizationID == uuid.Nil || evt.InvoiceID == uuid.Nil {
		return InvoiceIssuedResult{}, fmt.Errorf("%w: organization and invoice required", shared.ErrInvalidInput)
	}
	number := evt.Number
	if number == "" {
		stored, err := h.documents.DocumentNumber(ctx, evt.OrganizationID, numbering.DocumentInvoice, evt.InvoiceID)
		if err != nil {
			return InvoiceIssuedResult{}, err
		}
		number = stored
	}
	if number == "" {
		issued, err := h.numbers.Next(ctx, nextInputFor(evt))
		if err != nil {
			return InvoiceIssuedResult{}, fmt.Errorf("integration: number invoice: %w", err)
		}
		if err := h.documents.AssignNumber(ctx, evt.OrganizationID, numbering.DocumentInvoice, evt.InvoiceID, issued.Value); err != nil {
			return InvoiceIssuedResult{}, fmt.Errorf("integration: assign invoice number: %w", err)
		}
		if h.observer != nil {
			h.observer.DocumentNumbered(string(numbering.DocumentInvoice), issued.Reused)
		}
		number = issued.Value
	}
	res, err := h.ledger.RecordInvoiceIssued(ctx, evt.OrganizationID, evt.InvoiceID)
	res, err = h.post(ledger.SourceInvoice, res, err)
	if err != nil {
		return InvoiceIssuedResult{}, err
	}
	return InvoiceIssuedResult{Number: number, Posting: res}, nil
}

// HandleExpenseIncurred posts the accounting entry for an expense.
func (h *Hooks) HandleExpenseIncurred(ctx context.Context, evt ExpenseIncurredEvent) (ledger.RecordResult, error) {
	if h == nil || h.ledger == nil {
		return ledger.RecordResult{}, errors.New("integration: hooks not configured")
	}
	res, err := h.ledger.RecordExpenseIncurred(ctx, evt.OrganizationID, evt.ExpenseID)
	return h.post(ledger.SourceExpense, res, err)
}

// HandlePaymentReceived posts the accounting entry for a payment.
func (h *Hooks) HandlePaymentReceived(ctx context.Context, evt PaymentReceivedEvent) (ledger.RecordResult, error) {
	if h == nil || h.ledger == nil {
		return ledger.RecordResult{}, errors.New("integration: hooks not configured")
	}
	res, err := h.ledger.RecordPaymentReceived(ctx, evt.OrganizationID, evt.PaymentID)
	return h.post(ledger.SourcePayment, res, err)
}

func (h *Hooks) post(source ledger.SourceType, res ledger.RecordResult, err error) (ledger.RecordResult, error) {
	if errors.Is(err, shared.ErrAlreadyProcessed) {
		res, err = ledger.RecordResult{Skipped: true}, nil
	}
	if err != nil {
		return res, err
	}
	if h.observer != nil {
		h.observer.EntriesPosted(string(source), len(res.Entries), res.Skipped)
	}
	return res, nil
}

// HandleStatementImported stores the statement and queues an auto-match
// run when new transactions arrived. A failed enqueue is logged and the
// import still succeeds.
func (h *Hooks) HandleStatementImported(ctx context.Context, evt StatementImportedEvent) (reconciliation.ImportResult, error) {
	if h == nil || h.statements == nil {
		return reconciliation.ImportResult{}, errors.New("integration: hooks not configured")
	}
	res, err := h.statements.Import(ctx, importInputFor(evt))
	if err != nil {
		return reconciliation.ImportResult{}, err
	}
	if h.observer != nil {
		h.observer.StatementImported(len(res.Imported), res.Duplicates)
	}
	if h.queue == nil || len(res.Imported) == 0 {
		return res, nil
	}
	if _, err := h.queue.EnqueueAutoMatch(ctx, autoMatchPayloadFor(evt)); err != nil && h.logger != nil {
		h.logger.Warn("enqueue auto-match after import",
			slog.String("organization_id", evt.OrganizationID.String()),
			slog.Any("error", err))
	}
	return res, nil
}
