package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Services bundles the domain services shared by every binary.
type Services struct {
	Numbering      *numbering.Service
	Ledger         *ledger.Service
	Close          *close.Service
	Reconciliation *reconciliation.Service
	Hooks          *integration.Hooks
}

// ServiceDeps carries the infrastructure NewServices wires together.
// RedisClient and Queue may be nil.
type ServiceDeps struct {
	Config      *Config
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Queue       integration.Enqueuer
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// NewServices builds the services. The closer guards ledger postings into
// closed fiscal years.
func NewServices(deps ServiceDeps) *Services {
	var locker shared.Locker = shared.NoopLocker{}
	if deps.RedisClient != nil {
		locker = shared.NewRedisLocker(deps.RedisClient)
	}
	auditLogger := shared.NewAuditLogger(deps.Pool)
	chart := deps.Config.Chart

	numberingService := numbering.NewService(numbering.NewRepository(deps.Pool), auditLogger, deps.Logger)
	closeService := close.NewService(close.NewRepository(deps.Pool), locker, auditLogger, chart, deps.Config.CloseLockTTL, deps.Logger)
	ledgerService := ledger.NewService(ledger.NewRepository(deps.Pool), closeService, auditLogger, chart, deps.Logger)
	reconciliationService := reconciliation.NewService(reconciliation.NewRepository(deps.Pool), locker, deps.Config.Tolerance(), deps.Config.ReconcileLockTTL, deps.Logger)

	var queue integration.Enqueuer
	if deps.Config.AutoMatchOnImport {
		queue = deps.Queue
	}
	hooks := integration.NewHooks(numberingService, ledgerService, integration.NewDocuments(deps.Pool), reconciliationService, queue, deps.Logger)
	if deps.Metrics != nil {
		hooks.SetObserver(deps.Metrics)
	}

	return &Services{
		Numbering:      numberingService,
		Ledger:         ledgerService,
		Close:          closeService,
		Reconciliation: reconciliationService,
		Hooks:          hooks,
	}
}

// hookedLedger routes ledger postings through the integration hooks so an
// unnumbered invoice is numbered before its entries are written.
type hookedLedger struct {
	*ledger.Service
	hooks *integration.Hooks
}

func (l hookedLedger) RecordInvoiceIssued(ctx context.Context, orgID, invoiceID uuid.UUID) (ledger.RecordResult, error) {
	actor, _ := shared.ActorFromContext(ctx)
	res, err := l.hooks.HandleInvoiceIssued(ctx, integration.InvoiceIssuedEvent{OrganizationID: orgID, InvoiceID: invoiceID, ActorID: actor})
	if err != nil {
		return ledger.RecordResult{}, err
	}
	return res.Posting, nil
}

func (l hookedLedger) RecordExpenseIncurred(ctx context.Context, orgID, expenseID uuid.UUID) (ledger.RecordResult, error) {
	return l.hooks.HandleExpenseIncurred(ctx, integration.ExpenseIncurredEvent{OrganizationID: orgID, ExpenseID: expenseID})
}

func (l hookedLedger) RecordPaymentReceived(ctx context.Context, orgID, paymentID uuid.UUID) (ledger.RecordResult, error) {
	return l.hooks.HandlePaymentReceived(ctx, integration.PaymentReceivedEvent{OrganizationID: orgID, PaymentID: paymentID})
}

// hookedReconciliation queues an auto-match run after each statement import.
type hookedReconciliation struct {
	*reconciliation.Service
	hooks *integration.Hooks
}

func (r hookedReconciliation) Import(ctx context.Context, in reconciliation.ImportInput) (reconciliation.ImportResult, error) {
	actor, _ := shared.ActorFromContext(ctx)
	return r.hooks.HandleStatementImported(ctx, integration.StatementImportedEvent{
		OrganizationID: in.OrganizationID,
		BankAccountID:  in.BankAccountID,
		ActorID:        actor,
		Lines:          in.Lines,
	})
}
