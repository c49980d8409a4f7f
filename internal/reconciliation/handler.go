package reconciliation

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type reconciliationService interface {
	AutoMatch(ctx context.Context, in AutoMatchInput) (AutoMatchResult, error)
	Reconcile(ctx context.Context, in ReconcileInput) (BankTransaction, error)
	Unreconcile(ctx context.Context, orgID, txID uuid.UUID) (BankTransaction, error)
	Confirm(ctx context.Context, orgID, txID, actor uuid.UUID) (BankTransaction, error)
	Suggest(ctx context.Context, orgID, txID uuid.UUID, days *int, amount *decimal.Decimal) ([]Match, error)
	Import(ctx context.Context, in ImportInput) (ImportResult, error)
}

// Enqueuer schedules auto-match runs on the worker.
type Enqueuer interface {
	EnqueueAutoMatch(ctx context.Context, payload jobs.AutoMatchPayload) (*asynq.TaskInfo, error)
}

// Handler exposes reconciliation over JSON.
type Handler struct {
	logger   *slog.Logger
	service  reconciliationService
	enqueuer Enqueuer
}

// NewHandler constructs the handler. enqueuer may be nil, in which case
// auto-match always runs inline.
func NewHandler(logger *slog.Logger, service reconciliationService, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer}
}

// MountRoutes registers reconciliation routes. Auto-match is rate limited
// per organization on top of the router-wide limit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reconciliation", func(r chi.Router) {
		r.With(httprate.Limit(6, time.Minute, httprate.WithKeyFuncs(organizationKey))).Post("/auto-match", h.autoMatch)
		r.Post("/import", h.importStatement)
		r.Post("/{id}/reconcile", h.reconcile)
		r.Post("/{id}/unreconcile", h.unreconcile)
		r.Post("/{id}/confirm", h.confirm)
		r.Get("/{id}/suggestions", h.suggest)
	})
}

func organizationKey(r *http.Request) (string, error) {
	return r.Header.Get(httpx.HeaderOrganization), nil
}

type transactionResponse struct {
	ID               uuid.UUID  `json:"id"`
	BankAccountID    uuid.UUID  `json:"bank_account_id"`
	TransactionDate  string     `json:"transaction_date"`
	Amount           string     `json:"amount"`
	Type             string     `json:"transaction_type"`
	Description      string     `json:"description,omitempty"`
	Status           string     `json:"reconciliation_status"`
	MatchedInvoiceID *uuid.UUID `json:"matched_invoice_id,omitempty"`
	MatchedExpenseID *uuid.UUID `json:"matched_expense_id,omitempty"`
	MatchedPaymentID *uuid.UUID `json:"matched_payment_id,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

func toTransactionResponse(t BankTransaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		BankAccountID:    t.BankAccountID,
		TransactionDate:  t.TransactionDate.Format("2006-01-02"),
		Amount:           t.Amount.StringFixed(2),
		Type:             string(t.Type),
		Description:      t.Description,
		Status:           string(t.Status),
		MatchedInvoiceID: t.MatchedInvoiceID,
		MatchedExpenseID: t.MatchedExpenseID,
		MatchedPaymentID: t.MatchedPaymentID,
		Notes:            t.Notes,
	}
}

type matchResponse struct {
	TransactionID  uuid.UUID `json:"transaction_id"`
	MatchType      string    `json:"match_type"`
	DocumentID     uuid.UUID `json:"document_id"`
	DocumentNumber string    `json:"document_number,omitempty"`
	AmountDiff     string    `json:"amount_diff"`
	DateDiffDays   int       `json:"date_diff_days"`
}

func toMatchResponses(matches []Match) []matchResponse {
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse{
			TransactionID:  m.TransactionID,
			MatchType:      string(m.Type),
			DocumentID:     m.DocumentID,
			DocumentNumber: m.DocumentNumber,
			AmountDiff:     m.AmountDiff.StringFixed(2),
			DateDiffDays:   m.DateDiffDays,
		})
	}
	return out
}

type autoMatchRequest struct {
	BankAccountID   *uuid.UUID       `json:"bank_account_id"`
	ToleranceDays   *int             `json:"tolerance_days"`
	ToleranceAmount *decimal.Decimal `json:"tolerance_amount"`
}

func (h *Handler) autoMatch(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req autoMatchRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid body")
			return
		}
	}
	if h.enqueuer != nil && r.URL.Query().Get("async") == "true" {
		info, err := h.enqueuer.EnqueueAutoMatch(r.Context(), jobs.AutoMatchPayload{
			OrganizationID:  org,
			BankAccountID:   req.BankAccountID,
			ToleranceDays:   req.ToleranceDays,
			ToleranceAmount: req.ToleranceAmount,
			ActorID:         actor,
		})
		if err != nil {
			h.logger.Error("enqueue auto-match", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		body := map[string]any{"queued": true}
		if info != nil {
			body["task_id"] = info.ID
		}
		httpx.JSON(w, http.StatusAccepted, body)
		return
	}
	res, err := h.service.AutoMatch(r.Context(), AutoMatchInput{
		OrganizationID:  org,
		BankAccountID:   req.BankAccountID,
		ToleranceDays:   req.ToleranceDays,
		ToleranceAmount: req.ToleranceAmount,
		ActorID:         actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	unmatched := make([]transactionResponse, 0, len(res.Unmatched))
	for _, t := range res.Unmatched {
		unmatched = append(unmatched, toTransactionResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"matched":                len(res.Matched),
		"unmatched":              len(res.Unmatched),
		"matched_transactions":   toMatchResponses(res.Matched),
		"unmatched_transactions": unmatched,
	})
}

type statementLineRequest struct {
	TransactionDate string          `json:"transaction_date"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

type importRequest struct {
	BankAccountID uuid.UUID              `json:"bank_account_id"`
	Transactions  []statementLineRequest `json:"transactions"`
}

func (h *Handler) importStatement(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid body")
		return
	}
	lines := make([]StatementLine, 0, len(req.Transactions))
	for _, l := range req.Transactions {
		date, err := time.Parse("2006-01-02", l.TransactionDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "transaction_date must be YYYY-MM-DD")
			return
		}
		lines = append(lines, StatementLine{TransactionDate: date, Amount: l.Amount, Description: l.Description})
	}
	res, err := h.service.Import(r.Context(), ImportInput{OrganizationID: org, BankAccountID: req.BankAccountID, Lines: lines})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	imported := make([]transactionResponse, 0, len(res.Imported))
	for _, t := range res.Imported {
		imported = append(imported, toTransactionResponse(t))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"imported":     len(res.Imported),
		"duplicates":   res.Duplicates,
		"transactions": imported,
	})
}

type reconcileRequest struct {
	MatchType MatchType `json:"match_type"`
	MatchID   uuid.UUID `json:"match_id"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid body")
		return
	}
	t, err := h.service.Reconcile(r.Context(), ReconcileInput{
		OrganizationID: org,
		TransactionID:  id,
		MatchType:      req.MatchType,
		MatchID:        req.MatchID,
		ActorID:        actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(t))
}

func (h *Handler) unreconcile(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Unreconcile(r.Context(), org, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(t))
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Confirm(r.Context(), org, id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(t))
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	days, err := httpx.QueryInt(r, "tolerance_days")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var amount *decimal.Decimal
	if raw := r.URL.Query().Get("tolerance_amount"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tolerance_amount must be a decimal")
			return
		}
		amount = &v
	}
	matches, err := h.service.Suggest(r.Context(), org, id, days, amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMatchResponses(matches))
}
