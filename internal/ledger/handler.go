package ledger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type ledgerService interface {
	RecordInvoiceIssued(ctx context.Context, orgID, invoiceID uuid.UUID) (RecordResult, error)
	RecordExpenseIncurred(ctx context.Context, orgID, expenseID uuid.UUID) (RecordResult, error)
	RecordPaymentReceived(ctx context.Context, orgID, paymentID uuid.UUID) (RecordResult, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
	CheckIntegrity(ctx context.Context, orgID uuid.UUID, year int) ([]IntegrityIssue, error)
}

// Handler exposes ledger operations over JSON.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/invoices/{id}", h.record(h.service.RecordInvoiceIssued))
		r.Post("/expenses/{id}", h.record(h.service.RecordExpenseIncurred))
		r.Post("/payments/{id}", h.record(h.service.RecordPaymentReceived))
		r.Get("/entries", h.listEntries)
		r.Get("/integrity", h.integrity)
	})
}

type entryResponse struct {
	ID            uuid.UUID `json:"id"`
	SourceType    string    `json:"source_type"`
	SourceID      uuid.UUID `json:"source_id"`
	JournalType   string    `json:"journal_type"`
	EntryDate     string    `json:"entry_date"`
	Description   string    `json:"description"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Amount        string    `json:"amount"`
	TaxAmount     *string   `json:"tax_amount,omitempty"`
	FiscalYear    int       `json:"fiscal_year"`
	FiscalPeriod  int       `json:"fiscal_period"`
	IsValidated   bool      `json:"is_validated"`
}

func toEntryResponse(e Entry) entryResponse {
	out := entryResponse{
		ID:            e.ID,
		SourceType:    string(e.SourceType),
		SourceID:      e.SourceID,
		JournalType:   string(e.JournalType),
		EntryDate:     e.EntryDate.Format("2006-01-02"),
		Description:   e.Description,
		DebitAccount:  e.DebitAccount,
		CreditAccount: e.CreditAccount,
		Amount:        e.Amount.StringFixed(2),
		FiscalYear:    e.FiscalYear,
		FiscalPeriod:  e.FiscalPeriod,
		IsValidated:   e.IsValidated,
	}
	if e.TaxAmount.Valid {
		v := e.TaxAmount.Decimal.StringFixed(2)
		out.TaxAmount = &v
	}
	return out
}

func (h *Handler) record(fn func(context.Context, uuid.UUID, uuid.UUID) (RecordResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		res, err := fn(r.Context(), org, id)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		entries := make([]entryResponse, 0, len(res.Entries))
		for _, e := range res.Entries {
			entries = append(entries, toEntryResponse(e))
		}
		status := http.StatusCreated
		if res.Skipped {
			status = http.StatusOK
		}
		httpx.JSON(w, status, map[string]any{"skipped": res.Skipped, "entries": entries})
	}
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := EntryFilter{OrganizationID: org, SourceType: SourceType(r.URL.Query().Get("source_type"))}
	if raw := r.URL.Query().Get("source_id"); raw != "" {
		id, err := httpx.PathUUID(raw, "source_id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.SourceID = &id
	}
	for name, dst := range map[string]**int{"fiscal_year": &filter.FiscalYear, "fiscal_period": &filter.FiscalPeriod} {
		v, err := httpx.QueryInt(r, name)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		*dst = v
	}
	if v, err := httpx.QueryInt(r, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	} else if v != nil {
		filter.Limit = *v
	}
	if v, err := httpx.QueryInt(r, "offset"); err != nil {
		httpx.RespondError(w, err)
		return
	} else if v != nil {
		filter.Offset = *v
	}
	switch r.URL.Query().Get("validated") {
	case "true":
		v := true
		filter.Validated = &v
	case "false":
		v := false
		filter.Validated = &v
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err := httpx.QueryInt(r, "year")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if year == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "year is required")
		return
	}
	issues, err := h.service.CheckIntegrity(r.Context(), org, *year)
	if err != nil {
		h.logger.Error("ledger integrity", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(issues))
	for _, is := range issues {
		out = append(out, map[string]any{
			"kind":        is.Kind,
			"source_type": is.SourceType,
			"source_id":   is.SourceID,
			"entry_id":    is.EntryID,
			"detail":      is.Detail,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"issues": out})
}
