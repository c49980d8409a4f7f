package closehttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type closeService interface {
	ValidatePeriod(ctx context.Context, in close.ValidateInput) (int, error)
	CloseFiscalYear(ctx context.Context, in close.CloseInput) (close.Closing, error)
	ListClosures(ctx context.Context, orgID uuid.UUID) ([]close.Closure, error)
}

// Handler wires HTTP endpoints for period validation and year closing.
type Handler struct {
	logger  *slog.Logger
	service closeService
}

// NewHandler constructs a close HTTP handler.
func NewHandler(logger *slog.Logger, service closeService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/close", func(r chi.Router) {
		r.Get("/closures", h.listClosures)
		r.Post("/{year}", h.closeYear)
		r.Post("/{year}/periods/{period}/validate", h.validatePeriod)
	})
}

type closureResponse struct {
	ID             uuid.UUID  `json:"id"`
	FiscalYear     int        `json:"fiscal_year"`
	Result         string     `json:"result"`
	ClosingEntryID uuid.UUID  `json:"closing_entry_id"`
	ClosedBy       *uuid.UUID `json:"closed_by,omitempty"`
	ClosedAt       string     `json:"closed_at"`
}

func toClosureResponse(c close.Closure) closureResponse {
	return closureResponse{
		ID:             c.ID,
		FiscalYear:     c.FiscalYear,
		Result:         c.Result.StringFixed(2),
		ClosingEntryID: c.ClosingEntryID,
		ClosedBy:       c.ClosedBy,
		ClosedAt:       c.ClosedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", httpx.ErrValidation, name)
	}
	return v, nil
}

func (h *Handler) validatePeriod(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err := pathInt(r, "year")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := pathInt(r, "period")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	count, err := h.service.ValidatePeriod(r.Context(), close.ValidateInput{
		OrganizationID: org,
		Year:           year,
		Period:         period,
		ActorID:        actor,
	})
	if err != nil {
		h.logger.Warn("validate period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"fiscal_year": year, "fiscal_period": period, "validated": count})
}

func (h *Handler) closeYear(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err := pathInt(r, "year")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	closing, err := h.service.CloseFiscalYear(r.Context(), close.CloseInput{OrganizationID: org, Year: year, ActorID: actor})
	if err != nil {
		h.logger.Warn("close fiscal year", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"closure":        toClosureResponse(closing.Closure),
		"revenue":        closing.Revenue.StringFixed(2),
		"expenses":       closing.Expenses.StringFixed(2),
		"profit":         closing.Profit(),
		"debit_account":  closing.Entry.DebitAccount,
		"credit_account": closing.Entry.CreditAccount,
		"amount":         closing.Entry.Amount.StringFixed(2),
	})
}

func (h *Handler) listClosures(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	closures, err := h.service.ListClosures(r.Context(), org)
	if err != nil {
		h.logger.Error("list closures", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]closureResponse, 0, len(closures))
	for _, c := range closures {
		out = append(out, toClosureResponse(c))
	}
	httpx.JSON(w, http.StatusOK, out)
}
