package numbering

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type numberingService interface {
	Next(ctx context.Context, in NextInput) (Issued, error)
	Preview(ctx context.Context, orgID uuid.UUID, docType DocumentType) (Preview, error)
	CheckIntegrity(ctx context.Context, orgID uuid.UUID, docType DocumentType, year *int) ([]IntegrityIssue, error)
	UpdateSettings(ctx context.Context, in SettingsInput) (Sequence, error)
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
	Stats(ctx context.Context, orgID uuid.UUID, year int) ([]TypeStats, error)
}

// Handler exposes numbering over JSON.
type Handler struct {
	logger  *slog.Logger
	service numberingService
}

// NewHandler constructs the numbering handler.
func NewHandler(logger *slog.Logger, service numberingService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers numbering routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/numbering", func(r chi.Router) {
		r.Get("/audit", h.listAudit)
		r.Get("/stats", h.stats)
		r.Post("/{type}/next", h.next)
		r.Get("/{type}/preview", h.preview)
		r.Get("/{type}/integrity", h.integrity)
		r.Put("/{type}", h.updateSettings)
	})
}

type nextRequest struct {
	DocumentID *uuid.UUID `json:"document_id"`
}

type issuedResponse struct {
	Value          string `json:"value"`
	SequenceNumber int64  `json:"sequence_number"`
	Year           int    `json:"year"`
	Reused         bool   `json:"reused"`
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req nextRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid body")
			return
		}
	}
	in := NextInput{OrganizationID: org, DocumentType: DocumentType(chi.URLParam(r, "type")), ActorID: actor}
	if req.DocumentID != nil {
		in.DocumentID = *req.DocumentID
	}
	issued, err := h.service.Next(r.Context(), in)
	if err != nil {
		h.logger.Error("numbering next", slog.String("document_type", string(in.DocumentType)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, issuedResponse{
		Value:          issued.Value,
		SequenceNumber: issued.SequenceNumber,
		Year:           issued.Year,
		Reused:         issued.Reused,
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	org, _, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Preview(r.Context(), org, DocumentType(chi.URLParam(r, "type")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"next_number":     p.Value,
		"sequence_number": p.SequenceNumber,
		"year":            p.Year,
	})
}

type issueResponse struct {
	Kind           IssueKind `json:"kind"`
	Year           int       `json:"year"`
	SequenceNumber int64     `json:"sequence_number"`
	Through        int64     `json:"through,omitempty"`
	Occurrences    int       `json:"occurrences,omitempty"`
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
	issues, err := h.service.CheckIntegrity(r.Context(), org, DocumentType(chi.URLParam(r, "type")), year)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]issueResponse, 0, len(issues))
	for _, is := range issues {
		out = append(out, issueResponse{Kind: is.Kind, Year: is.Year, SequenceNumber: is.SequenceNumber, Through: is.Through, Occurrences: is.Occurrences})
	}
	status := "OK"
	if len(out) > 0 {
		status = "WARNING"
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": status, "issues": out})
}

type settingsRequest struct {
	Prefix      *string     `json:"prefix"`
	Separator   *string     `json:"separator"`
	IncludeYear *bool       `json:"include_year"`
	YearFormat  *YearFormat `json:"year_format"`
	MinDigits   *int        `json:"min_digits"`
	ResetYearly *bool       `json:"reset_yearly"`
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	org, actor, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid body")
		return
	}
	seq, err := h.service.UpdateSettings(r.Context(), SettingsInput{
		OrganizationID: org,
		DocumentType:   DocumentType(chi.URLParam(r, "type")),
		ActorID:        actor,
		Prefix:         req.Prefix,
		Separator:      req.Separator,
		IncludeYear:    req.IncludeYear,
		YearFormat:     req.YearFormat,
		MinDigits:      req.MinDigits,
		ResetYearly:    req.ResetYearly,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"document_type": seq.DocumentType,
		"prefix":        seq.Prefix,
		"separator":     seq.Separator,
		"include_year":  seq.IncludeYear,
		"year_format":   seq.YearFormat,
		"min_digits":    seq.MinDigits,
		"reset_yearly":  seq.ResetYearly,
		"is_locked":     seq.IsLocked,
	})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
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
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := AuditFilter{OrganizationID: org, DocumentType: DocumentType(r.URL.Query().Get("document_type")), Year: year}
	if limit != nil {
		filter.Limit = *limit
	}
	records, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"document_type":   rec.DocumentType,
			"sequence_number": rec.SequenceNumber,
			"year":            rec.Year,
			"formatted_value": rec.FormattedValue,
			"document_id":     rec.DocumentID,
			"generated_by":    rec.GeneratedBy,
			"generated_at":    rec.GeneratedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
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
	y := 0
	if year != nil {
		y = *year
	}
	stats, err := h.service.Stats(r.Context(), org, y)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		out = append(out, map[string]any{
			"document_type":   st.DocumentType,
			"total_documents": st.Total,
			"first_number":    st.FirstNumber,
			"last_number":     st.LastNumber,
			"last_generated":  st.LastGenerated,
			"has_gaps":        st.HasGaps,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"statistics": out})
}
