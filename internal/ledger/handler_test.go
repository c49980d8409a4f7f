package ledger

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func newTestRouter(svc ledgerService) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Identity)
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func serve(router http.Handler, method, target string, org uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if org != uuid.Nil {
		req.Header.Set(httpx.HeaderOrganization, org.String())
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRecordInvoice(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRate("20")
	id := f.addInvoice(Invoice{Total: dec("1200"), IssueDate: day(2025, time.March, 14)})
	router := newTestRouter(f.svc)

	rr := serve(router, http.MethodPost, "/ledger/invoices/"+id.String(), f.org)
	require.Equal(t, http.StatusCreated, rr.Code)
	var body struct {
		Skipped bool            `json:"skipped"`
		Entries []entryResponse `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.False(t, body.Skipped)
	require.Len(t, body.Entries, 2)
	require.Equal(t, "1000.00", body.Entries[0].Amount)
	require.Equal(t, "2025-03-14", body.Entries[0].EntryDate)

	rr = serve(router, http.MethodPost, "/ledger/invoices/"+id.String(), f.org)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Skipped)
}

func TestHandlerRecordErrors(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f.svc)

	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/ledger/payments/"+uuid.NewString(), uuid.Nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/ledger/payments/not-a-uuid", f.org).Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/ledger/expenses/"+uuid.NewString(), f.org).Code)
}

func TestHandlerListEntriesAndIntegrity(t *testing.T) {
	f := newFixture(t)
	id := f.addInvoice(Invoice{Total: dec("40"), IssueDate: day(2025, time.April, 2)})
	_, err := f.svc.RecordInvoiceIssued(t.Context(), f.org, id)
	require.NoError(t, err)
	router := newTestRouter(f.svc)

	rr := serve(router, http.MethodGet, "/ledger/entries?fiscal_year=2025&source_type=invoice", f.org)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []entryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/ledger/entries?fiscal_period=13", f.org).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/ledger/integrity", f.org).Code)

	rr = serve(router, http.MethodGet, "/ledger/integrity?year=2025", f.org)
	require.Equal(t, http.StatusOK, rr.Code)
	var report struct {
		Issues []map[string]any `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Empty(t, report.Issues)
}
