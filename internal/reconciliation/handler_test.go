package reconciliation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubEnqueuer struct {
	payloads []jobs.AutoMatchPayload
}

func (s *stubEnqueuer) EnqueueAutoMatch(_ context.Context, p jobs.AutoMatchPayload) (*asynq.TaskInfo, error) {
	s.payloads = append(s.payloads, p)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

func newTestRouter(svc reconciliationService, enq Enqueuer) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Identity)
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, enq).MountRoutes(r)
	return r
}

func serve(router http.Handler, method, target string, org uuid.UUID, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if org != uuid.Nil {
		req.Header.Set(httpx.HeaderOrganization, org.String())
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerAutoMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.addTransaction(Credit, "500.00", day(2025, 3, 10))
	f.addTransaction(Credit, "12.00", day(2025, 3, 10))
	f.addInvoice("FAC-2025-00007", "500.00", day(2025, 3, 12))
	router := newTestRouter(f.svc, nil)

	rr := serve(router, http.MethodPost, "/reconciliation/auto-match", f.org, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Matched             int `json:"matched"`
		Unmatched           int `json:"unmatched"`
		MatchedTransactions []struct {
			DocumentNumber string `json:"document_number"`
			AmountDiff     string `json:"amount_diff"`
		} `json:"matched_transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 1, body.Matched)
	require.Equal(t, 1, body.Unmatched)
	require.Equal(t, "FAC-2025-00007", body.MatchedTransactions[0].DocumentNumber)
	require.Equal(t, "0.00", body.MatchedTransactions[0].AmountDiff)
}

func TestHandlerAutoMatchQueuesWhenAsync(t *testing.T) {
	f := newFixture(t, nil)
	enq := &stubEnqueuer{}
	router := newTestRouter(f.svc, enq)

	rr := serve(router, http.MethodPost, "/reconciliation/auto-match?async=true", f.org, `{"tolerance_days":3}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, enq.payloads, 1)
	require.Equal(t, f.org, enq.payloads[0].OrganizationID)
	require.Equal(t, 3, *enq.payloads[0].ToleranceDays)
	require.Contains(t, rr.Body.String(), "task-1")
}

func TestHandlerAutoMatchIsRateLimitedPerOrganization(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f.svc, nil)
	for i := 0; i < 6; i++ {
		require.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/reconciliation/auto-match", f.org, "").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodPost, "/reconciliation/auto-match", f.org, "").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/reconciliation/auto-match", uuid.New(), "").Code)
}

func TestHandlerReconcileLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	txID := f.addTransaction(Credit, "70.00", day(2025, 4, 1))
	invID := f.addInvoice("FAC-3", "70.00", day(2025, 4, 1))
	router := newTestRouter(f.svc, nil)
	base := "/reconciliation/" + txID.String()

	rr := serve(router, http.MethodPost, base+"/reconcile", f.org, `{"match_type":"invoice","match_id":"`+invID.String()+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"reconciliation_status":"matched"`)

	rr = serve(router, http.MethodPost, base+"/reconcile", f.org, `{"match_type":"invoice","match_id":"`+invID.String()+`"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(router, http.MethodPost, base+"/confirm", f.org, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"reconciliation_status":"confirmed"`)

	rr = serve(router, http.MethodPost, base+"/unreconcile", f.org, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "sent", f.repo.invoices[invID].status)

	rr = serve(router, http.MethodPost, base+"/reconcile", uuid.New(), `{"match_type":"invoice","match_id":"`+invID.String()+`"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f.svc, nil)

	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/reconciliation/auto-match", uuid.Nil, "").Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/reconciliation/not-a-uuid/confirm", f.org, "").Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/reconciliation/"+uuid.NewString()+"/reconcile", f.org, "{").Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/reconciliation/"+uuid.NewString()+"/suggestions?tolerance_days=x", f.org, "").Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/reconciliation/"+uuid.NewString()+"/suggestions?tolerance_amount=abc", f.org, "").Code)
}

func TestHandlerImportAndSuggest(t *testing.T) {
	f := newFixture(t, nil)
	f.addInvoice("FAC-11", "250.00", day(2025, 5, 6))
	router := newTestRouter(f.svc, nil)

	payload := `{"bank_account_id":"` + f.account.String() + `","transactions":[
		{"transaction_date":"2025-05-05","amount":"250.00","description":"ACME"},
		{"transaction_date":"2025-05-05","amount":"250.00","description":"ACME"}]}`
	rr := serve(router, http.MethodPost, "/reconciliation/import", f.org, payload)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var body struct {
		Imported     int `json:"imported"`
		Duplicates   int `json:"duplicates"`
		Transactions []struct {
			ID uuid.UUID `json:"id"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 1, body.Imported)
	require.Equal(t, 1, body.Duplicates)

	rr = serve(router, http.MethodGet, "/reconciliation/"+body.Transactions[0].ID.String()+"/suggestions", f.org, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "FAC-11")

	rr = serve(router, http.MethodPost, "/reconciliation/import", f.org, `{"bank_account_id":"`+f.account.String()+`","transactions":[{"transaction_date":"05/05/2025","amount":"1"}]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
