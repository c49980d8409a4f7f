package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubNumbering struct {
	issues  []numbering.IntegrityIssue
	gotYear *int
	gotType numbering.DocumentType
	preview numbering.Preview
}

func (s *stubNumbering) Preview(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType) (numbering.Preview, error) {
	s.gotType = docType
	return s.preview, nil
}

func (s *stubNumbering) CheckIntegrity(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType, year *int) ([]numbering.IntegrityIssue, error) {
	s.gotType = docType
	s.gotYear = year
	return s.issues, nil
}

type stubLedger struct {
	issues []ledger.IntegrityIssue
}

func (s *stubLedger) CheckIntegrity(ctx context.Context, orgID uuid.UUID, year int) ([]ledger.IntegrityIssue, error) {
	return s.issues, nil
}

type stubClose struct {
	validated close.ValidateInput
	closed    close.CloseInput
	closing   close.Closing
	err       error
}

func (s *stubClose) ValidatePeriod(ctx context.Context, in close.ValidateInput) (int, error) {
	s.validated = in
	return 4, s.err
}

func (s *stubClose) CloseFiscalYear(ctx context.Context, in close.CloseInput) (close.Closing, error) {
	s.closed = in
	return s.closing, s.err
}

type stubMatcher struct {
	in  reconciliation.AutoMatchInput
	res reconciliation.AutoMatchResult
}

func (s *stubMatcher) AutoMatch(ctx context.Context, in reconciliation.AutoMatchInput) (reconciliation.AutoMatchResult, error) {
	s.in = in
	return s.res, nil
}

type stubJobs struct {
	name string
	opts TriggerOptions
}

func (s *stubJobs) Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	s.name = name
	s.opts = opts
	return &asynq.TaskInfo{ID: "abc"}, nil
}

func (s *stubJobs) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	return []QueueStats{{Queue: jobs.QueueCritical, Pending: 2}}, nil
}

type harness struct {
	rt       *Runtime
	opened   int
	released int
}

func newHarness() *harness {
	h := &harness{}
	h.rt = &Runtime{
		Numbering:      &stubNumbering{},
		Ledger:         &stubLedger{},
		Close:          &stubClose{},
		Reconciliation: &stubMatcher{},
		Jobs:           &stubJobs{},
		Release:        func() { h.released++ },
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context) (*Runtime, error) {
		h.opened++
		return h.rt, nil
	}
	now := func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	root := NewRootCommand(open, now)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIntegrityDefaultsToCurrentYear(t *testing.T) {
	h := newHarness()
	org := uuid.New()

	out, err := h.run(t, "integrity", "--org", org.String())
	require.NoError(t, err)
	require.Contains(t, out, "SCOPE")

	num := h.rt.Numbering.(*stubNumbering)
	require.NotNil(t, num.gotYear)
	require.Equal(t, 2025, *num.gotYear)
	require.Equal(t, numbering.DocumentInvoice, num.gotType)
	require.Equal(t, 1, h.released)
}

func TestIntegrityFailsWhenIssuesFound(t *testing.T) {
	h := newHarness()
	h.rt.Numbering.(*stubNumbering).issues = []numbering.IntegrityIssue{{Kind: numbering.IssueGap, Year: 2024, SequenceNumber: 3}}
	h.rt.Ledger.(*stubLedger).issues = []ledger.IntegrityIssue{{Kind: ledger.IssueMalformed, SourceType: ledger.SourceInvoice}}

	out, err := h.run(t, "integrity", "--org", uuid.NewString(), "--year", "2024", "--json")
	require.ErrorIs(t, err, ErrIntegrityIssues)

	var report integrityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, 2024, report.Year)
	require.Len(t, report.Numbering, 1)
	require.Len(t, report.Ledger, 1)
}

func TestCommandsRequireOrganization(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "preview")
	require.ErrorContains(t, err, "--org is required")

	_, err = h.run(t, "preview", "--org", "not-a-uuid")
	require.ErrorContains(t, err, "--org")
	require.Zero(t, h.opened)
}

func TestPreviewPrintsValue(t *testing.T) {
	h := newHarness()
	h.rt.Numbering.(*stubNumbering).preview = numbering.Preview{Value: "DEV-2025-00012", SequenceNumber: 12, Year: 2025}

	out, err := h.run(t, "preview", "--org", uuid.NewString(), "--type", "quote")
	require.NoError(t, err)
	require.Equal(t, "DEV-2025-00012\n", out)
	require.Equal(t, numbering.DocumentQuote, h.rt.Numbering.(*stubNumbering).gotType)
}

func TestValidatePeriodPassesActor(t *testing.T) {
	h := newHarness()
	org, actor := uuid.New(), uuid.New()

	out, err := h.run(t, "validate-period", "--org", org.String(), "--actor", actor.String(), "--year", "2025", "--period", "3")
	require.NoError(t, err)
	require.Equal(t, "validated 4 entries for 2025-03\n", out)

	got := h.rt.Close.(*stubClose).validated
	require.Equal(t, close.ValidateInput{OrganizationID: org, Year: 2025, Period: 3, ActorID: actor}, got)
}

func TestValidatePeriodRequiresFlags(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "validate-period", "--org", uuid.NewString(), "--year", "2025")
	require.ErrorContains(t, err, "period")
}

func TestCloseYearNeedsConfirmation(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "close-year", "--org", uuid.NewString(), "--year", "2024")
	require.ErrorContains(t, err, "--yes")
	require.Zero(t, h.opened)
}

func TestCloseYearReportsLoss(t *testing.T) {
	h := newHarness()
	stub := h.rt.Close.(*stubClose)
	stub.closing = close.Closing{
		Closure:  close.Closure{FiscalYear: 2024, Result: decimal.RequireFromString("-250.5")},
		Revenue:  decimal.RequireFromString("1000"),
		Expenses: decimal.RequireFromString("1250.5"),
	}

	out, err := h.run(t, "close-year", "--org", uuid.NewString(), "--year", "2024", "--yes")
	require.NoError(t, err)
	require.Equal(t, "closed 2024 with loss 250.50\n", out)
	require.Equal(t, 2024, stub.closed.Year)
}

func TestCloseYearSurfacesServiceError(t *testing.T) {
	h := newHarness()
	h.rt.Close.(*stubClose).err = shared.ErrUnvalidatedEntries

	_, err := h.run(t, "close-year", "--org", uuid.NewString(), "--year", "2024", "--yes")
	require.ErrorIs(t, err, shared.ErrUnvalidatedEntries)
	require.Equal(t, 1, h.released)
}

func TestAutoMatchRunsInline(t *testing.T) {
	h := newHarness()
	account := uuid.New()
	matcher := h.rt.Reconciliation.(*stubMatcher)
	matcher.res = reconciliation.AutoMatchResult{
		Matched:   []reconciliation.Match{{TransactionID: uuid.New(), Type: reconciliation.MatchInvoice, DocumentNumber: "FAC-2025-00001", DateDiffDays: 2}},
		Unmatched: []reconciliation.BankTransaction{{}},
	}

	out, err := h.run(t, "automatch", "--org", uuid.NewString(), "--account", account.String(), "--days", "0", "--amount", "0.5")
	require.NoError(t, err)
	require.Contains(t, out, "FAC-2025-00001")
	require.Contains(t, out, "matched 1, unmatched 1")

	require.Equal(t, account, *matcher.in.BankAccountID)
	require.NotNil(t, matcher.in.ToleranceDays)
	require.Equal(t, 0, *matcher.in.ToleranceDays)
	require.Equal(t, "0.5", matcher.in.ToleranceAmount.String())
}

func TestAutoMatchOmittedTolerancesStayNil(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "automatch", "--org", uuid.NewString())
	require.NoError(t, err)

	matcher := h.rt.Reconciliation.(*stubMatcher)
	require.Nil(t, matcher.in.ToleranceDays)
	require.Nil(t, matcher.in.ToleranceAmount)
	require.Nil(t, matcher.in.BankAccountID)
}

func TestAutoMatchAsyncEnqueues(t *testing.T) {
	h := newHarness()
	org := uuid.New()

	out, err := h.run(t, "automatch", "--org", org.String(), "--async", "--json")
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "abc", body["id"])

	jobsStub := h.rt.Jobs.(*stubJobs)
	require.Equal(t, jobs.TaskReconcileAutoMatch, jobsStub.name)
	require.Equal(t, org, jobsStub.opts.Payload.OrganizationID)
}

func TestJobsTriggerAndStats(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "jobs", "trigger", jobs.TaskNumberingIntegrity)
	require.NoError(t, err)
	require.Equal(t, "enqueued numbering:integrity_scan abc\n", out)
	require.Equal(t, 2025, h.rt.Jobs.(*stubJobs).opts.Year)

	out, err = h.run(t, "jobs", "stats")
	require.NoError(t, err)
	require.Contains(t, out, jobs.QueueCritical)
}
