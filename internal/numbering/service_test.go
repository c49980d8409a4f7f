package numbering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func fixedClock(year int) func() time.Time {
	return func() time.Time { return time.Date(year, time.June, 1, 10, 0, 0, 0, time.UTC) }
}

func intPtr(v int) *int { return &v }

func newTestService(repo *memoryRepo, year int) *Service {
	svc := NewService(repo, nil, nil)
	svc.WithNow(fixedClock(year))
	return svc
}

func TestNextFormatsConfiguredSequence(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	repo.seed(Sequence{
		OrganizationID: org,
		DocumentType:   DocumentInvoice,
		Prefix:         "FAC",
		Separator:      "-",
		IncludeYear:    true,
		YearFormat:     YearFormatFull,
		MinDigits:      5,
		ResetYearly:    true,
		LastNumber:     42,
		LastYear:       intPtr(2025),
	})
	svc := newTestService(repo, 2025)

	issued, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice, DocumentID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, "FAC-2025-00043", issued.Value)
	require.EqualValues(t, 43, issued.SequenceNumber)

	seq := repo.sequence(org, DocumentInvoice)
	require.EqualValues(t, 43, seq.LastNumber)
	require.True(t, seq.IsLocked)
	require.Len(t, repo.audit, 1)
	require.Equal(t, "FAC-2025-00043", repo.audit[0].FormattedValue)
}

func TestNextRestartsCounterOnYearRollover(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	base := DefaultSequence(org, DocumentInvoice)
	base.LastNumber = 50
	base.LastYear = intPtr(2024)
	repo.seed(base)

	continuous := DefaultSequence(org, DocumentQuote)
	continuous.ResetYearly = false
	continuous.LastNumber = 50
	continuous.LastYear = intPtr(2024)
	repo.seed(continuous)

	svc := newTestService(repo, 2025)

	issued, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice})
	require.NoError(t, err)
	require.EqualValues(t, 1, issued.SequenceNumber)
	require.Equal(t, "FAC-2025-00001", issued.Value)
	require.Equal(t, 2025, *repo.sequence(org, DocumentInvoice).LastYear)

	issued, err = svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentQuote})
	require.NoError(t, err)
	require.EqualValues(t, 51, issued.SequenceNumber)
	require.Equal(t, "DEV-2025-00051", issued.Value)
}

func TestNextCreatesDefaultSequence(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := newTestService(repo, 2025)

	issued, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: "packing_slip"})
	require.NoError(t, err)
	require.Equal(t, "DOC-2025-00001", issued.Value)
}

func TestNextConcurrentCallersAreGapless(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	seq := DefaultSequence(org, DocumentInvoice)
	seq.LastNumber = 7
	seq.LastYear = intPtr(2025)
	repo.seed(seq)
	svc := newTestService(repo, 2025)

	const callers = 64
	var mu sync.Mutex
	seen := make(map[int64]int)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			issued, err := svc.Next(ctx, NextInput{OrganizationID: org, DocumentType: DocumentInvoice, DocumentID: uuid.New()})
			if err != nil {
				return err
			}
			mu.Lock()
			seen[issued.SequenceNumber]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, seen, callers)
	for n := int64(8); n < 8+callers; n++ {
		require.Equal(t, 1, seen[n], "number %d", n)
	}
	issues, err := svc.CheckIntegrity(context.Background(), org, DocumentInvoice, intPtr(2025))
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestNextReturnsExistingNumberForSameDocument(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := newTestService(repo, 2025)
	doc := uuid.New()

	first, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice, DocumentID: doc})
	require.NoError(t, err)
	again, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice, DocumentID: doc})
	require.NoError(t, err)

	require.Equal(t, first.Value, again.Value)
	require.True(t, again.Reused)
	require.EqualValues(t, 1, repo.sequence(org, DocumentInvoice).LastNumber)
	require.Len(t, repo.audit, 1)
}

func TestNextRollsBackWhenAuditFails(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := newTestService(repo, 2025)
	repo.failAudit = true

	_, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice})
	require.Error(t, err)
	seq := repo.sequence(org, DocumentInvoice)
	require.Zero(t, seq.LastNumber)
	require.False(t, seq.IsLocked)

	repo.failAudit = false
	issued, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice})
	require.NoError(t, err)
	require.EqualValues(t, 1, issued.SequenceNumber)
}

func TestNextRejectsMissingOrganization(t *testing.T) {
	svc := newTestService(newMemoryRepo(), 2025)
	_, err := svc.Next(context.Background(), NextInput{DocumentType: DocumentInvoice})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestPreviewDoesNotConsumeNumbers(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := newTestService(repo, 2025)

	p, err := svc.Preview(context.Background(), org, DocumentCreditNote)
	require.NoError(t, err)
	require.Equal(t, "AV-2025-00001", p.Value)
	_, err = repo.GetSequence(context.Background(), org, DocumentCreditNote)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentCreditNote})
	require.NoError(t, err)
	p, err = svc.Preview(context.Background(), org, DocumentCreditNote)
	require.NoError(t, err)
	require.Equal(t, "AV-2025-00002", p.Value)
	require.EqualValues(t, 1, repo.sequence(org, DocumentCreditNote).LastNumber)
}

func TestCheckIntegrityReportsGapsAndDuplicates(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	for _, n := range []int64{1, 2, 4, 4, 5} {
		repo.audit = append(repo.audit, AuditRecord{OrganizationID: org, DocumentType: DocumentInvoice, SequenceNumber: n, Year: 2025})
	}
	repo.audit = append(repo.audit, AuditRecord{OrganizationID: org, DocumentType: DocumentInvoice, SequenceNumber: 9, Year: 2024})
	svc := newTestService(repo, 2025)

	issues, err := svc.CheckIntegrity(context.Background(), org, DocumentInvoice, intPtr(2025))
	require.NoError(t, err)
	require.Equal(t, []IntegrityIssue{
		{Kind: IssueGap, Year: 2025, SequenceNumber: 3, Through: 3},
		{Kind: IssueDuplicate, Year: 2025, SequenceNumber: 4, Occurrences: 2},
	}, issues)

	all, err := svc.CheckIntegrity(context.Background(), org, DocumentInvoice, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUpdateSettingsRejectsLockedFields(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := newTestService(repo, 2025)

	prefix := "INV"
	updated, err := svc.UpdateSettings(context.Background(), SettingsInput{OrganizationID: org, DocumentType: DocumentInvoice, Prefix: &prefix})
	require.NoError(t, err)
	require.Equal(t, "INV", updated.Prefix)

	_, err = svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice})
	require.NoError(t, err)

	other := "FAC"
	short := YearFormatShort
	_, err = svc.UpdateSettings(context.Background(), SettingsInput{OrganizationID: org, DocumentType: DocumentInvoice, Prefix: &other, YearFormat: &short})
	require.ErrorIs(t, err, shared.ErrLockedField)
	var locked *shared.LockedFieldError
	require.True(t, errors.As(err, &locked))
	require.Equal(t, []string{"prefix", "year_format"}, locked.Fields)

	sep := "/"
	updated, err = svc.UpdateSettings(context.Background(), SettingsInput{OrganizationID: org, DocumentType: DocumentInvoice, Separator: &sep})
	require.NoError(t, err)
	require.Equal(t, "/", updated.Separator)

	issued, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice})
	require.NoError(t, err)
	require.Equal(t, "INV/2025/00002", issued.Value)
}

func TestUpdateSettingsValidatesInput(t *testing.T) {
	svc := newTestService(newMemoryRepo(), 2025)
	digits := 0
	_, err := svc.UpdateSettings(context.Background(), SettingsInput{OrganizationID: uuid.New(), DocumentType: DocumentInvoice, MinDigits: &digits})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	bad := YearFormat("YYY")
	_, err = svc.UpdateSettings(context.Background(), SettingsInput{OrganizationID: uuid.New(), DocumentType: DocumentInvoice, YearFormat: &bad})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestStatsFlagsGaps(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	for _, n := range []int64{1, 3} {
		repo.audit = append(repo.audit, AuditRecord{OrganizationID: org, DocumentType: DocumentInvoice, SequenceNumber: n, Year: 2025})
	}
	for _, n := range []int64{1, 2} {
		repo.audit = append(repo.audit, AuditRecord{OrganizationID: org, DocumentType: DocumentQuote, SequenceNumber: n, Year: 2025})
	}
	svc := newTestService(repo, 2025)

	stats, err := svc.Stats(context.Background(), org, 0)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, DocumentInvoice, stats[0].DocumentType)
	require.True(t, stats[0].HasGaps)
	require.False(t, stats[1].HasGaps)
	require.EqualValues(t, 2, stats[1].Total)
}

func TestListAuditAppliesDefaultLimit(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := newTestService(repo, 2025)
	for i := 0; i < 3; i++ {
		_, err := svc.Next(context.Background(), NextInput{OrganizationID: org, DocumentType: DocumentInvoice})
		require.NoError(t, err)
	}
	records, err := svc.ListAudit(context.Background(), AuditFilter{OrganizationID: org, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.EqualValues(t, 3, records[0].SequenceNumber)
}

type ctxAwareRepo struct {
	*memoryRepo
}

func (r ctxAwareRepo) GetSequence(ctx context.Context, org uuid.UUID, docType DocumentType) (Sequence, error) {
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}
	return r.memoryRepo.GetSequence(ctx, org, docType)
}

func TestPreviewIgnoresCallerCancellationInsideFlight(t *testing.T) {
	repo := newMemoryRepo()
	org := uuid.New()
	svc := NewService(ctxAwareRepo{repo}, nil, nil)
	svc.WithNow(fixedClock(2025))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := svc.Preview(ctx, org, DocumentInvoice)
	require.NoError(t, err)
	require.Equal(t, "FAC-2025-00001", p.Value)
}
