package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type autoMatcherFunc func(ctx context.Context, in AutoMatchInput) (AutoMatchResult, error)

func (f autoMatcherFunc) AutoMatch(ctx context.Context, in AutoMatchInput) (AutoMatchResult, error) {
	return f(ctx, in)
}

func TestAutoMatchJobRunsPayload(t *testing.T) {
	org := uuid.New()
	days := 3
	var got AutoMatchInput
	svc := autoMatcherFunc(func(_ context.Context, in AutoMatchInput) (AutoMatchResult, error) {
		got = in
		return AutoMatchResult{Matched: make([]Match, 2), Unmatched: make([]BankTransaction, 1)}, nil
	})
	reg := prometheus.NewRegistry()
	job := NewAutoMatchJob(svc, jobmetrics.NewMetrics(reg), nil)
	task, err := jobs.NewAutoMatchTask(jobs.AutoMatchPayload{OrganizationID: org, ToleranceDays: &days})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, org, got.OrganizationID)
	require.Equal(t, 3, *got.ToleranceDays)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, mf := range families {
		counts[mf.GetName()] = len(mf.GetMetric())
	}
	require.Equal(t, 2, counts["odyssey_reconcile_transactions_total"])
	require.Equal(t, 1, counts["odyssey_jobs_total"])
}

func TestAutoMatchJobRetryPolicy(t *testing.T) {
	busy := autoMatcherFunc(func(context.Context, AutoMatchInput) (AutoMatchResult, error) {
		return AutoMatchResult{}, shared.ErrLockBusy
	})
	invalid := autoMatcherFunc(func(context.Context, AutoMatchInput) (AutoMatchResult, error) {
		return AutoMatchResult{}, shared.ErrInvalidInput
	})
	task, err := jobs.NewAutoMatchTask(jobs.AutoMatchPayload{OrganizationID: uuid.New()})
	require.NoError(t, err)

	err = NewAutoMatchJob(busy, nil, nil).Handle(context.Background(), task)
	require.ErrorIs(t, err, shared.ErrLockBusy)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	err = NewAutoMatchJob(invalid, nil, nil).Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = NewAutoMatchJob(busy, nil, nil).Handle(context.Background(), asynq.NewTask(jobs.TaskReconcileAutoMatch, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
