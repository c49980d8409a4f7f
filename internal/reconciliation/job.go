package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type autoMatcher interface {
	AutoMatch(ctx context.Context, in AutoMatchInput) (AutoMatchResult, error)
}

// AutoMatchJob runs auto-match tasks enqueued by statement imports.
type AutoMatchJob struct {
	service autoMatcher
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewAutoMatchJob constructs the job handler.
func NewAutoMatchJob(service autoMatcher, metrics *jobmetrics.Metrics, logger *slog.Logger) *AutoMatchJob {
	return &AutoMatchJob{service: service, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. Malformed payloads and
// invalid tolerances are not retried; a busy lock is.
func (j *AutoMatchJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.AutoMatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode auto-match payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics.Track(jobs.TaskReconcileAutoMatch)
	res, err := j.service.AutoMatch(ctx, AutoMatchInput{
		OrganizationID:  payload.OrganizationID,
		BankAccountID:   payload.BankAccountID,
		ToleranceDays:   payload.ToleranceDays,
		ToleranceAmount: payload.ToleranceAmount,
		ActorID:         payload.ActorID,
	})
	if err != nil {
		if j.logger != nil {
			j.logger.Error("auto-match job", slog.String("organization_id", payload.OrganizationID.String()), slog.Any("error", err))
		}
		if errors.Is(err, shared.ErrInvalidInput) {
			return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
		}
		return tracker.End(err)
	}
	j.metrics.AddReconciled(len(res.Matched), len(res.Unmatched))
	return tracker.End(nil)
}
