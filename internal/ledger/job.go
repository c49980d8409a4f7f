package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// IntegrityJob runs the nightly ledger scan across organizations.
type IntegrityJob struct {
	service     *Service
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	concurrency int
}

// NewIntegrityJob constructs a job handler.
func NewIntegrityJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger, concurrency int) *IntegrityJob {
	return &IntegrityJob{service: service, metrics: metrics, logger: logger, concurrency: concurrency}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *IntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	payload, err := jobs.DecodeIntegrityScan(task)
	if err != nil {
		return asynq.SkipRetry
	}
	year := payload.Year
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	tracker := j.metrics.Track(jobs.TaskLedgerIntegrity)
	report, err := jobs.RunGLIntegrityCheck(ctx, j.logger, j.service, year, j.concurrency)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("ledger integrity scan", slog.Int("year", year), slog.Any("error", err))
		}
		return tracker.End(err)
	}
	for org, n := range report.Issues {
		j.metrics.AddIntegrityIssues("ledger", org.String(), n)
	}
	return tracker.End(nil)
}
