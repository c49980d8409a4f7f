package numbering

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// IntegrityJob scans every sequence for gaps and duplicates.
type IntegrityJob struct {
	service     *Service
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	concurrency int
}

// NewIntegrityJob constructs the nightly scan handler.
func NewIntegrityJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger, concurrency int) *IntegrityJob {
	return &IntegrityJob{service: service, metrics: metrics, logger: logger, concurrency: concurrency}
}

// Handle fulfils the asynq.HandlerFunc contract. Issues are reported, never repaired.
func (j *IntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	payload, err := jobs.DecodeIntegrityScan(task)
	if err != nil {
		return asynq.SkipRetry
	}
	year := payload.Year
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	tracker := j.metrics.Track(jobs.TaskNumberingIntegrity)
	results, err := j.service.ScanAll(ctx, year, j.concurrency)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("numbering integrity scan", slog.Int("year", year), slog.Any("error", err))
		}
		return tracker.End(err)
	}
	for _, res := range results {
		if len(res.Issues) == 0 {
			continue
		}
		j.metrics.AddIntegrityIssues("numbering", res.Key.OrganizationID.String(), len(res.Issues))
		if j.logger != nil {
			j.logger.Warn("numbering integrity issues",
				slog.String("organization_id", res.Key.OrganizationID.String()),
				slog.String("document_type", string(res.Key.DocumentType)),
				slog.Int("year", year),
				slog.Int("issues", len(res.Issues)),
			)
		}
	}
	return tracker.End(nil)
}
