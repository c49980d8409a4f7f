package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// GLChecker inspects the ledger of one organization.
type GLChecker interface {
	Organizations(ctx context.Context) ([]uuid.UUID, error)
	CountIntegrityIssues(ctx context.Context, orgID uuid.UUID, year int) (int, error)
}

// GLIntegrityReport summarises a scan across organizations.
type GLIntegrityReport struct {
	Organizations int
	Issues        map[uuid.UUID]int
}

// Total returns the number of issues across organizations.
func (r GLIntegrityReport) Total() int {
	total := 0
	for _, n := range r.Issues {
		total += n
	}
	return total
}

// RunGLIntegrityCheck scans every organization's ledger for the year.
func RunGLIntegrityCheck(ctx context.Context, logger *slog.Logger, checker GLChecker, year, limit int) (GLIntegrityReport, error) {
	orgs, err := checker.Organizations(ctx)
	if err != nil {
		return GLIntegrityReport{}, err
	}
	report := GLIntegrityReport{Organizations: len(orgs), Issues: make(map[uuid.UUID]int)}
	var mu sync.Mutex
	err = ForEachOrganization(ctx, orgs, limit, func(ctx context.Context, org uuid.UUID) error {
		n, err := checker.CountIntegrityIssues(ctx, org, year)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		mu.Lock()
		report.Issues[org] = n
		mu.Unlock()
		if logger != nil {
			logger.Warn("ledger integrity issues", slog.String("organization_id", org.String()), slog.Int("year", year), slog.Int("issues", n))
		}
		return nil
	})
	if err != nil {
		return GLIntegrityReport{}, err
	}
	if logger != nil {
		logger.Info("GL integrity check executed", slog.String("job", "gl_integrity"), slog.Int("organizations", report.Organizations), slog.Int("issues", report.Total()))
	}
	return report, nil
}
