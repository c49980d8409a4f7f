package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts sequence persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSequence(ctx context.Context, orgID uuid.UUID, docType DocumentType) (Sequence, error)
	ListIssuedNumbers(ctx context.Context, orgID uuid.UUID, docType DocumentType, year *int) ([]IssuedNumber, error)
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
	AuditStats(ctx context.Context, orgID uuid.UUID, year int) ([]TypeStats, error)
	ListSequenceKeys(ctx context.Context) ([]SequenceKey, error)
}

// TxRepository exposes the operations that run under the sequence row lock.
type TxRepository interface {
	EnsureSequence(ctx context.Context, seq Sequence) error
	LockSequence(ctx context.Context, orgID uuid.UUID, docType DocumentType) (Sequence, error)
	FindIssued(ctx context.Context, orgID uuid.UUID, docType DocumentType, documentID uuid.UUID) (AuditRecord, bool, error)
	AdvanceSequence(ctx context.Context, sequenceID uuid.UUID, number int64, year int) error
	InsertAudit(ctx context.Context, rec AuditRecord) error
	SaveSettings(ctx context.Context, seq Sequence) error
}

// AuditPort records configuration changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service mints gapless document numbers.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
	previews singleflight.Group
	now      func() time.Time
}

// NewService constructs the numbering service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New(), now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Next mints the next number for the document. The read-increment-write-audit
// cycle runs under the sequence row lock and rolls back as a whole. Calling it
// again for a document that already holds a number returns that number.
func (s *Service) Next(ctx context.Context, in NextInput) (Issued, error) {
	if err := in.Validate(); err != nil {
		return Issued{}, err
	}
	year := s.now().Year()
	var issued Issued
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureSequence(ctx, DefaultSequence(in.OrganizationID, in.DocumentType)); err != nil {
			return err
		}
		seq, err := tx.LockSequence(ctx, in.OrganizationID, in.DocumentType)
		if err != nil {
			return err
		}
		if in.DocumentID != uuid.Nil {
			prev, found, err := tx.FindIssued(ctx, in.OrganizationID, in.DocumentType, in.DocumentID)
			if err != nil {
				return err
			}
			if found {
				issued = Issued{Value: prev.FormattedValue, SequenceNumber: prev.SequenceNumber, Year: prev.Year, Reused: true}
				return nil
			}
		}
		number := nextNumber(seq, year)
		if number > math.MaxInt32 {
			return ErrCounterExhausted
		}
		value := Format(seq, number, year)
		if err := tx.AdvanceSequence(ctx, seq.ID, number, year); err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, AuditRecord{
			ID:             uuid.New(),
			SequenceID:     seq.ID,
			OrganizationID: in.OrganizationID,
			DocumentType:   in.DocumentType,
			SequenceNumber: number,
			Year:           year,
			FormattedValue: value,
			DocumentID:     in.DocumentID,
			GeneratedBy:    in.ActorID,
			GeneratedAt:    s.now(),
		}); err != nil {
			return err
		}
		issued = Issued{Value: value, SequenceNumber: number, Year: year}
		return nil
	})
	if err != nil {
		return Issued{}, err
	}
	if s.logger != nil {
		s.logger.Info("document number issued",
			slog.String("organization_id", in.OrganizationID.String()),
			slog.String("document_type", string(in.DocumentType)),
			slog.String("value", issued.Value),
			slog.Bool("reused", issued.Reused),
		)
	}
	return issued, nil
}

// Preview computes the value Next would return now without taking a lock.
// The result may be stale by the time a caller uses it.
func (s *Service) Preview(ctx context.Context, orgID uuid.UUID, docType DocumentType) (Preview, error) {
	if orgID == uuid.Nil {
		return Preview{}, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	if err := docType.Validate(); err != nil {
		return Preview{}, err
	}
	key := orgID.String() + "|" + string(docType)
	// Callers joined to this flight must not inherit the leader's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.previews.Do(key, func() (any, error) {
		seq, err := s.repo.GetSequence(flightCtx, orgID, docType)
		if errors.Is(err, ErrSequenceNotFound) {
			seq = DefaultSequence(orgID, docType)
		} else if err != nil {
			return Preview{}, err
		}
		year := s.now().Year()
		number := nextNumber(seq, year)
		return Preview{Value: Format(seq, number, year), SequenceNumber: number, Year: year}, nil
	})
	if err != nil {
		return Preview{}, err
	}
	return v.(Preview), nil
}

// CheckIntegrity scans the audit log for gaps and duplicates. A nil year scans every year.
func (s *Service) CheckIntegrity(ctx context.Context, orgID uuid.UUID, docType DocumentType, year *int) ([]IntegrityIssue, error) {
	if orgID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	if err := docType.Validate(); err != nil {
		return nil, err
	}
	numbers, err := s.repo.ListIssuedNumbers(ctx, orgID, docType, year)
	if err != nil {
		return nil, err
	}
	return scanIntegrity(numbers), nil
}

// UpdateSettings changes sequence formatting. Once a number has been issued
// only the separator may change.
func (s *Service) UpdateSettings(ctx context.Context, in SettingsInput) (Sequence, error) {
	if err := s.validate.Struct(in); err != nil {
		return Sequence{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	var updated Sequence
	var changed []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureSequence(ctx, DefaultSequence(in.OrganizationID, in.DocumentType)); err != nil {
			return err
		}
		seq, err := tx.LockSequence(ctx, in.OrganizationID, in.DocumentType)
		if err != nil {
			return err
		}
		next, locked, fields := applySettings(seq, in)
		if seq.IsLocked && len(locked) > 0 {
			return &shared.LockedFieldError{Fields: locked}
		}
		if len(fields) == 0 {
			updated = seq
			return nil
		}
		next.UpdatedAt = s.now()
		if err := tx.SaveSettings(ctx, next); err != nil {
			return err
		}
		updated = next
		changed = fields
		return nil
	})
	if err != nil {
		return Sequence{}, err
	}
	if s.audit != nil && len(changed) > 0 {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "numbering.settings.update",
			Entity:   "document_sequence",
			EntityID: updated.ID.String(),
			Meta: map[string]any{
				"document_type": string(updated.DocumentType),
				"fields":        changed,
			},
			At: s.now(),
		})
	}
	return updated, nil
}

// applySettings returns the updated sequence, the changed fields that a lock
// forbids, and every changed field.
func applySettings(seq Sequence, in SettingsInput) (Sequence, []string, []string) {
	var locked, changed []string
	mark := func(name string, lockable bool) {
		changed = append(changed, name)
		if lockable {
			locked = append(locked, name)
		}
	}
	if in.Prefix != nil && *in.Prefix != seq.Prefix {
		seq.Prefix = *in.Prefix
		mark("prefix", true)
	}
	if in.Separator != nil && *in.Separator != seq.Separator {
		seq.Separator = *in.Separator
		mark("separator", false)
	}
	if in.IncludeYear != nil && *in.IncludeYear != seq.IncludeYear {
		seq.IncludeYear = *in.IncludeYear
		mark("include_year", true)
	}
	if in.YearFormat != nil && *in.YearFormat != seq.YearFormat {
		seq.YearFormat = *in.YearFormat
		mark("year_format", true)
	}
	if in.MinDigits != nil && *in.MinDigits != seq.MinDigits {
		seq.MinDigits = *in.MinDigits
		mark("min_digits", true)
	}
	if in.ResetYearly != nil && *in.ResetYearly != seq.ResetYearly {
		seq.ResetYearly = *in.ResetYearly
		mark("reset_yearly", true)
	}
	return seq, locked, changed
}

// ListAudit returns minted numbers, newest first.
func (s *Service) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	if filter.OrganizationID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.repo.ListAudit(ctx, filter)
}

// Stats summarises the numbers minted in a year per document type.
func (s *Service) Stats(ctx context.Context, orgID uuid.UUID, year int) ([]TypeStats, error) {
	if orgID == uuid.Nil {
		return nil, fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	if year == 0 {
		year = s.now().Year()
	}
	stats, err := s.repo.AuditStats(ctx, orgID, year)
	if err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range stats {
		g.Go(func() error {
			issues, err := s.CheckIntegrity(gctx, orgID, stats[i].DocumentType, &year)
			if err != nil {
				return err
			}
			stats[i].HasGaps = len(issues) > 0
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// ScanResult is the integrity outcome of one sequence.
type ScanResult struct {
	Key    SequenceKey
	Issues []IntegrityIssue
}

// ScanAll checks every known sequence for the given year.
func (s *Service) ScanAll(ctx context.Context, year int, concurrency int) ([]ScanResult, error) {
	keys, err := s.repo.ListSequenceKeys(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]ScanResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		g.Go(func() error {
			issues, err := s.CheckIntegrity(gctx, key.OrganizationID, key.DocumentType, &year)
			if err != nil {
				return fmt.Errorf("numbering: scan %s/%s: %w", key.OrganizationID, key.DocumentType, err)
			}
			results[i] = ScanResult{Key: key, Issues: issues}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
