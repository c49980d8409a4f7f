package close

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Closure records that a fiscal year was closed for an organization.
// Once present, no entry may be posted into that year.
type Closure struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	FiscalYear     int
	Result         decimal.Decimal
	ClosingEntryID uuid.UUID
	ClosedBy       *uuid.UUID
	ClosedAt       time.Time
}

// Closing is the outcome of CloseFiscalYear.
type Closing struct {
	Closure  Closure
	Entry    ledger.Entry
	Revenue  decimal.Decimal
	Expenses decimal.Decimal
}

// Profit reports whether the year ended with a non-negative result.
func (c Closing) Profit() bool {
	return !c.Closure.Result.IsNegative()
}

// ValidateInput identifies the period whose entries get validated.
type ValidateInput struct {
	OrganizationID uuid.UUID
	Year           int
	Period         int
	ActorID        uuid.UUID
}

// Validate checks identifiers and the period range.
func (in ValidateInput) Validate() error {
	if in.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	return shared.ValidatePeriod(in.Year, in.Period)
}

// CloseInput identifies the fiscal year to close.
type CloseInput struct {
	OrganizationID uuid.UUID
	Year           int
	ActorID        uuid.UUID
}

// Validate checks identifiers and the year range.
func (in CloseInput) Validate() error {
	if in.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	return shared.ValidatePeriod(in.Year, 12)
}

// ErrYearClosed is returned when a fiscal year was already closed.
var ErrYearClosed = fmt.Errorf("close: %w", shared.ErrFiscalYearClosed)

// ErrInvalidChart indicates the closing accounts are not usable.
var ErrInvalidChart = errors.New("close: retained earnings accounts misconfigured")
