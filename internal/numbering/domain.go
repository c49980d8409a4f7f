package numbering

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DocumentType names the family of documents sharing one counter.
type DocumentType string

const (
	DocumentInvoice       DocumentType = "invoice"
	DocumentQuote         DocumentType = "quote"
	DocumentCreditNote    DocumentType = "credit_note"
	DocumentDeliveryNote  DocumentType = "delivery_note"
	DocumentPurchaseOrder DocumentType = "purchase_order"
	DocumentProforma      DocumentType = "proforma"
)

var defaultPrefixes = map[DocumentType]string{
	DocumentInvoice:       "FAC",
	DocumentQuote:         "DEV",
	DocumentCreditNote:    "AV",
	DocumentDeliveryNote:  "BL",
	DocumentPurchaseOrder: "BC",
	DocumentProforma:      "PRO",
}

// DefaultPrefix returns the prefix assigned to a freshly created sequence.
func DefaultPrefix(t DocumentType) string {
	if p, ok := defaultPrefixes[t]; ok {
		return p
	}
	return "DOC"
}

// Validate checks the document type is a usable key.
func (t DocumentType) Validate() error {
	s := string(t)
	if s == "" || len(s) > 50 || strings.TrimSpace(s) != s {
		return fmt.Errorf("%w: document type %q", shared.ErrInvalidInput, s)
	}
	return nil
}

// YearFormat controls how the year is rendered.
type YearFormat string

const (
	YearFormatFull  YearFormat = "YYYY"
	YearFormatShort YearFormat = "YY"
)

// Valid reports whether f is a supported format.
func (f YearFormat) Valid() bool {
	return f == YearFormatFull || f == YearFormatShort
}

// Sequence is the counter configuration for one (organization, document type).
type Sequence struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	DocumentType   DocumentType
	Prefix         string
	Separator      string
	IncludeYear    bool
	YearFormat     YearFormat
	MinDigits      int
	ResetYearly    bool
	LastNumber     int64
	LastYear       *int
	IsLocked       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DefaultSequence builds the row inserted the first time a type is used.
func DefaultSequence(orgID uuid.UUID, docType DocumentType) Sequence {
	return Sequence{
		ID:             uuid.New(),
		OrganizationID: orgID,
		DocumentType:   docType,
		Prefix:         DefaultPrefix(docType),
		Separator:      "-",
		IncludeYear:    true,
		YearFormat:     YearFormatFull,
		MinDigits:      5,
		ResetYearly:    true,
	}
}

// AuditRecord is one minted number. Records are append-only.
type AuditRecord struct {
	ID             uuid.UUID
	SequenceID     uuid.UUID
	OrganizationID uuid.UUID
	DocumentType   DocumentType
	SequenceNumber int64
	Year           int
	FormattedValue string
	DocumentID     uuid.UUID
	GeneratedBy    uuid.UUID
	GeneratedAt    time.Time
}

// NextInput carries the arguments of Next.
type NextInput struct {
	OrganizationID uuid.UUID
	DocumentType   DocumentType
	DocumentID     uuid.UUID
	ActorID        uuid.UUID
}

// Validate ensures the request is complete.
func (in NextInput) Validate() error {
	if in.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization required", shared.ErrInvalidInput)
	}
	return in.DocumentType.Validate()
}

// Issued is the result of Next.
type Issued struct {
	Value          string
	SequenceNumber int64
	Year           int
	// Reused is set when the document already held a number and no increment happened.
	Reused bool
}

// Preview is the next value a sequence would produce. It is not reserved.
type Preview struct {
	Value          string
	SequenceNumber int64
	Year           int
}

// IssueKind classifies integrity findings.
type IssueKind string

const (
	IssueGap       IssueKind = "gap"
	IssueDuplicate IssueKind = "duplicate"
)

// IntegrityIssue reports a run of missing sequence numbers or a repeated one.
// Through is the last missing number of a gap and zero for duplicates.
type IntegrityIssue struct {
	Kind           IssueKind
	Year           int
	SequenceNumber int64
	Through        int64
	Occurrences    int
}

// IssuedNumber is the projection of the audit log scanned by CheckIntegrity.
type IssuedNumber struct {
	Year           int
	SequenceNumber int64
}

// SettingsInput updates sequence formatting. Nil fields are left unchanged.
type SettingsInput struct {
	OrganizationID uuid.UUID    `validate:"required"`
	DocumentType   DocumentType `validate:"required,max=50"`
	ActorID        uuid.UUID
	Prefix         *string `validate:"omitempty,min=1,max=20"`
	Separator      *string `validate:"omitempty,max=5"`
	IncludeYear    *bool
	YearFormat     *YearFormat `validate:"omitempty,oneof=YYYY YY"`
	MinDigits      *int        `validate:"omitempty,min=1,max=12"`
	ResetYearly    *bool
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	OrganizationID uuid.UUID
	DocumentType   DocumentType
	Year           *int
	Limit          int
}

// TypeStats summarises a year of minted numbers for one document type.
type TypeStats struct {
	DocumentType  DocumentType
	Total         int64
	FirstNumber   int64
	LastNumber    int64
	LastGenerated time.Time
	HasGaps       bool
}

// SequenceKey identifies a sequence without loading it.
type SequenceKey struct {
	OrganizationID uuid.UUID
	DocumentType   DocumentType
}

var (
	// ErrSequenceNotFound indicates no row exists yet for the key.
	ErrSequenceNotFound = fmt.Errorf("numbering: sequence %w", shared.ErrNotFound)
	// ErrCounterExhausted indicates the counter would exceed its storage range.
	ErrCounterExhausted = errors.New("numbering: counter exhausted")
)
