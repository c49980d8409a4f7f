package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var (
	// ErrDocumentNotFound indicates the document is absent or owned by another organization.
	ErrDocumentNotFound = fmt.Errorf("integration: document %w", shared.ErrNotFound)
	// ErrAlreadyNumbered indicates the document carries a different number.
	ErrAlreadyNumbered = fmt.Errorf("integration: document already numbered: %w", shared.ErrInvalidInput)
	// ErrUnsupportedDocument indicates no table stores numbers for the document type.
	ErrUnsupportedDocument = fmt.Errorf("integration: unsupported document type: %w", shared.ErrInvalidInput)
)

type numberColumn struct {
	table  string
	column string
}

// numberColumns lists the read models this service numbers.
var numberColumns = map[numbering.DocumentType]numberColumn{
	numbering.DocumentInvoice: {table: "invoices", column: "invoice_number"},
}

// Documents stores document numbers in the CRUD read models.
type Documents struct {
	pool *pgxpool.Pool
}

// NewDocuments constructs Documents.
func NewDocuments(pool *pgxpool.Pool) *Documents {
	return &Documents{pool: pool}
}

// DocumentNumber returns the stored number or an empty string.
func (d *Documents) DocumentNumber(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType, id uuid.UUID) (string, error) {
	col, ok := numberColumns[docType]
	if !ok {
		return "", ErrUnsupportedDocument
	}
	var number string
	err := d.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(%s, '') FROM %s WHERE id = $1 AND organization_id = $2`, col.column, col.table),
		id, orgID).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrDocumentNotFound
	}
	return number, err
}

// AssignNumber writes number onto a document that has none. Writing the
// number the document already carries is a no-op.
func (d *Documents) AssignNumber(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType, id uuid.UUID, number string) error {
	col, ok := numberColumns[docType]
	if !ok {
		return ErrUnsupportedDocument
	}
	tag, err := d.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %[2]s SET %[1]s = $3 WHERE id = $1 AND organization_id = $2 AND COALESCE(%[1]s, '') IN ('', $3)`, col.column, col.table),
		id, orgID, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := d.DocumentNumber(ctx, orgID, docType, id); err != nil {
		return err
	}
	return ErrAlreadyNumbered
}
