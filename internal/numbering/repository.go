package numbering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists sequences and their audit trail in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn under READ COMMITTED so a caller waiting on the sequence
// row lock observes the counter committed by the previous holder.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("numbering repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const sequenceColumns = `id, organization_id, document_type, prefix, separator, include_year, year_format,
min_digits, reset_yearly, last_number, last_year, is_locked, created_at, updated_at`

func scanSequence(row pgx.Row) (Sequence, error) {
	var seq Sequence
	var docType, yearFormat string
	err := row.Scan(&seq.ID, &seq.OrganizationID, &docType, &seq.Prefix, &seq.Separator, &seq.IncludeYear, &yearFormat,
		&seq.MinDigits, &seq.ResetYearly, &seq.LastNumber, &seq.LastYear, &seq.IsLocked, &seq.CreatedAt, &seq.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sequence{}, ErrSequenceNotFound
	}
	if err != nil {
		return Sequence{}, err
	}
	seq.DocumentType = DocumentType(docType)
	seq.YearFormat = YearFormat(yearFormat)
	return seq, nil
}

// GetSequence loads a sequence without locking it.
func (r *Repository) GetSequence(ctx context.Context, orgID uuid.UUID, docType DocumentType) (Sequence, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sequenceColumns+` FROM document_sequences WHERE organization_id = $1 AND document_type = $2`, orgID, string(docType))
	return scanSequence(row)
}

// ListIssuedNumbers returns audit numbers for the sequence, optionally limited to a year.
func (r *Repository) ListIssuedNumbers(ctx context.Context, orgID uuid.UUID, docType DocumentType, year *int) ([]IssuedNumber, error) {
	where := db.NewWhere("organization_id = ?", orgID).
		And("document_type = ?", string(docType)).
		AndIf(year != nil, "year = ?", deref(year))
	rows, err := r.pool.Query(ctx, `SELECT year, sequence_number FROM document_number_audit`+where.SQL()+` ORDER BY year, sequence_number`, where.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IssuedNumber
	for rows.Next() {
		var n IssuedNumber
		if err := rows.Scan(&n.Year, &n.SequenceNumber); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListAudit returns audit records matching filter, newest first.
func (r *Repository) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	where := db.NewWhere("organization_id = ?", filter.OrganizationID).
		AndIf(filter.DocumentType != "", "document_type = ?", string(filter.DocumentType)).
		AndIf(filter.Year != nil, "year = ?", deref(filter.Year))
	limit := where.Arg(filter.Limit)
	rows, err := r.pool.Query(ctx, `SELECT id, sequence_id, organization_id, document_type, sequence_number, year, formatted_value,
COALESCE(document_id, '00000000-0000-0000-0000-000000000000'), COALESCE(generated_by, '00000000-0000-0000-0000-000000000000'), generated_at
FROM document_number_audit`+where.SQL()+` ORDER BY generated_at DESC, sequence_number DESC LIMIT `+limit, where.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var docType string
		if err := rows.Scan(&rec.ID, &rec.SequenceID, &rec.OrganizationID, &docType, &rec.SequenceNumber, &rec.Year,
			&rec.FormattedValue, &rec.DocumentID, &rec.GeneratedBy, &rec.GeneratedAt); err != nil {
			return nil, err
		}
		rec.DocumentType = DocumentType(docType)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AuditStats aggregates minted numbers per document type for a year.
func (r *Repository) AuditStats(ctx context.Context, orgID uuid.UUID, year int) ([]TypeStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT document_type, COUNT(*), MIN(sequence_number), MAX(sequence_number), MAX(generated_at)
FROM document_number_audit WHERE organization_id = $1 AND year = $2
GROUP BY document_type ORDER BY document_type`, orgID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TypeStats
	for rows.Next() {
		var st TypeStats
		var docType string
		var last time.Time
		if err := rows.Scan(&docType, &st.Total, &st.FirstNumber, &st.LastNumber, &last); err != nil {
			return nil, err
		}
		st.DocumentType = DocumentType(docType)
		st.LastGenerated = last
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListSequenceKeys returns every sequence known to the store.
func (r *Repository) ListSequenceKeys(ctx context.Context) ([]SequenceKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT organization_id, document_type FROM document_sequences ORDER BY organization_id, document_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SequenceKey
	for rows.Next() {
		var key SequenceKey
		var docType string
		if err := rows.Scan(&key.OrganizationID, &docType); err != nil {
			return nil, err
		}
		key.DocumentType = DocumentType(docType)
		out = append(out, key)
	}
	return out, rows.Err()
}

func (r *txRepository) EnsureSequence(ctx context.Context, seq Sequence) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO document_sequences (id, organization_id, document_type, prefix, separator, include_year,
year_format, min_digits, reset_yearly, last_number, last_year, is_locked)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,NULL,FALSE)
ON CONFLICT (organization_id, document_type) DO NOTHING`,
		seq.ID, seq.OrganizationID, string(seq.DocumentType), seq.Prefix, seq.Separator, seq.IncludeYear,
		string(seq.YearFormat), seq.MinDigits, seq.ResetYearly)
	return err
}

func (r *txRepository) LockSequence(ctx context.Context, orgID uuid.UUID, docType DocumentType) (Sequence, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+sequenceColumns+` FROM document_sequences WHERE organization_id = $1 AND document_type = $2 FOR UPDATE`, orgID, string(docType))
	return scanSequence(row)
}

func (r *txRepository) FindIssued(ctx context.Context, orgID uuid.UUID, docType DocumentType, documentID uuid.UUID) (AuditRecord, bool, error) {
	var rec AuditRecord
	err := r.tx.QueryRow(ctx, `SELECT id, sequence_id, sequence_number, year, formatted_value, generated_at
FROM document_number_audit WHERE organization_id = $1 AND document_type = $2 AND document_id = $3
ORDER BY generated_at LIMIT 1`, orgID, string(docType), documentID).
		Scan(&rec.ID, &rec.SequenceID, &rec.SequenceNumber, &rec.Year, &rec.FormattedValue, &rec.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuditRecord{}, false, nil
	}
	if err != nil {
		return AuditRecord{}, false, err
	}
	rec.OrganizationID = orgID
	rec.DocumentType = docType
	rec.DocumentID = documentID
	return rec, true, nil
}

func (r *txRepository) AdvanceSequence(ctx context.Context, sequenceID uuid.UUID, number int64, year int) error {
	tag, err := r.tx.Exec(ctx, `UPDATE document_sequences SET last_number = $2, last_year = $3, is_locked = TRUE, updated_at = NOW() WHERE id = $1`, sequenceID, number, year)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSequenceNotFound
	}
	return nil
}

func (r *txRepository) InsertAudit(ctx context.Context, rec AuditRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO document_number_audit (id, sequence_id, organization_id, document_type, sequence_number, year,
formatted_value, document_id, generated_by, generated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.SequenceID, rec.OrganizationID, string(rec.DocumentType), rec.SequenceNumber, rec.Year,
		rec.FormattedValue, nullUUID(rec.DocumentID), nullUUID(rec.GeneratedBy), rec.GeneratedAt)
	return err
}

func (r *txRepository) SaveSettings(ctx context.Context, seq Sequence) error {
	_, err := r.tx.Exec(ctx, `UPDATE document_sequences SET prefix = $2, separator = $3, include_year = $4, year_format = $5,
min_digits = $6, reset_yearly = $7, updated_at = $8 WHERE id = $1`,
		seq.ID, seq.Prefix, seq.Separator, seq.IncludeYear, string(seq.YearFormat), seq.MinDigits, seq.ResetYearly, seq.UpdatedAt)
	return err
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
