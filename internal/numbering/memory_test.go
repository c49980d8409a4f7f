package numbering

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type seqKey struct {
	org     uuid.UUID
	docType DocumentType
}

// memoryRepo keeps sequences in memory. A per-key mutex stands in for the
// row lock taken by SELECT ... FOR UPDATE; writes become visible on commit.
type memoryRepo struct {
	mu        sync.Mutex
	rowLocks  map[seqKey]*sync.Mutex
	sequences map[seqKey]Sequence
	audit     []AuditRecord
	failAudit bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		rowLocks:  make(map[seqKey]*sync.Mutex),
		sequences: make(map[seqKey]Sequence),
	}
}

func (r *memoryRepo) seed(seq Sequence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq.ID == uuid.Nil {
		seq.ID = uuid.New()
	}
	r.sequences[seqKey{seq.OrganizationID, seq.DocumentType}] = seq
}

func (r *memoryRepo) sequence(org uuid.UUID, docType DocumentType) Sequence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequences[seqKey{org, docType}]
}

type memoryTx struct {
	repo    *memoryRepo
	held    []*sync.Mutex
	pending map[uuid.UUID]Sequence
	audit   []AuditRecord
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, pending: make(map[uuid.UUID]Sequence)}
	defer func() {
		for _, l := range tx.held {
			l.Unlock()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, seq := range tx.pending {
		for k, existing := range r.sequences {
			if existing.ID == id {
				r.sequences[k] = seq
			}
		}
	}
	r.audit = append(r.audit, tx.audit...)
	return nil
}

func (r *memoryRepo) GetSequence(_ context.Context, org uuid.UUID, docType DocumentType) (Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq, ok := r.sequences[seqKey{org, docType}]
	if !ok {
		return Sequence{}, ErrSequenceNotFound
	}
	return seq, nil
}

func (r *memoryRepo) ListIssuedNumbers(_ context.Context, org uuid.UUID, docType DocumentType, year *int) ([]IssuedNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []IssuedNumber
	for _, rec := range r.audit {
		if rec.OrganizationID != org || rec.DocumentType != docType {
			continue
		}
		if year != nil && rec.Year != *year {
			continue
		}
		out = append(out, IssuedNumber{Year: rec.Year, SequenceNumber: rec.SequenceNumber})
	}
	return out, nil
}

func (r *memoryRepo) ListAudit(_ context.Context, filter AuditFilter) ([]AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditRecord
	for i := len(r.audit) - 1; i >= 0; i-- {
		rec := r.audit[i]
		if rec.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.DocumentType != "" && rec.DocumentType != filter.DocumentType {
			continue
		}
		if filter.Year != nil && rec.Year != *filter.Year {
			continue
		}
		out = append(out, rec)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) AuditStats(_ context.Context, org uuid.UUID, year int) ([]TypeStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := map[DocumentType]*TypeStats{}
	for _, rec := range r.audit {
		if rec.OrganizationID != org || rec.Year != year {
			continue
		}
		st, ok := byType[rec.DocumentType]
		if !ok {
			st = &TypeStats{DocumentType: rec.DocumentType, FirstNumber: rec.SequenceNumber, LastNumber: rec.SequenceNumber}
			byType[rec.DocumentType] = st
		}
		st.Total++
		st.FirstNumber = min(st.FirstNumber, rec.SequenceNumber)
		st.LastNumber = max(st.LastNumber, rec.SequenceNumber)
		if rec.GeneratedAt.After(st.LastGenerated) {
			st.LastGenerated = rec.GeneratedAt
		}
	}
	var out []TypeStats
	for _, st := range byType {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b TypeStats) int {
		switch {
		case a.DocumentType < b.DocumentType:
			return -1
		case a.DocumentType > b.DocumentType:
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *memoryRepo) ListSequenceKeys(context.Context) ([]SequenceKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SequenceKey
	for k := range r.sequences {
		out = append(out, SequenceKey{OrganizationID: k.org, DocumentType: k.docType})
	}
	return out, nil
}

func (t *memoryTx) EnsureSequence(_ context.Context, seq Sequence) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	k := seqKey{seq.OrganizationID, seq.DocumentType}
	if _, ok := t.repo.sequences[k]; !ok {
		t.repo.sequences[k] = seq
	}
	return nil
}

func (t *memoryTx) LockSequence(_ context.Context, org uuid.UUID, docType DocumentType) (Sequence, error) {
	k := seqKey{org, docType}
	t.repo.mu.Lock()
	l, ok := t.repo.rowLocks[k]
	if !ok {
		l = &sync.Mutex{}
		t.repo.rowLocks[k] = l
	}
	t.repo.mu.Unlock()

	l.Lock()
	t.held = append(t.held, l)

	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	seq, ok := t.repo.sequences[k]
	if !ok {
		return Sequence{}, ErrSequenceNotFound
	}
	if pending, ok := t.pending[seq.ID]; ok {
		return pending, nil
	}
	return seq, nil
}

func (t *memoryTx) FindIssued(_ context.Context, org uuid.UUID, docType DocumentType, documentID uuid.UUID) (AuditRecord, bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, rec := range append(slices.Clone(t.repo.audit), t.audit...) {
		if rec.OrganizationID == org && rec.DocumentType == docType && rec.DocumentID == documentID {
			return rec, true, nil
		}
	}
	return AuditRecord{}, false, nil
}

func (t *memoryTx) current(id uuid.UUID) (Sequence, bool) {
	if seq, ok := t.pending[id]; ok {
		return seq, true
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, seq := range t.repo.sequences {
		if seq.ID == id {
			return seq, true
		}
	}
	return Sequence{}, false
}

func (t *memoryTx) AdvanceSequence(_ context.Context, id uuid.UUID, number int64, year int) error {
	seq, ok := t.current(id)
	if !ok {
		return ErrSequenceNotFound
	}
	seq.LastNumber = number
	seq.LastYear = &year
	seq.IsLocked = true
	t.pending[id] = seq
	return nil
}

func (t *memoryTx) InsertAudit(_ context.Context, rec AuditRecord) error {
	if t.repo.failAudit {
		return errors.New("audit insert failed")
	}
	t.audit = append(t.audit, rec)
	return nil
}

func (t *memoryTx) SaveSettings(_ context.Context, seq Sequence) error {
	if _, ok := t.current(seq.ID); !ok {
		return ErrSequenceNotFound
	}
	t.pending[seq.ID] = seq
	return nil
}
