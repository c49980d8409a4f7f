package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the referenced document, sequence or transaction is absent or belongs to another organization.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates the request failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLockedField indicates an attempt to change a locked sequence setting.
	ErrLockedField = errors.New("sequence field locked")
	// ErrAlreadyProcessed indicates the source already has ledger entries.
	ErrAlreadyProcessed = errors.New("source already processed")
	// ErrUnvalidatedEntries indicates a close attempt with outstanding unvalidated entries.
	ErrUnvalidatedEntries = errors.New("unvalidated entries")
	// ErrImbalance indicates a generator produced unpaired postings.
	ErrImbalance = errors.New("postings imbalanced")
	// ErrDuplicateMatch indicates a transaction or document is already matched.
	ErrDuplicateMatch = errors.New("already matched")
	// ErrFiscalYearClosed indicates the fiscal year has been closed.
	ErrFiscalYearClosed = errors.New("fiscal year closed")
	// ErrLockBusy indicates another process holds the distributed lock.
	ErrLockBusy = errors.New("lock busy")
)

// LockedFieldError lists the sequence settings a caller attempted to change after locking.
type LockedFieldError struct {
	Fields []string
}

func (e *LockedFieldError) Error() string {
	return fmt.Sprintf("sequence field locked: %s", strings.Join(e.Fields, ", "))
}

func (e *LockedFieldError) Unwrap() error { return ErrLockedField }

// UnvalidatedEntriesError reports how many entries block a fiscal year close.
type UnvalidatedEntriesError struct {
	Year  int
	Count int
}

func (e *UnvalidatedEntriesError) Error() string {
	return fmt.Sprintf("fiscal year %d has %d unvalidated entries", e.Year, e.Count)
}

func (e *UnvalidatedEntriesError) Unwrap() error { return ErrUnvalidatedEntries }

// ImbalanceError describes generated postings that cannot be paired.
// It signals a programming bug and must abort the enclosing transaction.
type ImbalanceError struct {
	SourceType string
	SourceID   string
	Reason     string
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("postings imbalanced for %s %s: %s", e.SourceType, e.SourceID, e.Reason)
}

func (e *ImbalanceError) Unwrap() error { return ErrImbalance }
