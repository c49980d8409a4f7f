package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries reconciliation work triggered by statement imports.
	QueueCritical = "critical"

	// TaskReconcileAutoMatch runs the greedy matcher for one organization.
	TaskReconcileAutoMatch = "reconcile:auto_match"
	// TaskNumberingIntegrity scans every sequence audit trail for gaps and duplicates.
	TaskNumberingIntegrity = "numbering:integrity_scan"
	// TaskLedgerIntegrity scans accounting entries for malformed or drifting postings.
	TaskLedgerIntegrity = "ledger:integrity_scan"
)

// AutoMatchPayload describes one auto-match invocation.
type AutoMatchPayload struct {
	OrganizationID  uuid.UUID        `json:"organization_id"`
	BankAccountID   *uuid.UUID       `json:"bank_account_id,omitempty"`
	ToleranceDays   *int             `json:"tolerance_days,omitempty"`
	ToleranceAmount *decimal.Decimal `json:"tolerance_amount,omitempty"`
	ActorID         uuid.UUID        `json:"actor_id,omitempty"`
}

// IntegrityScanPayload selects the fiscal year to scan. Zero means the current year.
type IntegrityScanPayload struct {
	Year int `json:"year,omitempty"`
}

// NewAutoMatchTask constructs an auto-match task. Identical requests are
// de-duplicated for a minute.
func NewAutoMatchTask(payload AutoMatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileAutoMatch, data, asynq.Queue(QueueCritical), asynq.MaxRetry(3), asynq.Unique(time.Minute)), nil
}

// NewNumberingIntegrityTask constructs a numbering integrity scan task.
func NewNumberingIntegrityTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNumberingIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewLedgerIntegrityTask constructs a ledger integrity scan task.
func NewLedgerIntegrityTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// DecodeIntegrityScan parses an integrity payload; an empty payload is valid.
func DecodeIntegrityScan(task *asynq.Task) (IntegrityScanPayload, error) {
	var payload IntegrityScanPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}
