package integration

import (
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func nextInputFor(evt InvoiceIssuedEvent) numbering.NextInput {
	return numbering.NextInput{
		OrganizationID: evt.OrganizationID,
		DocumentType:   numbering.DocumentInvoice,
		DocumentID:     evt.InvoiceID,
		ActorID:        evt.ActorID,
	}
}

func importInputFor(evt StatementImportedEvent) reconciliation.ImportInput {
	return reconciliation.ImportInput{
		OrganizationID: evt.OrganizationID,
		BankAccountID:  evt.BankAccountID,
		Lines:          evt.Lines,
	}
}

// autoMatchPayloadFor scopes the follow-up run to the imported account and
// leaves tolerances to the worker defaults.
func autoMatchPayloadFor(evt StatementImportedEvent) jobs.AutoMatchPayload {
	account := evt.BankAccountID
	return jobs.AutoMatchPayload{
		OrganizationID: evt.OrganizationID,
		BankAccountID:  &account,
		ActorID:        evt.ActorID,
	}
}
