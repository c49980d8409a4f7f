// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var locked *shared.LockedFieldError
	var unvalidated *shared.UnvalidatedEntriesError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &locked):
		ProblemWith(w, http.StatusConflict, "Locked Field", err.Error(), map[string]any{"fields": locked.Fields})
	case errors.As(err, &unvalidated):
		ProblemWith(w, http.StatusConflict, "Unvalidated Entries", err.Error(), map[string]any{"year": unvalidated.Year, "count": unvalidated.Count})
	case errors.Is(err, shared.ErrDuplicateMatch):
		Problem(w, http.StatusConflict, "Duplicate Match", err.Error())
	case errors.Is(err, shared.ErrFiscalYearClosed):
		Problem(w, http.StatusConflict, "Fiscal Year Closed", err.Error())
	case errors.Is(err, shared.ErrLockBusy):
		Problem(w, http.StatusConflict, "Busy", err.Error())
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrImbalance):
		Problem(w, http.StatusInternalServerError, "Ledger Imbalance", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
