package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredErrorsUnwrapToSentinels(t *testing.T) {
	locked := fmt.Errorf("update: %w", &LockedFieldError{Fields: []string{"prefix", "year_format"}})
	require.ErrorIs(t, locked, ErrLockedField)
	require.Contains(t, locked.Error(), "prefix, year_format")

	unvalidated := &UnvalidatedEntriesError{Year: 2025, Count: 3}
	require.ErrorIs(t, unvalidated, ErrUnvalidatedEntries)
	var target *UnvalidatedEntriesError
	require.True(t, errors.As(fmt.Errorf("close: %w", unvalidated), &target))
	require.Equal(t, 3, target.Count)

	imbalance := &ImbalanceError{SourceType: "invoice", SourceID: "x", Reason: "row 0 debits and credits 411"}
	require.ErrorIs(t, imbalance, ErrImbalance)
	require.Contains(t, imbalance.Error(), "invoice x: row 0")
}
