package audit

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/store"
)

func TestRecord(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	w := NewPDRWriter(s)
	inputs := map[string]string{"host_class": "idx", "package_id": "splunk-9.2.1"}

	entry := w.Record(ActionUpgradeStart, inputs, OutcomeSuccess, "")
	require.NotNil(t, entry)
	assert.Equal(t, hashInputs(inputs), entry.InputsHash)
	assert.Len(t, entry.InputsHash, 64)

	outcome, details := Outcome(errors.New("dispatch failed"))
	w.Record(ActionWorkflowDispatch, inputs, outcome, details)

	entries, err := s.ListPDR(0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHashInputs(t *testing.T) {
	assert.Equal(t, hashInputs(map[string]int{"a": 1}), hashInputs(map[string]int{"a": 1}))
	assert.NotEqual(t, hashInputs("a"), hashInputs("b"))
	assert.Equal(t, "hash_error", hashInputs(make(chan int)))
}

func TestRecord_ClosedStoreIsLoggedOnly(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	s.Close()

	assert.Nil(t, NewPDRWriter(s).Record(ActionUpgradeReset, nil, OutcomeSuccess, ""))
}
