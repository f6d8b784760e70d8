package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoveryManager_RecoverFromCheckpointReappliesTransactions(t *testing.T) {
	storage := NewMemoryNodeStorage()
	tr := buildTrie(t, map[string]string{"a": "1"})
	snap, err := CreateSnapshot(tr, "chk-1", 1)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap)

	mgr := NewRecoveryManager(storage, store)
	mgr.RegisterTransaction(PendingTransaction{
		ID:       "add-b",
		Critical: true,
		Apply: func(tr *Trie) error {
			return tr.Put([]byte("b"), []byte("2"))
		},
	})

	var reports []RecoveryReport
	mgr.AddListener(func(r RecoveryReport) { reports = append(reports, r) })

	recovered, report := mgr.RecoverFromCheckpoint("chk-1")
	require.Equal(t, RecoverySuccess, report.Outcome)
	require.Len(t, reports, 1)

	val, ok, err := recovered.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), val)
}

func TestRecoveryManager_NonCriticalFailureIsPartialSuccess(t *testing.T) {
	storage := NewMemoryNodeStorage()
	tr := buildTrie(t, map[string]string{"a": "1"})
	snap, err := CreateSnapshot(tr, "chk-1", 1)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap)

	mgr := NewRecoveryManager(storage, store)
	mgr.RegisterTransaction(PendingTransaction{
		ID:       "flaky",
		Critical: false,
		Apply:    func(*Trie) error { return errors.New("boom") },
	})

	_, report := mgr.RecoverFromCheckpoint("chk-1")
	require.Equal(t, RecoveryPartial, report.Outcome)
	require.Len(t, report.Warnings, 1)
}

func TestRecoveryManager_CriticalFailureFails(t *testing.T) {
	storage := NewMemoryNodeStorage()
	tr := buildTrie(t, map[string]string{"a": "1"})
	snap, err := CreateSnapshot(tr, "chk-1", 1)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap)

	mgr := NewRecoveryManager(storage, store)
	mgr.RegisterTransaction(PendingTransaction{
		ID:       "critical",
		Critical: true,
		Apply:    func(*Trie) error { return errors.New("boom") },
	})

	_, report := mgr.RecoverFromCheckpoint("chk-1")
	require.Equal(t, RecoveryFailed, report.Outcome)
}

func TestRecoveryManager_UnknownCheckpointFails(t *testing.T) {
	store := NewMemorySnapshotStore()
	mgr := NewRecoveryManager(NewMemoryNodeStorage(), store)

	_, report := mgr.RecoverFromCheckpoint("missing")
	require.Equal(t, RecoveryFailed, report.Outcome)
}

func TestRecoveryManager_RecoverFromLatestCheckpoint(t *testing.T) {
	storage := NewMemoryNodeStorage()
	tr1 := buildTrie(t, map[string]string{"a": "1"})
	snap1, err := CreateSnapshot(tr1, "chk-1", 1)
	require.NoError(t, err)
	tr2 := buildTrie(t, map[string]string{"a": "2"})
	snap2, err := CreateSnapshot(tr2, "chk-2", 2)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap1)
	store.Add(snap2)

	mgr := NewRecoveryManager(storage, store)
	recovered, report := mgr.RecoverFromLatestCheckpoint()
	require.Equal(t, RecoverySuccess, report.Outcome)

	val, ok, err := recovered.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), val)
}
