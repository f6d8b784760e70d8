package state

import (
	"errors"
	"testing"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/stretchr/testify/require"
)

// versionedFixture is a minimal StateProvider backed by a fixed map of
// version -> trie, the shape a real page-backed history reader would
// expose through TrieAtVersion.
type versionedFixture struct {
	tries map[uint64]*Trie
}

func (f *versionedFixture) TrieAtVersion(version uint64) (*Trie, error) {
	tr, ok := f.tries[version]
	if !ok {
		return nil, errors.New("no trie at that version")
	}
	return tr, nil
}

func TestCreateSnapshot_RebuildRoundTrip(t *testing.T) {
	tr := buildTrie(t, map[string]string{"a": "1", "b": "2"})
	snap, err := CreateSnapshot(tr, "snap-1", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(10), snap.VersionID)
	require.Equal(t, tr.RootHash(), snap.RootHash)

	rebuilt, err := RebuildTrie(snap, NewMemoryNodeStorage())
	require.NoError(t, err)
	require.Equal(t, tr.RootHash(), rebuilt.RootHash())
}

func TestValidateStateAtVersion_MatchingSnapshot(t *testing.T) {
	tr := buildTrie(t, map[string]string{"a": "1", "b": "2"})
	snap, err := CreateSnapshot(tr, "snap-10", 10)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap)

	provider := &versionedFixture{tries: map[uint64]*Trie{10: tr}}

	report, err := ValidateStateAtVersion(provider, store, 10)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Empty(t, report.Warnings)
	require.Equal(t, 2, report.KeyCount)
}

func TestValidateStateAtVersion_ExactVersionRootMismatchFails(t *testing.T) {
	tr := buildTrie(t, map[string]string{"a": "1", "b": "2"})
	snap, err := CreateSnapshot(tr, "snap-10", 10)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap)

	drifted := buildTrie(t, map[string]string{"a": "1", "b": "99"})
	provider := &versionedFixture{tries: map[uint64]*Trie{10: drifted}}

	_, err = ValidateStateAtVersion(provider, store, 10)
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindRootHashMismatch))
}

func TestValidateStateAtVersion_OlderSnapshotDriftWarnsOnly(t *testing.T) {
	old := buildTrie(t, map[string]string{"a": "1"})
	snap, err := CreateSnapshot(old, "snap-5", 5)
	require.NoError(t, err)

	store := NewMemorySnapshotStore()
	store.Add(snap)

	newer := buildTrie(t, map[string]string{"a": "2"})
	provider := &versionedFixture{tries: map[uint64]*Trie{10: newer}}

	report, err := ValidateStateAtVersion(provider, store, 10)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.NotEmpty(t, report.Warnings)
}

func TestValidateTransition(t *testing.T) {
	from := buildTrie(t, map[string]string{"1": "1", "2": "2"})
	to := buildTrie(t, map[string]string{"1": "1", "2": "3", "3": "3"})
	provider := &versionedFixture{tries: map[uint64]*Trie{1: from, 2: to}}

	report, err := ValidateTransition(provider, 1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), report.FromVersion)
	require.Equal(t, uint64(2), report.ToVersion)
	require.Len(t, report.Diff.Changes, 2)
}

func TestComprehensiveVerification_Range(t *testing.T) {
	v1 := buildTrie(t, map[string]string{"a": "1"})
	v2 := buildTrie(t, map[string]string{"a": "2"})
	v3 := buildTrie(t, map[string]string{"a": "3"})
	provider := &versionedFixture{tries: map[uint64]*Trie{1: v1, 2: v2, 3: v3}}

	reports, err := ComprehensiveVerification(provider, nil, 1, 3)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		require.True(t, r.Valid)
	}
}
