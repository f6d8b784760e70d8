package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTrie(t *testing.T, entries map[string]string) *Trie {
	t.Helper()
	tr := newTestTrie()
	for k, v := range entries {
		require.NoError(t, tr.Put([]byte(k), []byte(v)))
	}
	return tr
}

// S2 — Diff compute/apply.
func TestComputeDiff_S2(t *testing.T) {
	from := buildTrie(t, map[string]string{"1": "1", "2": "2"})
	to := buildTrie(t, map[string]string{"1": "1", "2": "3", "3": "3"})

	diff, err := ComputeDiff(from, to)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 2)

	byKey := make(map[string]StateChange)
	for _, c := range diff.Changes {
		byKey[string(c.Key)] = c
	}

	mod, ok := byKey["2"]
	require.True(t, ok)
	require.Equal(t, Modified, mod.Kind)
	require.Equal(t, []byte("2"), mod.OldValue)
	require.Equal(t, []byte("3"), mod.NewValue)

	add, ok := byKey["3"]
	require.True(t, ok)
	require.Equal(t, Added, add.Kind)
	require.Equal(t, []byte("3"), add.NewValue)
}

// Property 3 — Diff round-trip: apply(diff(A,B), A) = B (root hashes equal).
func TestApplyDiff_RoundTrip(t *testing.T) {
	from := buildTrie(t, map[string]string{"1": "1", "2": "2"})
	to := buildTrie(t, map[string]string{"1": "1", "2": "3", "3": "3"})

	diff, err := ComputeDiff(from, to)
	require.NoError(t, err)

	target := buildTrie(t, map[string]string{"1": "1", "2": "2"})
	require.NoError(t, ApplyDiff(from, target, diff))
	require.Equal(t, to.RootHash(), target.RootHash())
}

// Property 4 — Reverse diff: apply(reverse(diff(A,B)), B) = A.
func TestReverseDiff_RoundTrip(t *testing.T) {
	from := buildTrie(t, map[string]string{"1": "1", "2": "2"})
	to := buildTrie(t, map[string]string{"1": "1", "2": "3", "3": "3"})

	diff, err := ComputeDiff(from, to)
	require.NoError(t, err)
	reverse := ReverseDiff(diff)

	target := buildTrie(t, map[string]string{"1": "1", "2": "3", "3": "3"})
	require.NoError(t, ApplyDiff(to, target, reverse))
	require.Equal(t, from.RootHash(), target.RootHash())
}

func TestComputeDiff_Empty(t *testing.T) {
	a := buildTrie(t, map[string]string{"x": "1"})
	b := buildTrie(t, map[string]string{"x": "1"})
	diff, err := ComputeDiff(a, b)
	require.NoError(t, err)
	require.Empty(t, diff.Changes)
}
