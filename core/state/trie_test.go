package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotlanth/dotvm/erigon-lib/common"
)

func newTestTrie() *Trie {
	return NewTrie(NewMemoryNodeStorage())
}

// S1 — MPT put/get/root.
func TestTrie_PutGetRoot(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte{1}, []byte{1}))
	require.NoError(t, tr.Put([]byte{2}, []byte{2}))

	v, ok, err := tr.Get([]byte{2})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{2}, v)

	_, ok, err = tr.Get([]byte{3})
	require.NoError(t, err)
	require.False(t, ok)

	root := tr.RootHash()
	require.False(t, isEmptyHash(root))

	require.NoError(t, tr.Delete([]byte{1}))
	require.NoError(t, tr.Put([]byte{1}, []byte{1}))
	require.Equal(t, root, tr.RootHash())
}

func TestTrie_DeleteCollapsesToEmpty(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte{1}, []byte{1}))
	require.NoError(t, tr.Delete([]byte{1}))
	require.True(t, isEmptyHash(tr.RootHash()))
}

func TestTrie_OverwriteExistingKey(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("k"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k"), []byte("v2")))
	v, ok, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestTrie_GetAllKeys(t *testing.T) {
	tr := newTestTrie()
	want := map[string][]byte{
		"alpha": []byte("1"),
		"beta":  []byte("2"),
		"gamma": []byte("3"),
	}
	for k, v := range want {
		require.NoError(t, tr.Put([]byte(k), v))
	}
	got, err := tr.GetAllKeys()
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for k, v := range want {
		require.Equal(t, v, got[k])
	}
}

// Property 1 — MPT determinism: any permutation of an insert sequence
// yielding the same final key-value set produces an identical root_hash.
func TestTrie_DeterminismAcrossInsertOrder(t *testing.T) {
	entries := []struct {
		k, v []byte
	}{
		{[]byte("apple"), []byte("1")},
		{[]byte("application"), []byte("2")},
		{[]byte("banana"), []byte("3")},
		{[]byte("band"), []byte("4")},
		{[]byte("bandana"), []byte("5")},
	}

	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
	}

	var roots []common.Hash
	for _, order := range orders {
		tr := newTestTrie()
		for _, i := range order {
			require.NoError(t, tr.Put(entries[i].k, entries[i].v))
		}
		roots = append(roots, tr.RootHash())
	}
	for i := 1; i < len(roots); i++ {
		require.Equal(t, roots[0], roots[i])
	}
}

// Property 2 — MPT proof soundness: verify(generate_proof(k), root) == true
// iff get(k) != None.
func TestTrie_ProofSoundness(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("x"), []byte("vx")))
	require.NoError(t, tr.Put([]byte("y"), []byte("vy")))
	require.NoError(t, tr.Put([]byte("z"), []byte("vz")))

	root := tr.RootHash()

	for _, k := range [][]byte{[]byte("x"), []byte("y"), []byte("z")} {
		proof, err := tr.GenerateProof(k)
		require.NoError(t, err)
		ok, err := proof.Verify(root)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err := tr.GenerateProof([]byte("absent"))
	require.Error(t, err)
}

func TestTrie_ProofFailsAgainstWrongRoot(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("x"), []byte("vx")))
	proof, err := tr.GenerateProof([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, tr.Put([]byte("y"), []byte("vy")))
	ok, err := proof.Verify(tr.RootHash())
	require.NoError(t, err)
	require.False(t, ok)
}
