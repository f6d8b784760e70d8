package state

import (
	"testing"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/stretchr/testify/require"
)

func TestVersionedReader_ResolvesLatestRootAtOrBeforeVersion(t *testing.T) {
	storage := NewMemoryNodeStorage()
	tr1 := NewTrie(storage)
	require.NoError(t, tr1.Put([]byte("a"), []byte("1")))

	tr2 := NewTrieAtRoot(storage, tr1.RootHash())
	require.NoError(t, tr2.Put([]byte("a"), []byte("2")))

	reader := NewVersionedReader(storage)
	reader.RecordRoot(1, tr1.RootHash())
	reader.RecordRoot(5, tr2.RootHash())

	got, err := reader.TrieAtVersion(3)
	require.NoError(t, err)
	require.Equal(t, tr1.RootHash(), got.RootHash())

	got, err = reader.TrieAtVersion(5)
	require.NoError(t, err)
	require.Equal(t, tr2.RootHash(), got.RootHash())

	got, err = reader.TrieAtVersion(100)
	require.NoError(t, err)
	require.Equal(t, tr2.RootHash(), got.RootHash())
}

func TestVersionedReader_PrunedBelowRetentionStart(t *testing.T) {
	storage := NewMemoryNodeStorage()
	tr := NewTrie(storage)
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))

	reader := NewVersionedReader(storage)
	reader.RecordRoot(1, tr.RootHash())
	reader.SetRetentionStart(10)

	_, err := reader.TrieAtVersion(5)
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindStateInconsistency))
}

func TestVersionedReader_ReadSlot(t *testing.T) {
	storage := NewMemoryNodeStorage()
	addr := testAddress()
	l := NewLayout()
	bal := l.AssignSimple("balance")

	tr := NewTrie(storage)
	key := NewStorageKey(addr, bal.Slot)
	val, err := Value{Kind: KindU256, Raw: []byte{42}}.Encode()
	require.NoError(t, err)
	require.NoError(t, tr.Put(key.Bytes(), val))

	reader := NewVersionedReader(storage)
	reader.RecordRoot(1, tr.RootHash())

	got, ok, err := reader.ReadSlot(addr, bal.Slot, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, val, got)
}
