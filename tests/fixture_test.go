// Package tests drives the same literal seed scenarios the package-level
// unit tests exercise individually, but through one JSON-fixture table:
// a JSON blob unmarshaled into a typed case, then replayed against the
// real components, generalized from Ethereum state tests to dotvm's own
// scenarios.
package tests

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/dotlanth/dotvm/core/state"
	"github.com/dotlanth/dotvm/core/vm/security"
	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
	"github.com/dotlanth/dotvm/erigon-lib/kv"
	"github.com/stretchr/testify/require"
)

// fixtureCase is one JSON scenario: Name identifies it for -run filtering
// and test output; Scenario selects which exerciser below replays it.
// Params carries whatever that exerciser needs, left as raw JSON so each
// scenario can have its own shape without a giant shared struct.
type fixtureCase struct {
	Name     string          `json:"name"`
	Scenario string          `json:"scenario"`
	Params   json.RawMessage `json:"params"`
}

const fixturesJSON = `[
  {"name": "mpt-put-get-root", "scenario": "mpt_put_get_root", "params": {}},
  {"name": "diff-compute-apply", "scenario": "diff_compute_apply", "params": {}},
  {"name": "page-allocate-free-reuse", "scenario": "page_allocate_free_reuse", "params": {}},
  {"name": "index-header-round-trip", "scenario": "index_header_round_trip", "params": {"fields": ["a", "bb"], "metadataLen": 100, "dataLen": 1000}},
  {"name": "capability-denial", "scenario": "capability_denial", "params": {}},
  {"name": "dot-storage-key-determinism", "scenario": "dot_storage_key_determinism", "params": {}}
]`

func loadFixtures(t *testing.T) []fixtureCase {
	t.Helper()
	var cases []fixtureCase
	require.NoError(t, json.Unmarshal([]byte(fixturesJSON), &cases))
	return cases
}

func TestFixtures(t *testing.T) {
	for _, fc := range loadFixtures(t) {
		fc := fc
		t.Run(fc.Name, func(t *testing.T) {
			switch fc.Scenario {
			case "mpt_put_get_root":
				runMPTPutGetRoot(t)
			case "diff_compute_apply":
				runDiffComputeApply(t)
			case "page_allocate_free_reuse":
				runPageAllocateFreeReuse(t)
			case "index_header_round_trip":
				runIndexHeaderRoundTrip(t, fc.Params)
			case "capability_denial":
				runCapabilityDenial(t)
			case "dot_storage_key_determinism":
				runDotStorageKeyDeterminism(t)
			default:
				t.Fatalf("unknown scenario %q", fc.Scenario)
			}
		})
	}
}

// S1 — insert [1]->[1], [2]->[2]; get([2])=[2], get([3])=None; root is 32
// non-zero bytes; delete([1]) then re-insert [1]->[1] restores the root.
func runMPTPutGetRoot(t *testing.T) {
	storage := state.NewMemoryNodeStorage()
	tr := state.NewTrie(storage)

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
	require.NotEqual(t, common.Hash{}, root)

	require.NoError(t, tr.Delete([]byte{1}))
	require.NoError(t, tr.Put([]byte{1}, []byte{1}))
	require.Equal(t, root, tr.RootHash())
}

// S2 — from={[1]->[1],[2]->[2]}, to={[1]->[1],[2]->[3],[3]->[3]}; the diff
// is Modified{[2],[2]->[3]} + Added{[3],[3]}, and applying it to a trie
// seeded from "from" reproduces "to"'s root.
func runDiffComputeApply(t *testing.T) {
	storage := state.NewMemoryNodeStorage()
	from := state.NewTrie(storage)
	require.NoError(t, from.Put([]byte{1}, []byte{1}))
	require.NoError(t, from.Put([]byte{2}, []byte{2}))

	to := state.NewTrie(storage)
	require.NoError(t, to.Put([]byte{1}, []byte{1}))
	require.NoError(t, to.Put([]byte{2}, []byte{3}))
	require.NoError(t, to.Put([]byte{3}, []byte{3}))

	diff, err := state.ComputeDiff(from, to)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 2)

	target := state.NewTrie(storage)
	require.NoError(t, target.Put([]byte{1}, []byte{1}))
	require.NoError(t, target.Put([]byte{2}, []byte{2}))
	require.NoError(t, state.ApplyDiff(from, target, diff))
	require.Equal(t, to.RootHash(), target.RootHash())
}

// S3 — allocate a Data page from an empty file, free it, allocate again:
// the second allocation reuses the same page_id with is_new == false.
func runPageAllocateFreeReuse(t *testing.T) {
	dir := t.TempDir()
	mgr, err := kv.Open(filepath.Join(dir, "pages.db"), kv.DefaultConfig(), nil)
	require.NoError(t, err)
	defer mgr.Close()

	first, err := mgr.AllocatePage(kv.PageData)
	require.NoError(t, err)
	require.True(t, first.IsNew)

	require.NoError(t, mgr.FreePage(first.PageID, kv.PageData))

	second, err := mgr.AllocatePage(kv.PageData)
	require.NoError(t, err)
	require.Equal(t, first.PageID, second.PageID)
	require.False(t, second.IsNew)
}

// S4 — a Composite(["a","bb"]) header with metadata_len=100, data_len=1000
// serializes then deserializes back to the same magic/version/kind/lens.
func runIndexHeaderRoundTrip(t *testing.T, params json.RawMessage) {
	var p struct {
		Fields      []string `json:"fields"`
		MetadataLen uint32   `json:"metadataLen"`
		DataLen     uint64   `json:"dataLen"`
	}
	require.NoError(t, json.Unmarshal(params, &p))

	header := kv.NewIndexSerializationFormat(kv.CompositeKind(p.Fields), p.MetadataLen, p.DataLen)
	encoded := header.Serialize()

	decoded, _, err := kv.DeserializeIndexHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, kv.IndexFormatMagic, decoded.Magic)
	require.Equal(t, uint32(1), decoded.Version)
	require.Equal(t, kv.KindComposite, decoded.Kind.Tag)
	require.Equal(t, p.Fields, decoded.Kind.Fields)
	require.Equal(t, p.MetadataLen, decoded.MetadataLen)
	require.Equal(t, p.DataLen, decoded.DataLen)
}

// S5 — a dot with no granted capabilities fails a Database{Read} opcode
// with CapabilityNotFound.
func runCapabilityDenial(t *testing.T) {
	mgr := security.NewManager(false)
	pool := security.NewGlobalPool()
	gate := security.NewGate(mgr, pool)

	_, err := gate.Check(security.GateContext{
		DotID:         "dot-with-nothing",
		SecurityLevel: security.SecurityStandard,
		Tracker:       security.NewTracker(),
	}, security.OpcodeType{Category: "Database", Operation: "Read"})

	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindCapabilityNotFound))
}

// S6 — generate_mapping_key(addr, base_slot=0, "alice") is deterministic
// across calls, differs for a different mapping key, and always carries
// addr in its first 20 bytes.
func runDotStorageKeyDeterminism(t *testing.T) {
	var addr common.Address
	for i := range addr {
		addr[i] = 1
	}

	k1 := state.GenerateMappingKey(addr, 0, []byte("alice"))
	k2 := state.GenerateMappingKey(addr, 0, []byte("alice"))
	require.Equal(t, k1, k2)

	k3 := state.GenerateMappingKey(addr, 0, []byte("bob"))
	require.NotEqual(t, k1, k3)
	require.Len(t, k3.Bytes(), len(k1.Bytes()))
	require.Equal(t, addr[:], k1.Bytes()[:common.AddressLength])
}
