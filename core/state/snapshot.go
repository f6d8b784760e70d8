package state

import (
	"time"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
)

// Snapshot is a serialized (version, root_hash, key-value map) record: the
// unit persisted to the Snapshots table and consumed by verification.
type Snapshot struct {
	SnapshotID string
	VersionID  uint64
	RootHash   common.Hash
	StateMap   map[string][]byte
	Timestamp  time.Time
}

// CreateSnapshot serializes tr's full key set at its current root into a
// flat map and records the (id, version, root_hash) triple. The invariant
// that matters downstream: rebuilding a trie from StateMap must reproduce
// RootHash exactly (checked by RebuildTrie + verification, not here).
func CreateSnapshot(tr *Trie, snapshotID string, versionID uint64) (*Snapshot, error) {
	const op = "CreateSnapshot"
	keys, err := tr.GetAllKeys()
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, err)
	}
	return &Snapshot{
		SnapshotID: snapshotID,
		VersionID:  versionID,
		RootHash:   tr.RootHash(),
		StateMap:   keys,
		Timestamp:  time.Now(),
	}, nil
}

// RebuildTrie replays a snapshot's key-value map into a fresh trie over
// storage and returns it. Used both by verification and by a cold-start
// validator that has no paged history to replay from.
func RebuildTrie(snap *Snapshot, storage NodeStorage) (*Trie, error) {
	const op = "RebuildTrie"
	tr := NewTrie(storage)
	for k, v := range snap.StateMap {
		if err := tr.Put([]byte(k), v); err != nil {
			return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, err)
		}
	}
	return tr, nil
}

// SnapshotStore locates the closest snapshot at or before a version, for
// the warn-don't-fail reconciliation ValidateStateAtVersion performs
// against historical snapshots.
type SnapshotStore interface {
	ClosestSnapshot(maxVersion uint64) (*Snapshot, bool, error)
}

// MemorySnapshotStore is an in-memory SnapshotStore, the default used by
// tests and by any verifier not backed by the Snapshots table.
type MemorySnapshotStore struct {
	snapshots []*Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore { return &MemorySnapshotStore{} }

func (s *MemorySnapshotStore) Add(snap *Snapshot) { s.snapshots = append(s.snapshots, snap) }

func (s *MemorySnapshotStore) ClosestSnapshot(maxVersion uint64) (*Snapshot, bool, error) {
	var best *Snapshot
	for _, snap := range s.snapshots {
		if snap.VersionID > maxVersion {
			continue
		}
		if best == nil || snap.VersionID > best.VersionID {
			best = snap
		}
	}
	return best, best != nil, nil
}

// GetByID looks up a snapshot by its checkpoint identifier, the lookup
// RecoveryManager needs to recover from a named checkpoint rather than a
// version.
func (s *MemorySnapshotStore) GetByID(checkpointID string) (*Snapshot, bool) {
	for _, snap := range s.snapshots {
		if snap.SnapshotID == checkpointID {
			return snap, true
		}
	}
	return nil, false
}

// LatestID returns the snapshot ID with the highest version, for
// recovering from "whatever the most recent checkpoint is" without the
// caller naming one.
func (s *MemorySnapshotStore) LatestID() (string, bool) {
	var best *Snapshot
	for _, snap := range s.snapshots {
		if best == nil || snap.VersionID > best.VersionID {
			best = snap
		}
	}
	if best == nil {
		return "", false
	}
	return best.SnapshotID, true
}
