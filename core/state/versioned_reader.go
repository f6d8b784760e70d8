// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
	"github.com/dotlanth/dotvm/erigon-lib/log"
)

// ErrPruned is returned when a version falls before the reader's
// retention window: the root it would have needed has already been
// reclaimed by the page manager's version cleanup.
var ErrPruned = errors.New("state not available at this version: pruned by retention policy")

// VersionedReader implements StateProvider over a content-addressed
// NodeStorage plus a table of committed (version -> root hash) pairs. It
// is the versioned-state analogue of a point-in-time account/storage
// reader: instead of resolving one address at one block, it resolves one
// dot's storage slot at one version.
type VersionedReader struct {
	mu      sync.RWMutex
	storage NodeStorage
	roots   map[uint64]common.Hash
	log     log.Logger

	version        uint64
	retentionStart uint64
}

// NewVersionedReader builds a reader logging through a no-op logger;
// chain WithLogger to attach a real one.
func NewVersionedReader(storage NodeStorage) *VersionedReader {
	return &VersionedReader{storage: storage, roots: make(map[uint64]common.Hash), log: log.Nop()}
}

// WithLogger attaches logger, returning the reader for chaining.
func (r *VersionedReader) WithLogger(logger log.Logger) *VersionedReader {
	r.log = logger
	return r
}

func (r *VersionedReader) String() string {
	return fmt.Sprintf("version:%d", r.version)
}

func (r *VersionedReader) SetVersion(v uint64)    { r.version = v }
func (r *VersionedReader) GetVersion() uint64     { return r.version }
func (r *VersionedReader) RetentionStart() uint64 { return r.retentionStart }

// SetRetentionStart marks the oldest version still reachable, mirroring
// the page manager's CleanupOldVersions(max_versions) horizon.
func (r *VersionedReader) SetRetentionStart(v uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retentionStart = v
}

// RecordRoot registers the root hash committed at version: the moment a
// version becomes queryable by TrieAtVersion/ReadSlot.
func (r *VersionedReader) RecordRoot(version uint64, root common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roots[version] = root
}

// TrieAtVersion resolves the latest committed root at or before version
// and wraps it in a Trie, implementing StateProvider for verification.go.
// Versions only ever publish a root when they change state, so "at or
// before" rather than an exact match is what makes reads between commits
// well-defined.
func (r *VersionedReader) TrieAtVersion(version uint64) (*Trie, error) {
	const op = "VersionedReader.TrieAtVersion"

	r.mu.RLock()
	defer r.mu.RUnlock()

	if version < r.retentionStart {
		r.log.Debug("version pruned by retention policy", "version", version, "retentionStart", r.retentionStart)
		return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, ErrPruned)
	}

	var best uint64
	var bestRoot common.Hash
	found := false
	for v, root := range r.roots {
		if v > version {
			continue
		}
		if !found || v > best {
			best, bestRoot, found = v, root, true
		}
	}
	if !found {
		return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, nil)
	}

	r.log.Debug("resolved trie at version", "requested", version, "committed", best, "root", bestRoot)
	return NewTrieAtRoot(r.storage, bestRoot), nil
}

// ReadSlot reads a dot's storage slot as of version: resolve the trie at
// that version, then look up the 52-byte (address, slot) storage key
// within it. Returns (nil, false, nil) when the slot was never written.
func (r *VersionedReader) ReadSlot(addr common.Address, slot common.Hash, version uint64) ([]byte, bool, error) {
	const op = "VersionedReader.ReadSlot"

	tr, err := r.TrieAtVersion(version)
	if err != nil {
		return nil, false, err
	}

	key := NewStorageKey(addr, slot)
	val, ok, err := tr.Get(key.Bytes())
	if err != nil {
		return nil, false, dotvmerr.New(dotvmerr.KindStateInconsistency, op, err)
	}
	r.log.Debug("read storage slot", "dot", addr, "slot", slot, "version", version, "found", ok)
	return val, ok, nil
}
