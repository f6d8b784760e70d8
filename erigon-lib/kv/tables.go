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

// Package kv holds the page-backed storage engine: the table/version naming
// conventions (this file), the Page Manager, and Index Persistence.
package kv

// DBSchemaVersion tracks the on-disk page/table layout. Bump the minor
// version for additive changes, the major version when old files can no
// longer be opened.
var DBSchemaVersion = SchemaVersion{Major: 1, Minor: 0, Patch: 0}

type SchemaVersion struct{ Major, Minor, Patch uint32 }

// Table names. Naming mirrors erigon's tables.go convention: a short const
// per logical table, with a comment documenting key/value layout, grouped by
// the component that owns it.

const (
	// Page Manager bookkeeping. Only FileHeader is persisted, in the file
	// header page (page 0); the Manager holds FreeList, PendingFree and
	// PageVersions in memory.
	//
	// FileHeader: single fixed record -> {magic, page_size, current_version, max_versions, next_page_id}
	FileHeader = "FileHeader"

	// FreeList: page_type_u8 -> roaring-bitmap of free page_ids for that type.
	FreeList = "FreeList"

	// PendingFree: page_type_u8 -> roaring-bitmap of page_ids freed this
	// session but not yet batch-processed (buffered until >=100 entries).
	PendingFree = "PendingFree"

	// PageVersions: page_id_u64_be -> sorted list of version_u64 at which
	// that page_id was written. Used by cleanup_old_versions and compact.
	PageVersions = "PageVersions"
)

const (
	// Index Persistence metadata, one record per registered index.
	//
	// IndexMeta: name -> {kind, file_path, disk_size, entry_count,
	// last_modified, format_version, is_mmap, checksum}
	IndexMeta = "IndexMeta"
)

const (
	// MPT content-addressed node store.
	//
	// MPTNodes: keccak256(encoded_node) -> encoded_node
	MPTNodes = "MPTNodes"

	// Snapshots: snapshot_id -> {version_id, root_hash, serialized_state_map, timestamp}
	Snapshots = "Snapshots"

	// VersionRoots: version_u64_be -> root_hash, so the verifier can find the
	// expected root for a given version without replaying the whole trie.
	VersionRoots = "VersionRoots"
)

const (
	// Dot storage-layout slot assignment bookkeeping, keyed by dot address.
	//
	// SlotLayout: address -> {next_slot, field layout table}
	SlotLayout = "SlotLayout"
)

const (
	// Opcode security gate capability records, keyed by dot_id.
	//
	// Capabilities: dot_id -> list of Capability
	Capabilities = "Capabilities"
)

// Tables is the registry of all table names the page-backed store knows
// about. A table absent from this list is a programming error: callers
// must register it here before use, matching erigon's ChaindataTables
// invariant ("app will panic if some bucket is not in this list").
var Tables = []string{
	FileHeader,
	FreeList,
	PendingFree,
	PageVersions,
	IndexMeta,
	MPTNodes,
	Snapshots,
	VersionRoots,
	SlotLayout,
	Capabilities,
}

// IsKnownTable reports whether name is a registered table.
func IsKnownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}
