package executor

import (
	"github.com/dotlanth/dotvm/core/state"
	"github.com/dotlanth/dotvm/core/vm/security"
	"github.com/dotlanth/dotvm/erigon-lib/common"
)

// HashProvider computes a content hash for Crypto opcodes. The default
// implementation wraps sha3's Keccak-256, the same hash core/state uses
// for trie node addressing.
type HashProvider interface {
	Hash(data []byte) common.Hash
}

// SignProvider signs a digest for Crypto opcodes. The default
// implementation is backed by secp256k1.
type SignProvider interface {
	Sign(digest []byte, privateKey []byte) ([]byte, error)
}

// Context is everything DotVM execution needs beyond the instruction
// stream itself: which dot is running, at what security level and store
// version, the resource tracker the gate consults before every opcode,
// and the storage/crypto dependencies Database/State/Crypto opcodes call
// into.
type Context struct {
	DotID  common.Address
	Gate   GateInfo
	Reader *state.VersionedReader // historical reads, pinned to an arbitrary version
	Trie   *state.Trie            // this run's mutable write-view, committed by the caller
	Hash   HashProvider
	Sign   SignProvider
	Pool   *WorkerPool
}

// GateInfo is the subset of security.GateContext an executor run needs,
// plus the gate itself so every dispatched opcode can be checked.
type GateInfo struct {
	Gate    *security.Gate
	Context security.GateContext
}

// CheckUsage authorizes category/operation for this run's dot with an
// explicit resource delta, delegating to the security gate. Callers
// should run this immediately before dispatching any opcode, native or
// host, passing the real cost of the step they're about to take (bytes
// moved across the host boundary, linear memory grown, or a flat
// one-instruction Usage for steps with no other cost to report).
func (c *Context) CheckUsage(category, operation string, usage security.Usage) (security.Decision, error) {
	return c.Gate.Gate.CheckUsage(c.Gate.Context, security.OpcodeType{Category: category, Operation: operation}, usage)
}

// Admit reserves this run's slot in the global pool's active-context cap.
// Callers must call Release when the run finishes.
func (c *Context) Admit() bool { return c.Gate.Gate.Admit() }

// Release returns the slot a matching Admit reserved.
func (c *Context) Release() { c.Gate.Gate.Release() }

// StorageKeyFor builds the dot-scoped storage key a State opcode reads or
// writes, from a 32-byte slot identifier.
func (c *Context) StorageKeyFor(slot common.Hash) state.StorageKey {
	return state.NewStorageKey(c.DotID, slot)
}
