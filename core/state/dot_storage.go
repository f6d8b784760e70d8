package state

import (
	"encoding/binary"
	"math/big"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
	"golang.org/x/crypto/sha3"
)

// VarKind tags how a declared dot variable occupies storage slots.
type VarKind uint8

const (
	Simple VarKind = iota
	DynamicArray
	Mapping
	Struct
)

// SlotAssignment is the outcome of assigning storage to one declared
// variable: its base slot, and — for Struct — the per-field slots when
// laid out one-slot-per-field rather than packed.
type SlotAssignment struct {
	Name       string
	Kind       VarKind
	Slot       common.Hash
	FieldSlots []common.Hash
}

// Layout assigns deterministic, sequential storage slots to a dot's
// declared variables in declaration order. Simple and DynamicArray and
// Mapping each consume exactly one base slot; Struct consumes one slot
// per field unless packed.
type Layout struct {
	nextSlot uint64
}

func NewLayout() *Layout { return &Layout{} }

func slotFromIndex(i uint64) common.Hash {
	var h common.Hash
	big.NewInt(0).SetUint64(i).FillBytes(h[:])
	return h
}

// AssignSimple allocates the next sequential slot.
func (l *Layout) AssignSimple(name string) SlotAssignment {
	slot := slotFromIndex(l.nextSlot)
	l.nextSlot++
	return SlotAssignment{Name: name, Kind: Simple, Slot: slot}
}

// AssignDynamicArray allocates one slot holding the array's length;
// element keys are derived separately via ArrayElementKey.
func (l *Layout) AssignDynamicArray(name string) SlotAssignment {
	slot := slotFromIndex(l.nextSlot)
	l.nextSlot++
	return SlotAssignment{Name: name, Kind: DynamicArray, Slot: slot}
}

// AssignMapping allocates one marker slot; entry keys are derived
// separately via MappingEntryKey.
func (l *Layout) AssignMapping(name string) SlotAssignment {
	slot := slotFromIndex(l.nextSlot)
	l.nextSlot++
	return SlotAssignment{Name: name, Kind: Mapping, Slot: slot}
}

// AssignStruct lays out fieldSizes (in bytes) either packed — fields
// sharing 32-byte slots, a new slot started whenever a field wouldn't
// fit in the current slot's remaining space — or one slot per field.
func (l *Layout) AssignStruct(name string, fieldSizes []int, packed bool) SlotAssignment {
	base := slotFromIndex(l.nextSlot)
	fieldSlots := make([]common.Hash, len(fieldSizes))

	if !packed {
		for i := range fieldSizes {
			fieldSlots[i] = slotFromIndex(l.nextSlot)
			l.nextSlot++
		}
		return SlotAssignment{Name: name, Kind: Struct, Slot: base, FieldSlots: fieldSlots}
	}

	const slotSize = 32
	used := 0
	for i, size := range fieldSizes {
		if size > slotSize {
			size = slotSize
		}
		if used+size > slotSize {
			l.nextSlot++
			used = 0
		}
		fieldSlots[i] = slotFromIndex(l.nextSlot)
		used += size
	}
	l.nextSlot++

	return SlotAssignment{Name: name, Kind: Struct, Slot: base, FieldSlots: fieldSlots}
}

// ArrayElementKey derives the slot for element index of a DynamicArray
// whose length lives at base: keccak256(base_be), with index added via a
// 64-bit wrapping add confined to the digest's last 8 bytes — the upper
// 24 bytes pass through untouched. This matches generate_array_key's
// wrapping_add over the low word rather than a full 256-bit addition.
func ArrayElementKey(base common.Hash, index uint64) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(base[:])
	digest := h.Sum(nil)

	low := binary.BigEndian.Uint64(digest[len(digest)-8:]) + index
	binary.BigEndian.PutUint64(digest[len(digest)-8:], low)

	var out common.Hash
	copy(out[:], digest)
	return out
}

// MappingEntryKey derives the slot for userKey in a Mapping whose marker
// slot is base: keccak256(userKey || base_be).
func MappingEntryKey(base common.Hash, userKey []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(userKey)
	h.Write(base[:])
	return common.BytesToHash(h.Sum(nil))
}

// StorageKey is the 52-byte MPT key for a dot's storage slot: a 20-byte
// dot address followed by a 32-byte slot identifier.
type StorageKey [common.AddressLength + common.HashLength]byte

func NewStorageKey(addr common.Address, slot common.Hash) StorageKey {
	var k StorageKey
	copy(k[:common.AddressLength], addr[:])
	copy(k[common.AddressLength:], slot[:])
	return k
}

func (k StorageKey) Bytes() []byte { return k[:] }

// GenerateMappingKey is the end-to-end convenience a dot call site uses:
// given the declaring dot's address, a mapping's base slot index, and a
// user key, it derives the mapping entry slot and wraps it into the
// 52-byte storage key the trie is keyed by.
func GenerateMappingKey(addr common.Address, baseSlotIndex uint64, mappingKey []byte) StorageKey {
	base := slotFromIndex(baseSlotIndex)
	entry := MappingEntryKey(base, mappingKey)
	return NewStorageKey(addr, entry)
}

// ValueKind tags the dynamic type of a value written into storage.
type ValueKind uint8

const (
	KindBytes ValueKind = iota
	KindU256
	KindBool
	KindString
	KindArray
	KindMapping
)

// Value is a tagged dot-storage value. Encode/Decode round-trip it to the
// 32-byte-padded wire representation Get/Put exchange with the trie;
// Bytes values pass through unpadded since they carry their own length.
type Value struct {
	Kind ValueKind
	Raw  []byte
}

// Encode pads booleans and strings to 32 bytes, left-pads U256 to 32
// bytes, and passes Bytes through unchanged. Array/Mapping values only
// ever hold a marker (their length or presence), encoded like U256.
func (v Value) Encode() ([]byte, error) {
	const op = "Value.Encode"
	switch v.Kind {
	case KindBytes:
		return v.Raw, nil
	case KindU256, KindArray, KindMapping:
		if len(v.Raw) > 32 {
			return nil, dotvmerr.New(dotvmerr.KindInvalidOperation, op, nil)
		}
		out := make([]byte, 32)
		copy(out[32-len(v.Raw):], v.Raw)
		return out, nil
	case KindBool:
		out := make([]byte, 32)
		if len(v.Raw) > 0 && v.Raw[0] != 0 {
			out[31] = 1
		}
		return out, nil
	case KindString:
		if len(v.Raw) > 32 {
			return nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op, nil)
		}
		out := make([]byte, 32)
		copy(out, v.Raw)
		return out, nil
	default:
		return nil, dotvmerr.New(dotvmerr.KindInvalidOperation, op, nil)
	}
}

// Decode interprets raw (as produced by Encode) according to kind.
func Decode(kind ValueKind, raw []byte) Value {
	switch kind {
	case KindBool:
		return Value{Kind: KindBool, Raw: []byte{raw[len(raw)-1]}}
	case KindString:
		end := len(raw)
		for end > 0 && raw[end-1] == 0 {
			end--
		}
		return Value{Kind: KindString, Raw: append([]byte(nil), raw[:end]...)}
	default:
		return Value{Kind: kind, Raw: append([]byte(nil), raw...)}
	}
}
