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

// Package common holds the address/hash primitives shared by the storage,
// state, and security layers, generalized from erigon's account-address and
// block-hash types into dot-address and content-hash types.
package common

import "encoding/hex"

// AddressLength is the size in bytes of a dot address.
const AddressLength = 20

// HashLength is the size in bytes of a content hash (root hash, node hash).
const HashLength = 32

// Address identifies a dot (an executable contract).
type Address [AddressLength]byte

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }

// BytesToAddress left-pads b with zeros into an Address, or keeps only its
// last AddressLength bytes when it is longer, matching the convention used
// for fixed-width identifiers throughout the codebase.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Hash is a 32-byte content hash: an MPT root hash, node hash, or snapshot id.
type Hash [HashLength]byte

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}
