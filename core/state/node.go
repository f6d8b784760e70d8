package state

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
)

// NodeKind tags the MPT node variant.
type NodeKind uint8

const (
	NodeEmpty NodeKind = iota
	NodeLeaf
	NodeExtension
	NodeBranch
)

// BranchWidth is 16 nibble slots plus one value slot, matching the
// classic Patricia-trie branch shape.
const BranchWidth = 17

// Node is the tagged MPT node variant. Only the fields relevant to Kind are
// meaningful; children are referenced by hash, never by pointer, so the
// trie is a content-addressed DAG rather than a pointer graph.
type Node struct {
	Kind     NodeKind
	Nibbles  []byte      // Leaf, Extension: the partial nibble path
	Value    []byte      // Leaf: the stored value; Branch: optional value at this position
	Child    common.Hash // Extension: hash of the single child
	Children [BranchWidth]common.Hash
}

// emptyChild is the sentinel used in a Branch's Children array (and as a
// trie's root hash before any key has been inserted) to mean "no child
// here", since an all-zero Keccak-256 digest has negligible chance of ever
// occurring naturally.
var emptyChild common.Hash

func isEmptyHash(h common.Hash) bool { return h == emptyChild }

// Hash returns the content-address of n: Keccak-256 of its canonical
// encoding. Two nodes with identical encodings have the
// identical hash, and the encoding is deterministic.
func (n *Node) Hash() common.Hash {
	enc := n.Encode()
	d := sha3.NewLegacyKeccak256()
	d.Write(enc)
	var h common.Hash
	d.Sum(h[:0])
	return h
}

// Encode produces the canonical, deterministic byte encoding: a tag byte,
// length-prefixed nibble runs, and fixed-width (32 byte) child hashes or a
// single sentinel for an empty child.
func (n *Node) Encode() []byte {
	switch n.Kind {
	case NodeEmpty:
		return []byte{byte(NodeEmpty)}
	case NodeLeaf:
		buf := []byte{byte(NodeLeaf)}
		buf = appendLenPrefixed(buf, n.Nibbles)
		buf = appendLenPrefixed(buf, n.Value)
		return buf
	case NodeExtension:
		buf := []byte{byte(NodeExtension)}
		buf = appendLenPrefixed(buf, n.Nibbles)
		buf = append(buf, n.Child[:]...)
		return buf
	case NodeBranch:
		buf := []byte{byte(NodeBranch)}
		for i := 0; i < BranchWidth-1; i++ {
			buf = append(buf, n.Children[i][:]...)
		}
		hasValue := byte(0)
		if n.Value != nil {
			hasValue = 1
		}
		buf = append(buf, hasValue)
		if hasValue == 1 {
			buf = appendLenPrefixed(buf, n.Value)
		}
		return buf
	default:
		return []byte{byte(NodeEmpty)}
	}
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

// DecodeNode parses the canonical encoding produced by Encode. Used when a
// node is fetched from NodeStorage by hash.
func DecodeNode(enc []byte) (*Node, error) {
	const op = "DecodeNode"
	if len(enc) == 0 {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
	}
	kind := NodeKind(enc[0])
	pos := 1
	readLenPrefixed := func() ([]byte, error) {
		if len(enc) < pos+4 {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
		}
		n := binary.BigEndian.Uint32(enc[pos : pos+4])
		pos += 4
		if len(enc) < pos+int(n) {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
		}
		data := enc[pos : pos+int(n)]
		pos += int(n)
		return data, nil
	}

	switch kind {
	case NodeEmpty:
		return &Node{Kind: NodeEmpty}, nil
	case NodeLeaf:
		nibbles, err := readLenPrefixed()
		if err != nil {
			return nil, err
		}
		value, err := readLenPrefixed()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeLeaf, Nibbles: nibbles, Value: value}, nil
	case NodeExtension:
		nibbles, err := readLenPrefixed()
		if err != nil {
			return nil, err
		}
		if len(enc) < pos+common.HashLength {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
		}
		child := common.BytesToHash(enc[pos : pos+common.HashLength])
		pos += common.HashLength
		return &Node{Kind: NodeExtension, Nibbles: nibbles, Child: child}, nil
	case NodeBranch:
		n := &Node{Kind: NodeBranch}
		for i := 0; i < BranchWidth-1; i++ {
			if len(enc) < pos+common.HashLength {
				return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
			}
			n.Children[i] = common.BytesToHash(enc[pos : pos+common.HashLength])
			pos += common.HashLength
		}
		if len(enc) < pos+1 {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
		}
		hasValue := enc[pos]
		pos++
		if hasValue == 1 {
			value, err := readLenPrefixed()
			if err != nil {
				return nil, err
			}
			n.Value = value
		}
		return n, nil
	default:
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
	}
}
