package state

import (
	"bytes"
	"crypto/subtle"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
)

// MerkleProof is the inclusion proof for a single key: proofs verify iff the
// key-value mapping is present in the trie with the given root. Nodes holds the encoded
// nodes visited root-to-leaf.
type MerkleProof struct {
	Key   []byte
	Value []byte
	Nodes [][]byte
}

// GenerateProof walks the path for key and records every node encoding
// visited. It fails if key is absent: dotdb only produces inclusion proofs,
// never non-membership proofs (there is no range-proof or query-language
// surface in this codebase).
func (t *Trie) GenerateProof(key []byte) (*MerkleProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	const op = "Trie.GenerateProof"
	path := KeyToNibbles(key)
	proof := &MerkleProof{Key: append([]byte{}, key...)}

	hash := t.root
	for {
		if isEmptyHash(hash) {
			return nil, dotvmerr.New(dotvmerr.KindTrieError, op, nil)
		}
		node, err := t.loadNode(hash)
		if err != nil {
			return nil, err
		}
		proof.Nodes = append(proof.Nodes, node.Encode())

		switch node.Kind {
		case NodeLeaf:
			if !bytes.Equal(node.Nibbles, path) {
				return nil, dotvmerr.New(dotvmerr.KindTrieError, op, nil)
			}
			proof.Value = node.Value
			return proof, nil
		case NodeExtension:
			if !(len(path) >= len(node.Nibbles) && bytes.Equal(path[:len(node.Nibbles)], node.Nibbles)) {
				return nil, dotvmerr.New(dotvmerr.KindTrieError, op, nil)
			}
			path = path[len(node.Nibbles):]
			hash = node.Child
		case NodeBranch:
			if len(path) == 0 {
				if node.Value == nil {
					return nil, dotvmerr.New(dotvmerr.KindTrieError, op, nil)
				}
				proof.Value = node.Value
				return proof, nil
			}
			idx := path[0]
			path = path[1:]
			hash = node.Children[idx]
		default:
			return nil, dotvmerr.New(dotvmerr.KindTrieError, op, nil)
		}
	}
}

// Verify recomputes the root from the proof's node chain and checks it
// against expectedRoot with a constant-time comparison so a root mismatch
// is always detected rather than masked by a best-effort heuristic.
func (p *MerkleProof) Verify(expectedRoot common.Hash) (bool, error) {
	const op = "MerkleProof.Verify"
	if len(p.Nodes) == 0 {
		return false, dotvmerr.New(dotvmerr.KindProofVerificationFailed, op, nil)
	}

	rootHash := hashEncoded(p.Nodes[0])
	if subtle.ConstantTimeCompare(rootHash[:], expectedRoot[:]) != 1 {
		return false, nil
	}

	path := KeyToNibbles(p.Key)
	for i, enc := range p.Nodes {
		node, err := DecodeNode(enc)
		if err != nil {
			return false, dotvmerr.New(dotvmerr.KindProofVerificationFailed, op, err)
		}

		last := i == len(p.Nodes)-1
		switch node.Kind {
		case NodeLeaf:
			if !last || !bytes.Equal(node.Nibbles, path) || !bytes.Equal(node.Value, p.Value) {
				return false, nil
			}
			return true, nil
		case NodeExtension:
			if last {
				return false, nil
			}
			if !(len(path) >= len(node.Nibbles) && bytes.Equal(path[:len(node.Nibbles)], node.Nibbles)) {
				return false, nil
			}
			path = path[len(node.Nibbles):]
			nextHash := hashEncoded(p.Nodes[i+1])
			if subtle.ConstantTimeCompare(nextHash[:], node.Child[:]) != 1 {
				return false, nil
			}
		case NodeBranch:
			if len(path) == 0 {
				if !last || !bytes.Equal(node.Value, p.Value) {
					return false, nil
				}
				return true, nil
			}
			if last {
				return false, nil
			}
			idx := path[0]
			path = path[1:]
			nextHash := hashEncoded(p.Nodes[i+1])
			if subtle.ConstantTimeCompare(nextHash[:], node.Children[idx][:]) != 1 {
				return false, nil
			}
		default:
			return false, nil
		}
	}
	return false, nil
}

func hashEncoded(enc []byte) common.Hash {
	n, err := DecodeNode(enc)
	if err != nil {
		return common.Hash{}
	}
	return n.Hash()
}
