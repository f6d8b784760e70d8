// Package state implements the Merkle Patricia Trie, state diffing,
// snapshotting and verification, dot storage layout, and the
// versioned state reader that glues them to the page-backed store.
package state

import (
	"bytes"
	"sync"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
	"github.com/dotlanth/dotvm/erigon-lib/log"
)

// AccessRecorder is an optional statistics seam a caller can wire to
// observe reads/writes. The default is a no-op; dotdb itself never depends
// on an analytics implementation.
type AccessRecorder interface {
	RecordRead(key []byte)
	RecordWrite(key []byte)
}

type noopRecorder struct{}

func (noopRecorder) RecordRead([]byte)  {}
func (noopRecorder) RecordWrite([]byte) {}

// Trie is the Merkle Patricia Trie. Writers are serialized
// per root update; reads do not take the write lock.
type Trie struct {
	mu       sync.RWMutex
	storage  NodeStorage
	root     common.Hash
	log      log.Logger
	recorder AccessRecorder
}

type Option func(*Trie)

func WithAccessRecorder(r AccessRecorder) Option {
	return func(t *Trie) { t.recorder = r }
}

func WithLogger(l log.Logger) Option {
	return func(t *Trie) { t.log = l }
}

// NewTrie builds an empty trie over storage.
func NewTrie(storage NodeStorage, opts ...Option) *Trie {
	t := &Trie{storage: storage, log: log.Nop(), recorder: noopRecorder{}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewTrieAtRoot opens a trie whose root is already known (e.g. rebuilt for
// a given version during verification).
func NewTrieAtRoot(storage NodeStorage, root common.Hash, opts ...Option) *Trie {
	t := NewTrie(storage, opts...)
	t.root = root
	return t
}

// RootHash returns the trie's current identity.
func (t *Trie) RootHash() common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

func (t *Trie) loadNode(hash common.Hash) (*Node, error) {
	const op = "Trie.loadNode"
	enc, ok := t.storage.Get(hash)
	if !ok {
		return nil, dotvmerr.New(dotvmerr.KindTrieError, op, nil)
	}
	return DecodeNode(enc)
}

func (t *Trie) storeNode(n *Node) (common.Hash, error) {
	h := n.Hash()
	if err := t.storage.Put(h, n.Encode()); err != nil {
		return common.Hash{}, dotvmerr.New(dotvmerr.KindIoError, "Trie.storeNode", err)
	}
	return h, nil
}

// Get is a pure read over the content-addressed store.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.recorder.RecordRead(key)
	return t.getAt(t.root, KeyToNibbles(key))
}

func (t *Trie) getAt(hash common.Hash, path []byte) ([]byte, bool, error) {
	if isEmptyHash(hash) {
		return nil, false, nil
	}
	node, err := t.loadNode(hash)
	if err != nil {
		return nil, false, err
	}
	switch node.Kind {
	case NodeLeaf:
		if bytes.Equal(node.Nibbles, path) {
			return node.Value, true, nil
		}
		return nil, false, nil
	case NodeExtension:
		if len(path) >= len(node.Nibbles) && bytes.Equal(path[:len(node.Nibbles)], node.Nibbles) {
			return t.getAt(node.Child, path[len(node.Nibbles):])
		}
		return nil, false, nil
	case NodeBranch:
		if len(path) == 0 {
			if node.Value != nil {
				return node.Value, true, nil
			}
			return nil, false, nil
		}
		return t.getAt(node.Children[path[0]], path[1:])
	default:
		return nil, false, nil
	}
}

// Put descends the nibble path, splitting extensions and branches as
// needed, rehashing every node on the dirty path back to the root.
func (t *Trie) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recorder.RecordWrite(key)
	newRoot, err := t.putAt(t.root, KeyToNibbles(key), value)
	if err != nil {
		return err
	}
	t.root = newRoot
	t.log.Debug("trie root advanced", "op", "put", "root", newRoot)
	return nil
}

func (t *Trie) putAt(hash common.Hash, path, value []byte) (common.Hash, error) {
	if isEmptyHash(hash) {
		return t.storeNode(&Node{Kind: NodeLeaf, Nibbles: append([]byte{}, path...), Value: value})
	}

	node, err := t.loadNode(hash)
	if err != nil {
		return common.Hash{}, err
	}

	switch node.Kind {
	case NodeLeaf:
		return t.putIntoLeaf(node, path, value)
	case NodeExtension:
		return t.putIntoExtension(node, path, value)
	case NodeBranch:
		return t.putIntoBranch(node, path, value)
	default:
		return common.Hash{}, dotvmerr.New(dotvmerr.KindTrieError, "Trie.putAt", nil)
	}
}

func (t *Trie) putIntoLeaf(node *Node, path, value []byte) (common.Hash, error) {
	if bytes.Equal(node.Nibbles, path) {
		return t.storeNode(&Node{Kind: NodeLeaf, Nibbles: path, Value: value})
	}

	cp := commonPrefixLen(node.Nibbles, path)
	branch := &Node{Kind: NodeBranch}

	if cp == len(node.Nibbles) {
		branch.Value = node.Value
	} else {
		oldIdx := node.Nibbles[cp]
		oldLeaf := &Node{Kind: NodeLeaf, Nibbles: append([]byte{}, node.Nibbles[cp+1:]...), Value: node.Value}
		h, err := t.storeNode(oldLeaf)
		if err != nil {
			return common.Hash{}, err
		}
		branch.Children[oldIdx] = h
	}

	if cp == len(path) {
		if branch.Value == nil {
			branch.Value = value
		}
	} else {
		newIdx := path[cp]
		newLeaf := &Node{Kind: NodeLeaf, Nibbles: append([]byte{}, path[cp+1:]...), Value: value}
		h, err := t.storeNode(newLeaf)
		if err != nil {
			return common.Hash{}, err
		}
		branch.Children[newIdx] = h
	}

	return t.wrapBranch(branch, path[:cp])
}

func (t *Trie) putIntoExtension(node *Node, path, value []byte) (common.Hash, error) {
	cp := commonPrefixLen(node.Nibbles, path)

	if cp == len(node.Nibbles) {
		newChild, err := t.putAt(node.Child, path[cp:], value)
		if err != nil {
			return common.Hash{}, err
		}
		return t.storeNode(&Node{Kind: NodeExtension, Nibbles: node.Nibbles, Child: newChild})
	}

	branch := &Node{Kind: NodeBranch}
	oldIdx := node.Nibbles[cp]
	oldRemainder := node.Nibbles[cp+1:]
	var oldSub common.Hash
	var err error
	if len(oldRemainder) == 0 {
		oldSub = node.Child
	} else {
		oldSub, err = t.storeNode(&Node{Kind: NodeExtension, Nibbles: append([]byte{}, oldRemainder...), Child: node.Child})
		if err != nil {
			return common.Hash{}, err
		}
	}
	branch.Children[oldIdx] = oldSub

	if cp == len(path) {
		branch.Value = value
	} else {
		newIdx := path[cp]
		newLeaf := &Node{Kind: NodeLeaf, Nibbles: append([]byte{}, path[cp+1:]...), Value: value}
		h, err := t.storeNode(newLeaf)
		if err != nil {
			return common.Hash{}, err
		}
		branch.Children[newIdx] = h
	}

	return t.wrapBranch(branch, path[:cp])
}

func (t *Trie) putIntoBranch(node *Node, path, value []byte) (common.Hash, error) {
	newBranch := *node
	if len(path) == 0 {
		newBranch.Value = value
		return t.storeNode(&newBranch)
	}
	idx := path[0]
	childHash, err := t.putAt(node.Children[idx], path[1:], value)
	if err != nil {
		return common.Hash{}, err
	}
	newBranch.Children[idx] = childHash
	return t.storeNode(&newBranch)
}

// wrapBranch stores branch and, if prefix is non-empty, wraps it in an
// Extension carrying that shared prefix.
func (t *Trie) wrapBranch(branch *Node, prefix []byte) (common.Hash, error) {
	branchHash, err := t.storeNode(branch)
	if err != nil {
		return common.Hash{}, err
	}
	if len(prefix) == 0 {
		return branchHash, nil
	}
	return t.storeNode(&Node{Kind: NodeExtension, Nibbles: append([]byte{}, prefix...), Child: branchHash})
}

// Delete removes the leaf and collapses redundant extensions and
// single-child branches.
func (t *Trie) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	newRoot, _, err := t.deleteAt(t.root, KeyToNibbles(key))
	if err != nil {
		return err
	}
	t.root = newRoot
	t.log.Debug("trie root advanced", "op", "delete", "root", newRoot)
	return nil
}

func (t *Trie) deleteAt(hash common.Hash, path []byte) (common.Hash, bool, error) {
	if isEmptyHash(hash) {
		return hash, false, nil
	}
	node, err := t.loadNode(hash)
	if err != nil {
		return common.Hash{}, false, err
	}

	switch node.Kind {
	case NodeLeaf:
		if bytes.Equal(node.Nibbles, path) {
			return emptyChild, true, nil
		}
		return hash, false, nil

	case NodeExtension:
		if !(len(path) >= len(node.Nibbles) && bytes.Equal(path[:len(node.Nibbles)], node.Nibbles)) {
			return hash, false, nil
		}
		newChild, existed, err := t.deleteAt(node.Child, path[len(node.Nibbles):])
		if err != nil || !existed {
			return hash, existed, err
		}
		if isEmptyHash(newChild) {
			return emptyChild, true, nil
		}
		childNode, err := t.loadNode(newChild)
		if err != nil {
			return common.Hash{}, false, err
		}
		merged := append(append([]byte{}, node.Nibbles...), childNode.Nibbles...)
		switch childNode.Kind {
		case NodeExtension:
			h, err := t.storeNode(&Node{Kind: NodeExtension, Nibbles: merged, Child: childNode.Child})
			return h, true, err
		case NodeLeaf:
			h, err := t.storeNode(&Node{Kind: NodeLeaf, Nibbles: merged, Value: childNode.Value})
			return h, true, err
		default:
			h, err := t.storeNode(&Node{Kind: NodeExtension, Nibbles: node.Nibbles, Child: newChild})
			return h, true, err
		}

	case NodeBranch:
		newBranch := *node
		if len(path) == 0 {
			if node.Value == nil {
				return hash, false, nil
			}
			newBranch.Value = nil
		} else {
			idx := path[0]
			newChild, existed, err := t.deleteAt(node.Children[idx], path[1:])
			if err != nil || !existed {
				return hash, existed, err
			}
			newBranch.Children[idx] = newChild
		}
		return t.collapseBranch(&newBranch)

	default:
		return common.Hash{}, false, dotvmerr.New(dotvmerr.KindTrieError, "Trie.deleteAt", nil)
	}
}

func (t *Trie) collapseBranch(branch *Node) (common.Hash, bool, error) {
	numChildren, lastIdx := 0, -1
	for i := 0; i < BranchWidth-1; i++ {
		if !isEmptyHash(branch.Children[i]) {
			numChildren++
			lastIdx = i
		}
	}

	switch {
	case numChildren == 0 && branch.Value == nil:
		return emptyChild, true, nil
	case numChildren == 0 && branch.Value != nil:
		h, err := t.storeNode(&Node{Kind: NodeLeaf, Nibbles: []byte{}, Value: branch.Value})
		return h, true, err
	case numChildren == 1 && branch.Value == nil:
		childHash := branch.Children[lastIdx]
		childNode, err := t.loadNode(childHash)
		if err != nil {
			return common.Hash{}, false, err
		}
		prefix := []byte{byte(lastIdx)}
		switch childNode.Kind {
		case NodeLeaf:
			merged := append(prefix, childNode.Nibbles...)
			h, err := t.storeNode(&Node{Kind: NodeLeaf, Nibbles: merged, Value: childNode.Value})
			return h, true, err
		case NodeExtension:
			merged := append(prefix, childNode.Nibbles...)
			h, err := t.storeNode(&Node{Kind: NodeExtension, Nibbles: merged, Child: childNode.Child})
			return h, true, err
		default:
			h, err := t.storeNode(&Node{Kind: NodeExtension, Nibbles: prefix, Child: childHash})
			return h, true, err
		}
	default:
		h, err := t.storeNode(branch)
		return h, true, err
	}
}

// GetAllKeys walks the whole trie, used by the diff engine.
func (t *Trie) GetAllKeys() (map[string][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]byte)
	if err := t.walk(t.root, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Trie) walk(hash common.Hash, prefix []byte, out map[string][]byte) error {
	if isEmptyHash(hash) {
		return nil
	}
	node, err := t.loadNode(hash)
	if err != nil {
		return err
	}
	switch node.Kind {
	case NodeLeaf:
		full := append(append([]byte{}, prefix...), node.Nibbles...)
		out[string(NibblesToKey(full))] = node.Value
	case NodeExtension:
		full := append(append([]byte{}, prefix...), node.Nibbles...)
		return t.walk(node.Child, full, out)
	case NodeBranch:
		if node.Value != nil {
			out[string(NibblesToKey(prefix))] = node.Value
		}
		for i := 0; i < BranchWidth-1; i++ {
			if isEmptyHash(node.Children[i]) {
				continue
			}
			full := append(append([]byte{}, prefix...), byte(i))
			if err := t.walk(node.Children[i], full, out); err != nil {
				return err
			}
		}
	}
	return nil
}
