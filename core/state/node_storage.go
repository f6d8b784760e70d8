package state

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
)

// NodeStorage is the content-addressed map (hash -> encoded node bytes)
// that trie nodes reference each other through, instead of pointers.
type NodeStorage interface {
	Get(hash common.Hash) ([]byte, bool)
	Put(hash common.Hash, encoded []byte) error
}

// MemoryNodeStorage is a concurrent in-memory NodeStorage, the default used
// by tests and by any trie not backed by the page-based store. Writers are
// serialized by a single mutex; reads do not block each other.
type MemoryNodeStorage struct {
	mu    sync.RWMutex
	nodes map[common.Hash][]byte
}

func NewMemoryNodeStorage() *MemoryNodeStorage {
	return &MemoryNodeStorage{nodes: make(map[common.Hash][]byte)}
}

func (s *MemoryNodeStorage) Get(hash common.Hash) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.nodes[hash]
	return v, ok
}

func (s *MemoryNodeStorage) Put(hash common.Hash, encoded []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[hash] = encoded
	return nil
}

// CachedNodeStorage fronts a backing NodeStorage with an LRU of hot nodes.
// Reads prefer the LRU; writes go through to the backing store and
// populate the LRU.
type CachedNodeStorage struct {
	backing NodeStorage
	cache   *lru.Cache[common.Hash, []byte]
}

func NewCachedNodeStorage(backing NodeStorage, size int) (*CachedNodeStorage, error) {
	const op = "NewCachedNodeStorage"
	c, err := lru.New[common.Hash, []byte](size)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindInternal, op, err)
	}
	return &CachedNodeStorage{backing: backing, cache: c}, nil
}

func (c *CachedNodeStorage) Get(hash common.Hash) ([]byte, bool) {
	if v, ok := c.cache.Get(hash); ok {
		return v, true
	}
	v, ok := c.backing.Get(hash)
	if ok {
		c.cache.Add(hash, v)
	}
	return v, ok
}

func (c *CachedNodeStorage) Put(hash common.Hash, encoded []byte) error {
	if err := c.backing.Put(hash, encoded); err != nil {
		return err
	}
	c.cache.Add(hash, encoded)
	return nil
}
