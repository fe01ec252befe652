package triedb

import (
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/kv"
)

// NodeStore is the hash-addressed node storage a Trie reads and writes
// through. Three implementations exist: a persistent one backed by
// internal/kv, an in-memory overlay used by Trie.Fork, and the plain
// in-memory MemNodeStore.
type NodeStore interface {
	GetNode(h Hash256) (*Node, bool, error)
	PutNode(n *Node) (Hash256, error)
}

// KVNodeStore persists trie nodes in the shared key-value store's
// trie_nodes column family.
type KVNodeStore struct {
	kv *kv.Store
}

// NewKVNodeStore wraps a persistent store.
func NewKVNodeStore(store *kv.Store) *KVNodeStore { return &KVNodeStore{kv: store} }

// GetNode reads and decodes a node by its content hash.
func (s *KVNodeStore) GetNode(h Hash256) (*Node, bool, error) {
	raw, ok, err := s.kv.Get(kv.CFTrieNodes, h[:])
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrInternal, "triedb.KVNodeStore.GetNode", err)
	}
	if !ok {
		return nil, false, nil
	}
	n, err := DecodeNode(raw)
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrInputMalformed, "triedb.KVNodeStore.GetNode", err)
	}
	return n, true, nil
}

// PutNode hashes and persists n, returning its content hash.
func (s *KVNodeStore) PutNode(n *Node) (Hash256, error) {
	h := n.Hash()
	if err := s.kv.Put(kv.CFTrieNodes, h[:], n.Encode()); err != nil {
		return Hash256{}, errs.Wrap(errs.ErrInternal, "triedb.KVNodeStore.PutNode", err)
	}
	return h, nil
}

// OverlayNodeStore is a copy-on-write node store used for forks: writes
// land in a local map; reads fall through to base on a local miss. This
// gives a fork full read access to everything persisted so far without
// mutating the base store.
type OverlayNodeStore struct {
	base  NodeStore
	local map[Hash256][]byte
}

// NewOverlayNodeStore creates a fresh, empty overlay on top of base.
func NewOverlayNodeStore(base NodeStore) *OverlayNodeStore {
	return &OverlayNodeStore{base: base, local: make(map[Hash256][]byte)}
}

// Clone deep-copies the overlay's local buffers so the clone's
// subsequent writes cannot be observed by the original (required by the
// "forks do not share mutable storage buffers" invariant).
func (o *OverlayNodeStore) Clone() *OverlayNodeStore {
	c := &OverlayNodeStore{base: o.base, local: make(map[Hash256][]byte, len(o.local))}
	for k, v := range o.local {
		buf := make([]byte, len(v))
		copy(buf, v)
		c.local[k] = buf
	}
	return c
}

// GetNode checks the local overlay first, then the base store.
func (o *OverlayNodeStore) GetNode(h Hash256) (*Node, bool, error) {
	if raw, ok := o.local[h]; ok {
		n, err := DecodeNode(raw)
		if err != nil {
			return nil, false, err
		}
		return n, true, nil
	}
	return o.base.GetNode(h)
}

// PutNode stores n only in the local overlay.
func (o *OverlayNodeStore) PutNode(n *Node) (Hash256, error) {
	h := n.Hash()
	buf := n.Encode()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	o.local[h] = cp
	return h, nil
}

// Flush writes every locally-staged node into a persistent store,
// typically called once a speculative fork is accepted and swapped in as
// canonical.
func (o *OverlayNodeStore) Flush(dst *KVNodeStore) error {
	for h, raw := range o.local {
		if err := dst.kv.Put(kv.CFTrieNodes, h[:], raw); err != nil {
			return errs.Wrap(errs.ErrInternal, "triedb.OverlayNodeStore.Flush", err)
		}
	}
	return nil
}
