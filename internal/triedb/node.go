package triedb

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
)

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// EmptyRoot is the hash of the empty trie: the zero Hash256 sentinel,
// the zero value doubles as the root of the empty trie.
var EmptyRoot = Hash256{}

const (
	leafDomainTag     byte = 0x00
	internalDomainTag byte = 0x01
)

// Kind discriminates the three node shapes the trie uses.
type Kind byte

const (
	KindLeaf Kind = iota
	KindExtension
	KindBranch
)

// Node is a single trie node. Only the fields relevant to Kind are
// meaningful; this mirrors the compactness of the reference MPT node
// union without needing a Go sum type.
type Node struct {
	Kind Kind

	// Leaf, Extension: the remaining nibble path from this node.
	Path []byte

	// Leaf: the stored value.
	Value []byte

	// Extension: hash of the single child.
	Child Hash256

	// Branch: up to 16 children, by nibble, plus an optional value slot
	// (a key can terminate exactly at a branch boundary).
	Children    [16]Hash256
	BranchValue []byte
}

// Encode serializes a node deterministically via the codec package.
func (n *Node) Encode() []byte {
	w := codec.NewWriter(64)
	w.WriteU8(uint8(n.Kind))
	switch n.Kind {
	case KindLeaf:
		w.WriteBytes(CompactEncode(n.Path, true))
		w.WriteBytes(n.Value)
	case KindExtension:
		w.WriteBytes(CompactEncode(n.Path, false))
		w.WriteFixedBytes(n.Child[:])
	case KindBranch:
		for i := 0; i < 16; i++ {
			w.WriteFixedBytes(n.Children[i][:])
		}
		hasValue := n.BranchValue != nil
		if hasValue {
			w.WriteU8(1)
			w.WriteBytes(n.BranchValue)
		} else {
			w.WriteU8(0)
		}
	}
	return w.Bytes()
}

// DecodeNode deserializes a node previously produced by Encode.
func DecodeNode(b []byte) (*Node, error) {
	r := codec.NewReader(b)
	kindByte, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	n := &Node{Kind: Kind(kindByte)}
	switch n.Kind {
	case KindLeaf:
		compact, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		n.Path, _ = CompactDecode(compact)
		if n.Value, err = r.ReadBytes(); err != nil {
			return nil, err
		}
	case KindExtension:
		compact, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		n.Path, _ = CompactDecode(compact)
		child, err := r.ReadFixedBytes(32)
		if err != nil {
			return nil, err
		}
		copy(n.Child[:], child)
	case KindBranch:
		for i := 0; i < 16; i++ {
			c, err := r.ReadFixedBytes(32)
			if err != nil {
				return nil, err
			}
			copy(n.Children[i][:], c)
		}
		hasValue, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		if hasValue == 1 {
			if n.BranchValue, err = r.ReadBytes(); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

// Hash computes the domain-separated content hash of n: 0x00-prefixed
// for leaves, 0x01-prefixed for extension/branch (internal) nodes. This
// prevents a leaf's encoding from ever being reinterpreted as an
// internal node's encoding (the classic second-preimage confusion in a
// naive undifferentiated MPT hash).
func (n *Node) Hash() Hash256 {
	tag := internalDomainTag
	if n.Kind == KindLeaf {
		tag = leafDomainTag
	}
	payload := append([]byte{tag}, n.Encode()...)
	return cryptoprims.HashBLAKE3(payload)
}
