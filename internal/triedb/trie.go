package triedb

import (
	"bytes"

	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Trie is a Merkle Patricia Trie addressed through a NodeStore. The
// zero-value root (EmptyRoot) represents an empty trie; every mutation
// produces a fresh set of content-addressed nodes rather than mutating
// existing ones in place, so a Trie value can be cheaply forked.
type Trie struct {
	store NodeStore
	root  Hash256
}

// New creates an empty trie backed by store.
func New(store NodeStore) *Trie { return &Trie{store: store, root: EmptyRoot} }

// NewWithRoot attaches a trie to an already-populated store at root.
func NewWithRoot(store NodeStore, root Hash256) *Trie { return &Trie{store: store, root: root} }

// Root returns the current root hash; EmptyRoot for an empty trie.
func (t *Trie) Root() Hash256 { return t.root }

// Store returns the node store this trie reads and writes through, so
// callers can build other ephemeral tries (e.g. per-account storage
// tries keyed off a root carried in another trie's value) sharing the
// same hash-addressed node space.
func (t *Trie) Store() NodeStore { return t.store }

// Fork returns an independent Trie sharing read access to the same
// underlying nodes but writing into a private overlay, so neither trie
// observes the other's subsequent mutations.
func (t *Trie) Fork() *Trie {
	var overlay NodeStore
	if o, ok := t.store.(*OverlayNodeStore); ok {
		overlay = o.Clone()
	} else {
		overlay = NewOverlayNodeStore(t.store)
	}
	return &Trie{store: overlay, root: t.root}
}

// Get looks up key, returning (nil, false, nil) when absent.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	return getAt(t.store, t.root, ToNibbles(key))
}

// Put inserts or replaces the value at key.
func (t *Trie) Put(key, value []byte) error {
	v := append([]byte{}, value...)
	newRoot, err := insertAt(t.store, t.root, ToNibbles(key), v)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// Delete removes key if present, reporting whether it was found.
func (t *Trie) Delete(key []byte) (bool, error) {
	newRoot, found, err := deleteAt(t.store, t.root, ToNibbles(key))
	if err != nil {
		return false, err
	}
	if found {
		t.root = newRoot
	}
	return found, nil
}

func getAt(store NodeStore, hash Hash256, nibbles []byte) ([]byte, bool, error) {
	if hash == EmptyRoot {
		return nil, false, nil
	}
	node, ok, err := store.GetNode(hash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errs.New(errs.ErrInternal, "triedb.getAt", "dangling node reference")
	}
	switch node.Kind {
	case KindLeaf:
		if bytes.Equal(node.Path, nibbles) {
			return node.Value, true, nil
		}
		return nil, false, nil
	case KindExtension:
		cp := CommonPrefixLen(node.Path, nibbles)
		if cp != len(node.Path) {
			return nil, false, nil
		}
		return getAt(store, node.Child, nibbles[cp:])
	case KindBranch:
		if len(nibbles) == 0 {
			if node.BranchValue == nil {
				return nil, false, nil
			}
			return node.BranchValue, true, nil
		}
		return getAt(store, node.Children[nibbles[0]], nibbles[1:])
	default:
		return nil, false, errs.New(errs.ErrInternal, "triedb.getAt", "unknown node kind")
	}
}

func leafChild(store NodeStore, pathTail, value []byte) (Hash256, error) {
	return store.PutNode(&Node{Kind: KindLeaf, Path: pathTail, Value: value})
}

// extendChild wraps an existing child hash with a path prefix, or
// returns the child hash unchanged when the prefix is empty (no need for
// an intermediate single-purpose extension node).
func extendChild(store NodeStore, pathTail []byte, child Hash256) (Hash256, error) {
	if len(pathTail) == 0 {
		return child, nil
	}
	return store.PutNode(&Node{Kind: KindExtension, Path: pathTail, Child: child})
}

func wrapWithPrefix(store NodeStore, prefix []byte, inner Hash256) (Hash256, error) {
	if len(prefix) == 0 {
		return inner, nil
	}
	return store.PutNode(&Node{Kind: KindExtension, Path: prefix, Child: inner})
}

func insertAt(store NodeStore, hash Hash256, path, value []byte) (Hash256, error) {
	if hash == EmptyRoot {
		return leafChild(store, path, value)
	}
	node, ok, err := store.GetNode(hash)
	if err != nil {
		return Hash256{}, err
	}
	if !ok {
		return Hash256{}, errs.New(errs.ErrInternal, "triedb.insertAt", "dangling node reference")
	}

	switch node.Kind {
	case KindLeaf:
		if bytes.Equal(node.Path, path) {
			return leafChild(store, path, value)
		}
		cp := CommonPrefixLen(node.Path, path)
		branch := &Node{Kind: KindBranch}
		switch {
		case cp == len(node.Path):
			branch.BranchValue = node.Value
			nib := path[cp]
			childHash, err := leafChild(store, path[cp+1:], value)
			if err != nil {
				return Hash256{}, err
			}
			branch.Children[nib] = childHash
		case cp == len(path):
			branch.BranchValue = value
			nib := node.Path[cp]
			childHash, err := leafChild(store, node.Path[cp+1:], node.Value)
			if err != nil {
				return Hash256{}, err
			}
			branch.Children[nib] = childHash
		default:
			nibOld, nibNew := node.Path[cp], path[cp]
			oldChild, err := leafChild(store, node.Path[cp+1:], node.Value)
			if err != nil {
				return Hash256{}, err
			}
			newChild, err := leafChild(store, path[cp+1:], value)
			if err != nil {
				return Hash256{}, err
			}
			branch.Children[nibOld] = oldChild
			branch.Children[nibNew] = newChild
		}
		branchHash, err := store.PutNode(branch)
		if err != nil {
			return Hash256{}, err
		}
		return wrapWithPrefix(store, node.Path[:cp], branchHash)

	case KindExtension:
		cp := CommonPrefixLen(node.Path, path)
		if cp == len(node.Path) {
			newChildHash, err := insertAt(store, node.Child, path[cp:], value)
			if err != nil {
				return Hash256{}, err
			}
			return store.PutNode(&Node{Kind: KindExtension, Path: node.Path, Child: newChildHash})
		}
		branch := &Node{Kind: KindBranch}
		switch {
		case cp == len(path):
			branch.BranchValue = value
			nib := node.Path[cp]
			oldChildHash, err := extendChild(store, node.Path[cp+1:], node.Child)
			if err != nil {
				return Hash256{}, err
			}
			branch.Children[nib] = oldChildHash
		default:
			nibOld, nibNew := node.Path[cp], path[cp]
			oldChildHash, err := extendChild(store, node.Path[cp+1:], node.Child)
			if err != nil {
				return Hash256{}, err
			}
			newChildHash, err := leafChild(store, path[cp+1:], value)
			if err != nil {
				return Hash256{}, err
			}
			branch.Children[nibOld] = oldChildHash
			branch.Children[nibNew] = newChildHash
		}
		branchHash, err := store.PutNode(branch)
		if err != nil {
			return Hash256{}, err
		}
		return wrapWithPrefix(store, node.Path[:cp], branchHash)

	case KindBranch:
		newBranch := *node
		if len(path) == 0 {
			newBranch.BranchValue = value
		} else {
			nib := path[0]
			childHash, err := insertAt(store, node.Children[nib], path[1:], value)
			if err != nil {
				return Hash256{}, err
			}
			newBranch.Children[nib] = childHash
		}
		return store.PutNode(&newBranch)

	default:
		return Hash256{}, errs.New(errs.ErrInternal, "triedb.insertAt", "unknown node kind")
	}
}

func deleteAt(store NodeStore, hash Hash256, path []byte) (Hash256, bool, error) {
	if hash == EmptyRoot {
		return EmptyRoot, false, nil
	}
	node, ok, err := store.GetNode(hash)
	if err != nil {
		return Hash256{}, false, err
	}
	if !ok {
		return Hash256{}, false, errs.New(errs.ErrInternal, "triedb.deleteAt", "dangling node reference")
	}

	switch node.Kind {
	case KindLeaf:
		if !bytes.Equal(node.Path, path) {
			return hash, false, nil
		}
		return EmptyRoot, true, nil

	case KindExtension:
		cp := CommonPrefixLen(node.Path, path)
		if cp != len(node.Path) {
			return hash, false, nil
		}
		newChildHash, found, err := deleteAt(store, node.Child, path[cp:])
		if err != nil || !found {
			return hash, found, err
		}
		if newChildHash == EmptyRoot {
			return EmptyRoot, true, nil
		}
		childNode, ok, err := store.GetNode(newChildHash)
		if err != nil {
			return Hash256{}, false, err
		}
		if !ok {
			return Hash256{}, false, errs.New(errs.ErrInternal, "triedb.deleteAt", "dangling node reference")
		}
		switch childNode.Kind {
		case KindLeaf:
			h, err := store.PutNode(&Node{
				Kind:  KindLeaf,
				Path:  append(append([]byte{}, node.Path...), childNode.Path...),
				Value: childNode.Value,
			})
			return h, true, err
		case KindExtension:
			h, err := store.PutNode(&Node{
				Kind:  KindExtension,
				Path:  append(append([]byte{}, node.Path...), childNode.Path...),
				Child: childNode.Child,
			})
			return h, true, err
		default:
			h, err := store.PutNode(&Node{Kind: KindExtension, Path: node.Path, Child: newChildHash})
			return h, true, err
		}

	case KindBranch:
		if len(path) == 0 {
			if node.BranchValue == nil {
				return hash, false, nil
			}
			newBranch := *node
			newBranch.BranchValue = nil
			return collapseBranch(store, &newBranch)
		}
		nib := path[0]
		newChildHash, found, err := deleteAt(store, node.Children[nib], path[1:])
		if err != nil || !found {
			return hash, found, err
		}
		newBranch := *node
		newBranch.Children[nib] = newChildHash
		return collapseBranch(store, &newBranch)

	default:
		return Hash256{}, false, errs.New(errs.ErrInternal, "triedb.deleteAt", "unknown node kind")
	}
}

// collapseBranch restores canonical form after a branch loses a value or
// a child: a branch with no children and a value becomes a leaf; one
// with exactly one child and no value merges with that child. This keeps
// the trie's shape, and therefore its root hash, independent of the
// order keys were inserted or deleted in.
func collapseBranch(store NodeStore, b *Node) (Hash256, bool, error) {
	count := 0
	lastNib := byte(0)
	for i, c := range b.Children {
		if c != EmptyRoot {
			count++
			lastNib = byte(i)
		}
	}

	if count == 0 {
		if b.BranchValue == nil {
			return EmptyRoot, true, nil
		}
		h, err := store.PutNode(&Node{Kind: KindLeaf, Path: []byte{}, Value: b.BranchValue})
		return h, true, err
	}

	if count == 1 && b.BranchValue == nil {
		childHash := b.Children[lastNib]
		childNode, ok, err := store.GetNode(childHash)
		if err != nil {
			return Hash256{}, false, err
		}
		if !ok {
			return Hash256{}, false, errs.New(errs.ErrInternal, "triedb.collapseBranch", "dangling node reference")
		}
		switch childNode.Kind {
		case KindLeaf:
			h, err := store.PutNode(&Node{
				Kind:  KindLeaf,
				Path:  append([]byte{lastNib}, childNode.Path...),
				Value: childNode.Value,
			})
			return h, true, err
		case KindExtension:
			h, err := store.PutNode(&Node{
				Kind:  KindExtension,
				Path:  append([]byte{lastNib}, childNode.Path...),
				Child: childNode.Child,
			})
			return h, true, err
		default:
			h, err := store.PutNode(&Node{Kind: KindExtension, Path: []byte{lastNib}, Child: childHash})
			return h, true, err
		}
	}

	h, err := store.PutNode(b)
	return h, true, err
}
