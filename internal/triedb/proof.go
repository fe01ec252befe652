package triedb

import "bytes"

// Proof is an inclusion proof: the encoded nodes visited from the root
// down to the key's terminal node, in root-to-leaf order. Re-hashing
// Nodes[i] must equal the hash the caller is checking against (the root
// for i==0, the previous node's child pointer otherwise).
type Proof struct {
	Nodes [][]byte
}

// Prove walks key's path from the root, collecting the encoding of every
// node visited.
func (t *Trie) Prove(key []byte) (*Proof, error) {
	var proof Proof
	nibbles := ToNibbles(key)
	hash := t.root

	for hash != EmptyRoot {
		node, ok, err := t.store.GetNode(hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		proof.Nodes = append(proof.Nodes, node.Encode())

		switch node.Kind {
		case KindLeaf:
			return &proof, nil
		case KindExtension:
			cp := CommonPrefixLen(node.Path, nibbles)
			if cp != len(node.Path) {
				return &proof, nil
			}
			hash = node.Child
			nibbles = nibbles[cp:]
		case KindBranch:
			if len(nibbles) == 0 {
				return &proof, nil
			}
			hash = node.Children[nibbles[0]]
			nibbles = nibbles[1:]
		default:
			return &proof, nil
		}
	}
	return &proof, nil
}

// VerifyProof checks that proof is a valid inclusion proof for key
// mapping to value under root, without trusting any node store: every
// hash link is recomputed from the raw encodings in proof.Nodes.
func VerifyProof(root Hash256, key, value []byte, proof *Proof) bool {
	if proof == nil || len(proof.Nodes) == 0 {
		return root == EmptyRoot && value == nil
	}

	nibbles := ToNibbles(key)
	expected := root

	for i, raw := range proof.Nodes {
		node, err := DecodeNode(raw)
		if err != nil {
			return false
		}
		if node.Hash() != expected {
			return false
		}
		last := i == len(proof.Nodes)-1

		switch node.Kind {
		case KindLeaf:
			return last && bytes.Equal(node.Path, nibbles) && bytes.Equal(node.Value, value)
		case KindExtension:
			cp := CommonPrefixLen(node.Path, nibbles)
			if cp != len(node.Path) {
				return false
			}
			nibbles = nibbles[cp:]
			expected = node.Child
		case KindBranch:
			if len(nibbles) == 0 {
				return last && bytes.Equal(node.BranchValue, value)
			}
			expected = node.Children[nibbles[0]]
			nibbles = nibbles[1:]
		default:
			return false
		}
	}
	return false
}
