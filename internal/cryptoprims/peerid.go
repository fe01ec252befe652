package cryptoprims

// PeerID is a node's network identity: BLAKE3 of its long-term Ed25519
// public key. It is what the routing table keys buckets by (XOR
// distance) and what every authenticated connection binds messages to.
type PeerID [32]byte

func (p PeerID) String() string { return Hash256(p).String() }

// IsZero reports whether the ID is unset.
func (p PeerID) IsZero() bool { return p == PeerID{} }

// XORDistance returns the Kademlia distance between two peer IDs.
func (p PeerID) XORDistance(other PeerID) [32]byte {
	var d [32]byte
	for i := range d {
		d[i] = p[i] ^ other[i]
	}
	return d
}

// DerivePeerID computes a node's peer ID from its Ed25519 identity key.
func DerivePeerID(pub Ed25519PublicKey) PeerID {
	return PeerID(HashBLAKE3(pub[:]))
}
