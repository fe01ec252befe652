package cryptoprims

import (
	"crypto/ecdh"
	crand "crypto/rand"
)

// GenerateX25519 creates a fresh ephemeral X25519 key pair.
func GenerateX25519() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(crand.Reader)
}

// X25519Exchange computes the shared secret for priv and the peer's
// public key. Callers must zero the returned slice once derived keys
// have been computed from it.
func X25519Exchange(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	return priv.ECDH(peerPub)
}

// ParseX25519PublicKey decodes a raw 32-byte X25519 public key.
func ParseX25519PublicKey(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != 32 {
		return nil, ErrLengthMismatch
	}
	return ecdh.X25519().NewPublicKey(b)
}

// Zeroize overwrites b with zeros in place. Used after deriving session
// keys from ephemeral secrets and intermediate handshake buffers.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
