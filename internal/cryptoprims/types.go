// Package cryptoprims implements the cryptographic primitives Basalt's
// consensus, transport, and transaction layers build on: Ed25519 identity
// signatures, BLS12-381 signatures with aggregation, BLAKE3 and
// Keccak-256 hashing, X25519 key exchange, AES-256-GCM AEAD framing,
// HKDF key derivation, and an Argon2id keystore KDF. Every type that
// wraps a fixed-length wire value rejects construction from the wrong
// byte length — there is no implicit truncation or zero-padding path.
package cryptoprims

import (
	"fmt"
)

// Hash256 is a 32-byte digest. The zero value is a valid sentinel meaning
// "root of the empty trie" or "no parent block".
type Hash256 [32]byte

func (h Hash256) String() string { return fmt.Sprintf("%x", h[:]) }

// IsZero reports whether h is the all-zero sentinel.
func (h Hash256) IsZero() bool { return h == Hash256{} }

// Less implements byte-lexicographic ordering, required wherever Hash256
// values are compared or sorted.
func (h Hash256) Less(other Hash256) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// AddressID is a 20-byte opaque account identifier derived from the last
// 20 bytes of BLAKE3(public key).
type AddressID [20]byte

func (a AddressID) String() string { return fmt.Sprintf("%x", a[:]) }

// Ed25519PublicKey is a strict 32-byte Ed25519 verification key.
type Ed25519PublicKey [32]byte

// Ed25519PrivateKey is a strict 64-byte Ed25519 expanded private key
// (seed||pubkey, matching crypto/ed25519.PrivateKey's layout).
type Ed25519PrivateKey [64]byte

// Ed25519Signature is a strict 64-byte Ed25519 signature.
type Ed25519Signature [64]byte

// BLSPublicKey is a strict 48-byte compressed G1 point.
type BLSPublicKey [48]byte

// IsZero reports whether the key is the all-zero placeholder used by the
// epoch manager for validators awaiting their first authenticated
// handshake.
func (k BLSPublicKey) IsZero() bool { return k == BLSPublicKey{} }

// BLSSignature is a strict 96-byte compressed G2 point.
type BLSSignature [96]byte

// Error kinds specific to this package, surfaced via errs.Wrap at call
// sites that need to classify them.
var (
	ErrLengthMismatch = fmt.Errorf("cryptoprims: length mismatch")
	ErrInvalidPoint   = fmt.Errorf("cryptoprims: invalid point")
	ErrNotInSubgroup  = fmt.Errorf("cryptoprims: point not in correct subgroup")
	ErrIdentityPoint  = fmt.Errorf("cryptoprims: unexpected identity point")
	ErrSignatureInvalid = fmt.Errorf("cryptoprims: signature invalid")
)

// NewEd25519PublicKey validates the strict length and constructs a key.
func NewEd25519PublicKey(b []byte) (Ed25519PublicKey, error) {
	var k Ed25519PublicKey
	if len(b) != len(k) {
		return k, ErrLengthMismatch
	}
	copy(k[:], b)
	return k, nil
}

// NewEd25519Signature validates the strict length and constructs a sig.
func NewEd25519Signature(b []byte) (Ed25519Signature, error) {
	var s Ed25519Signature
	if len(b) != len(s) {
		return s, ErrLengthMismatch
	}
	copy(s[:], b)
	return s, nil
}

// NewBLSPublicKey validates the strict length and constructs a key.
func NewBLSPublicKey(b []byte) (BLSPublicKey, error) {
	var k BLSPublicKey
	if len(b) != len(k) {
		return k, ErrLengthMismatch
	}
	copy(k[:], b)
	return k, nil
}

// NewBLSSignature validates the strict length and constructs a sig.
func NewBLSSignature(b []byte) (BLSSignature, error) {
	var s BLSSignature
	if len(b) != len(s) {
		return s, ErrLengthMismatch
	}
	copy(s[:], b)
	return s, nil
}
