package cryptoprims

import (
	"crypto/ed25519"
	crand "crypto/rand"

	"lukechampine.com/blake3"
)

// GenerateEd25519 creates a fresh Ed25519 key pair using the OS RNG.
func GenerateEd25519() (Ed25519PublicKey, Ed25519PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return Ed25519PublicKey{}, Ed25519PrivateKey{}, err
	}
	var pk Ed25519PublicKey
	var sk Ed25519PrivateKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk, nil
}

// SignEd25519 signs msg with the strict 64-byte expanded private key.
func SignEd25519(priv Ed25519PrivateKey, msg []byte) Ed25519Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
	var out Ed25519Signature
	copy(out[:], sig)
	return out
}

// VerifyEd25519 is total: it never panics regardless of input and simply
// reports true/false, even for malformed-but-correctly-sized inputs.
func VerifyEd25519(pub Ed25519PublicKey, msg []byte, sig Ed25519Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// DeriveAddress derives the 20-byte account identifier from the last 20
// bytes of BLAKE3(public key).
func DeriveAddress(pub Ed25519PublicKey) AddressID {
	sum := blake3.Sum256(pub[:])
	var addr AddressID
	copy(addr[:], sum[len(sum)-len(addr):])
	return addr
}
