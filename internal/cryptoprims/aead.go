package cryptoprims

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"
)

// NonceSize is the fixed AES-256-GCM nonce length used by every sealed
// frame.
const NonceSize = 12

// TagSize is the AES-GCM authentication tag length.
const TagSize = 16

// AEADSeal encrypts plaintext under key with the given 64-bit frame
// counter expanded into a 12-byte nonce (counter in the low 8 bytes, top
// 4 bytes zero — directional channels never share a counter space, so a
// 64-bit monotonic counter cannot repeat within any connection's
// lifetime). aad is authenticated but not encrypted.
func AEADSeal(key [32]byte, counter uint64, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(counter)
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// AEADOpen decrypts and authenticates a frame sealed by AEADSeal.
func AEADOpen(key [32]byte, counter uint64, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(counter)
	return gcm.Open(nil, nonce, ciphertext, aad)
}

func nonceFromCounter(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], counter)
	return nonce
}

// DeriveDirectionalKeys derives two distinct AEAD keys from a raw X25519
// shared secret, one per direction, bound to both peers' long-term
// identities so a key recovered from one connection cannot be replayed
// against another pair of identities. The sorted pair of public keys is
// placed in the HKDF info parameter so the derivation is symmetric
// regardless of which side is "initiator" in the byte representation.
func DeriveDirectionalKeys(sharedSecret []byte, initiatorPub, responderPub []byte) (toResponder, toInitiator [32]byte, err error) {
	sortedInfo := sortedPubkeyInfo(initiatorPub, responderPub)

	r := hkdf.New(sha256.New, sharedSecret, nil, append([]byte("basalt-aead-i2r"), sortedInfo...))
	if _, err = io.ReadFull(r, toResponder[:]); err != nil {
		return
	}
	r2 := hkdf.New(sha256.New, sharedSecret, nil, append([]byte("basalt-aead-r2i"), sortedInfo...))
	_, err = io.ReadFull(r2, toInitiator[:])
	return
}

func sortedPubkeyInfo(a, b []byte) []byte {
	pair := [][]byte{append([]byte{}, a...), append([]byte{}, b...)}
	sort.Slice(pair, func(i, j int) bool { return bytes.Compare(pair[i], pair[j]) < 0 })
	return append(append([]byte{}, pair[0]...), pair[1]...)
}
