package cryptoprims

import (
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// HashBLAKE3 returns the 32-byte BLAKE3 digest of data. This is the
// default hash used for hashes, addresses, tries, and content IDs.
func HashBLAKE3(data []byte) Hash256 {
	return Hash256(blake3.Sum256(data))
}

// IncrementalHasher wraps a BLAKE3 hasher with explicit disposed
// semantics: once Sum is called the hasher is disposed and any further
// Write or Sum call returns an error rather than silently operating on
// stale state.
type IncrementalHasher struct {
	h        *blake3.Hasher
	disposed bool
}

// NewIncrementalHasher starts a fresh incremental BLAKE3 hash.
func NewIncrementalHasher() *IncrementalHasher {
	return &IncrementalHasher{h: blake3.New(32, nil)}
}

// Write feeds more data into the hash. Returns ErrHasherDisposed if Sum
// has already been called.
func (ih *IncrementalHasher) Write(p []byte) (int, error) {
	if ih.disposed {
		return 0, ErrHasherDisposed
	}
	return ih.h.Write(p)
}

// Sum finalizes the hash, disposing the hasher, and returns the digest.
func (ih *IncrementalHasher) Sum() (Hash256, error) {
	if ih.disposed {
		return Hash256{}, ErrHasherDisposed
	}
	ih.disposed = true
	var out Hash256
	copy(out[:], ih.h.Sum(nil))
	return out, nil
}

// ErrHasherDisposed is returned by IncrementalHasher once Sum has run.
var ErrHasherDisposed = &disposedErr{}

type disposedErr struct{}

func (*disposedErr) Error() string { return "cryptoprims: incremental hasher already disposed" }

// HashKeccak256 returns the 32-byte Keccak-256 digest of data (the
// original Keccak padding byte 0x01 and rate 136, not NIST SHA3-256's
// 0x06 padding — required for byte-for-byte compatibility with the
// Keccak KATs referenced by transaction/address schemes elsewhere in the
// ecosystem this node interoperates with).
func HashKeccak256(data []byte) Hash256 {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out Hash256
	copy(out[:], h.Sum(nil))
	return out
}
