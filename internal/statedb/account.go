// Package statedb provides the account/storage state abstraction all
// transaction execution and block building reads and writes through. It
// ships two implementations of the same StateDB interface: TrieStateDB
// (production, persisted via internal/triedb) and MemoryStateDB
// (test-only), both producing identical state roots for identical
// account/storage contents.
package statedb

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// AccountState is the full on-chain record for one address. StorageRoot
// is the root of that account's own storage trie, folded into the
// encoding stored under the address in the global account trie — the
// classic two-level MPT layout.
type AccountState struct {
	Nonce       uint64
	Balance     xuint256.U256
	CodeHash    Hash256
	StorageRoot Hash256
}

// ZeroAccount is the state of an address that has never been touched.
var ZeroAccount = AccountState{Balance: xuint256.Zero()}

// Encode serializes an account record deterministically.
func (a AccountState) Encode() []byte {
	w := codec.NewWriter(64)
	w.WriteU64(a.Nonce)
	balBytes := a.Balance.Bytes32()
	w.WriteFixedBytes(balBytes[:])
	w.WriteFixedBytes(a.CodeHash[:])
	w.WriteFixedBytes(a.StorageRoot[:])
	return w.Bytes()
}

// DecodeAccount reverses Encode.
func DecodeAccount(b []byte) (AccountState, error) {
	r := codec.NewReader(b)
	var a AccountState
	var err error
	if a.Nonce, err = r.ReadU64(); err != nil {
		return AccountState{}, err
	}
	balBytes, err := r.ReadFixedBytes(32)
	if err != nil {
		return AccountState{}, err
	}
	var bal32 [32]byte
	copy(bal32[:], balBytes)
	a.Balance = xuint256.FromBytes32(bal32)

	codeHash, err := r.ReadFixedBytes(32)
	if err != nil {
		return AccountState{}, err
	}
	copy(a.CodeHash[:], codeHash)

	storageRoot, err := r.ReadFixedBytes(32)
	if err != nil {
		return AccountState{}, err
	}
	copy(a.StorageRoot[:], storageRoot)
	return a, nil
}
