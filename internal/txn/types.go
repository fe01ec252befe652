// Package txn implements the canonical transaction encoding, signing
// payload, fee market, gas metering, and the atomic fork-and-discard
// execution pipeline transactions run through.
package txn

import (
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// MaxDataLen is the cap on a transaction's payload bytes.
const MaxDataLen = 128 * 1024

// Type discriminates the kinds of transaction the chain accepts.
type Type uint8

const (
	TypeTransfer Type = iota
	TypeContractDeploy
	TypeContractCall
	TypeValidatorRegister
	TypeValidatorExit
	TypeStakeDeposit
	TypeStakeWithdraw
)

// ComplianceProof is an externally-verified attestation attached to a
// transaction. Its nullifier is recorded in the per-block nullifier set
// only once the proof has verified — never on a failed verification, so
// a rejected proof can be resubmitted.
type ComplianceProof struct {
	SchemaID     uint32
	Nullifier    Hash256
	ProofBytes   []byte
	PublicInputs []byte
}

// Transaction is the signed, wire-level record of one state-changing
// intent. Signature is over the canonical encoding of every field below
// it plus BLAKE3(canonical_encoding(ComplianceProofs)) — see
// SigningPayload.
type Transaction struct {
	Type                 Type
	Nonce                uint64
	Sender               AddressID
	To                   AddressID
	Value                xuint256.U256
	Data                 []byte
	GasLimit             uint64
	GasPrice             xuint256.U256 // legacy; encoded and signed, not used in fee computation
	MaxFeePerGas         xuint256.U256
	MaxPriorityFeePerGas xuint256.U256
	ChainID              uint32
	Priority             uint8
	ComplianceProofs     []ComplianceProof

	Signature        cryptoprims.Ed25519Signature
	SenderPublicKey  cryptoprims.Ed25519PublicKey
}

// Log is one event emitted during contract execution.
type Log struct {
	Address AddressID
	Topics  []Hash256
	Data    []byte
}

// Receipt records the outcome of executing one transaction. PostStateRoot
// is intentionally left zero here: computing it per-transaction is O(n^2)
// over a block; it is set once, for the whole block, by the block
// builder, never inside the execution loop.
type Receipt struct {
	Success           bool
	GasUsed           uint64
	CumulativeGasUsed uint64
	EffectiveGasPrice xuint256.U256
	PostStateRoot     Hash256
	Logs              []Log
	BlockHash         Hash256
	TxIndex           uint32
}
