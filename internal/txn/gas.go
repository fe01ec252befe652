package txn

import "github.com/Basalt-Foundation/basalt/internal/gasmeter"

// Base gas costs. Concrete numbers are a policy choice, not a protocol
// invariant this repo's tests depend on beyond internal consistency.
const (
	GasTransfer       uint64 = 21_000
	GasContractDeploy uint64 = 53_000
	GasContractCall   uint64 = 25_000
	GasValidatorOp    uint64 = 30_000
	GasStakeOp        uint64 = 28_000
	GasPerDataWord    uint64 = 16
	GasPerComplProof  uint64 = 5_000
)

// IntrinsicGas returns the gas a transaction costs before any host-call
// execution: a per-type base plus a per-32-byte-word charge on Data and
// a flat per-proof charge on ComplianceProofs.
func IntrinsicGas(tx *Transaction) uint64 {
	var base uint64
	switch tx.Type {
	case TypeContractDeploy:
		base = GasContractDeploy
	case TypeContractCall:
		base = GasContractCall
	case TypeValidatorRegister, TypeValidatorExit:
		base = GasValidatorOp
	case TypeStakeDeposit, TypeStakeWithdraw:
		base = GasStakeOp
	default:
		base = GasTransfer
	}
	words := (uint64(len(tx.Data)) + 31) / 32
	base += words * GasPerDataWord
	base += uint64(len(tx.ComplianceProofs)) * GasPerComplProof
	return base
}

// Meter aliases the shared gas-accounting primitive.
type Meter = gasmeter.Meter

// NewMeter creates a meter with the given gas limit.
func NewMeter(limit uint64) *Meter { return gasmeter.New(limit) }
