// Package chain holds the block data model, the chain manager's
// append-only tip validation, the persistent block/receipt store with
// its recent-block cache, and the block builder that turns mempool
// contents into executed, sealed blocks.
package chain

import (
	"time"

	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/txn"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// ProtocolVersion is the wire/header version this node produces and the
// highest it accepts.
const ProtocolVersion uint16 = 1

// MaxExtraDataLen caps a header's ExtraData field.
const MaxExtraDataLen = 32 * 1024

// Params are the chain-wide constants every component shares. All
// divisors are validated non-zero once, at construction; everything
// downstream relies on that.
type Params struct {
	ChainID                  uint32
	BlockGasLimit            uint64
	Elasticity               uint64
	BaseFeeChangeDenominator uint64
	InitialBaseFee           xuint256.U256
	EpochLength              uint64
	BlockTimeMS              uint64
	ValidatorSetSize         int
	MinimumValidatorStake    xuint256.U256
	MaxPipelineDepth         int
	ViewTimeout              time.Duration
}

// NewParams validates p and returns it. This is the single chokepoint
// for the non-zero-divisor rule: Elasticity, BaseFeeChangeDenominator,
// EpochLength, and BlockTimeMS all divide something somewhere.
func NewParams(p Params) (Params, error) {
	if p.ChainID == 0 {
		return Params{}, errs.New(errs.ErrInputInvalid, "chain.NewParams", "chain id must be non-zero")
	}
	if p.BlockGasLimit == 0 {
		return Params{}, errs.New(errs.ErrInputInvalid, "chain.NewParams", "block gas limit must be non-zero")
	}
	if p.Elasticity == 0 {
		return Params{}, errs.New(errs.ErrInputInvalid, "chain.NewParams", "elasticity must be non-zero")
	}
	if p.BaseFeeChangeDenominator == 0 {
		return Params{}, errs.New(errs.ErrInputInvalid, "chain.NewParams", "base fee change denominator must be non-zero")
	}
	if p.EpochLength == 0 {
		return Params{}, errs.New(errs.ErrInputInvalid, "chain.NewParams", "epoch length must be non-zero")
	}
	if p.BlockTimeMS == 0 {
		return Params{}, errs.New(errs.ErrInputInvalid, "chain.NewParams", "block time must be non-zero")
	}
	if p.ValidatorSetSize <= 0 || p.ValidatorSetSize > consensus.MaxValidators {
		p.ValidatorSetSize = consensus.MaxValidators
	}
	if p.MaxPipelineDepth <= 0 {
		p.MaxPipelineDepth = consensus.DefaultPipelineDepth
	}
	if p.ViewTimeout <= 0 {
		p.ViewTimeout = 10 * time.Second
	}
	return p, nil
}

// FeeMarket projects the subset of Params the base-fee computation
// needs.
func (p Params) FeeMarket() txn.FeeMarketParams {
	return txn.FeeMarketParams{
		Elasticity:               p.Elasticity,
		BaseFeeChangeDenominator: p.BaseFeeChangeDenominator,
		InitialBaseFee:           p.InitialBaseFee,
	}
}
