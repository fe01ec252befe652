package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func testFeeParams() FeeMarketParams {
	return FeeMarketParams{
		Elasticity:               2,
		BaseFeeChangeDenominator: 8,
		InitialBaseFee:           xuint256.FromUint64(1_000),
	}
}

func TestNextBaseFeeUnchangedAtTarget(t *testing.T) {
	p := testFeeParams()
	next := NextBaseFee(xuint256.FromUint64(1_000), 500, 1_000, p)
	require.Equal(t, xuint256.FromUint64(1_000).String(), next.String())
}

func TestNextBaseFeeIncreasesAboveTarget(t *testing.T) {
	p := testFeeParams()
	next := NextBaseFee(xuint256.FromUint64(1_000), 1_000, 1_000, p)
	require.True(t, xuint256.FromUint64(1_000).LessThan(next))
}

func TestNextBaseFeeIncreaseHasMinimumOfOne(t *testing.T) {
	p := testFeeParams()
	// tiny base fee and tiny delta: proportional increase rounds to zero,
	// so the minimum-increment-of-one rule must kick in.
	next := NextBaseFee(xuint256.FromUint64(1), 501, 1_000, p)
	require.Equal(t, xuint256.FromUint64(2).String(), next.String())
}

func TestNextBaseFeeDecreasesBelowTarget(t *testing.T) {
	p := testFeeParams()
	next := NextBaseFee(xuint256.FromUint64(10_000), 0, 1_000, p)
	require.True(t, next.LessThan(xuint256.FromUint64(10_000)))
}

func TestNextBaseFeeFloorsAtInitialBaseFee(t *testing.T) {
	p := testFeeParams()
	// With a denominator of 1, an empty parent removes the whole fee
	// (1 * 500 / 500 / 1 = 1), so the result would be zero and resets.
	p.BaseFeeChangeDenominator = 1
	next := NextBaseFee(xuint256.FromUint64(1), 0, 1_000, p)
	require.Equal(t, p.InitialBaseFee.String(), next.String())
}

func TestEffectiveGasPriceCapsAtMaxFee(t *testing.T) {
	tx := &Transaction{
		MaxFeePerGas:         xuint256.FromUint64(100),
		MaxPriorityFeePerGas: xuint256.FromUint64(50),
	}
	price := EffectiveGasPrice(tx, xuint256.FromUint64(1_000))
	require.Equal(t, xuint256.FromUint64(100).String(), price.String())
}

func TestEffectiveGasPriceUsesBaseFeePlusPriority(t *testing.T) {
	tx := &Transaction{
		MaxFeePerGas:         xuint256.FromUint64(1_000),
		MaxPriorityFeePerGas: xuint256.FromUint64(10),
	}
	price := EffectiveGasPrice(tx, xuint256.FromUint64(20))
	require.Equal(t, xuint256.FromUint64(30).String(), price.String())
}

func TestIntrinsicGasPerTypeAndDataAndProofs(t *testing.T) {
	tx := &Transaction{
		Type: TypeContractCall,
		Data: make([]byte, 40), // 2 words
		ComplianceProofs: []ComplianceProof{
			{SchemaID: 1},
		},
	}
	require.Equal(t, GasContractCall+2*GasPerDataWord+GasPerComplProof, IntrinsicGas(tx))
}

func TestIntrinsicGasTransferBaseline(t *testing.T) {
	tx := &Transaction{Type: TypeTransfer}
	require.Equal(t, GasTransfer, IntrinsicGas(tx))
}
