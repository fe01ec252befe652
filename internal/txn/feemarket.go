package txn

import "github.com/Basalt-Foundation/basalt/internal/xuint256"

// FeeMarketParams are the chain-wide divisors governing base-fee
// adjustment. They must be validated non-zero once at chain-parameter
// construction — every use here assumes that has already happened.
type FeeMarketParams struct {
	Elasticity               uint64 // target = gas_limit / Elasticity
	BaseFeeChangeDenominator uint64
	InitialBaseFee           xuint256.U256
}

// NextBaseFee computes the base fee for the block that follows one with
// parentBaseFee, parentGasUsed, and parentGasLimit, per the EIP-1559-style
// adjustment: scale proportionally to how far parent usage was from
// target, with a minimum increment of 1 when rounding would otherwise
// produce zero, and a floor that resets to InitialBaseFee rather than
// going to (or below) zero.
func NextBaseFee(parentBaseFee xuint256.U256, parentGasUsed, parentGasLimit uint64, p FeeMarketParams) xuint256.U256 {
	target := parentGasLimit / p.Elasticity
	if target == 0 {
		target = 1
	}

	switch {
	case parentGasUsed == target:
		return parentBaseFee

	case parentGasUsed > target:
		delta := parentGasUsed - target
		increase := feeDelta(parentBaseFee, delta, target, p.BaseFeeChangeDenominator)
		if increase.IsZero() {
			increase = xuint256.One()
		}
		sum, ok := parentBaseFee.CheckedAdd(increase)
		if !ok {
			return parentBaseFee
		}
		return sum

	default:
		delta := target - parentGasUsed
		decrease := feeDelta(parentBaseFee, delta, target, p.BaseFeeChangeDenominator)
		result, ok := parentBaseFee.CheckedSub(decrease)
		if !ok || result.IsZero() {
			return p.InitialBaseFee
		}
		return result
	}
}

// feeDelta computes base * delta / target / denominator using checked
// arithmetic, floored at zero on any overflow (a deliberately
// conservative choice: a failed adjustment leaves the fee where it was
// rather than spuriously spiking it).
func feeDelta(base xuint256.U256, delta, target, denominator uint64) xuint256.U256 {
	num, ok := base.CheckedMul(xuint256.FromUint64(delta))
	if !ok {
		return xuint256.Zero()
	}
	num, ok = num.CheckedDiv(xuint256.FromUint64(target))
	if !ok {
		return xuint256.Zero()
	}
	num, ok = num.CheckedDiv(xuint256.FromUint64(denominator))
	if !ok {
		return xuint256.Zero()
	}
	return num
}

// EffectiveGasPrice is min(max_fee_per_gas, base_fee + max_priority_fee_per_gas).
func EffectiveGasPrice(tx *Transaction, baseFee xuint256.U256) xuint256.U256 {
	priorityPlusBase, ok := baseFee.CheckedAdd(tx.MaxPriorityFeePerGas)
	if !ok {
		return tx.MaxFeePerGas
	}
	if priorityPlusBase.LessThan(tx.MaxFeePerGas) {
		return priorityPlusBase
	}
	return tx.MaxFeePerGas
}
