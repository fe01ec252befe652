package xuint256

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckedAddOverflow(t *testing.T) {
	// a = 1, b = 2^256 - 1 (max). a+b overflows by exactly 1.
	maxHex := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	b, err := TryParse(new(big.Int).SetBytes(mustHex(maxHex)).String())
	require.NoError(t, err)

	_, ok := One().CheckedAdd(b)
	require.False(t, ok, "checked add must report overflow, never wrap silently")
}

func TestCheckedAddNoOverflow(t *testing.T) {
	a := FromUint64(1)
	b := FromUint64(2)
	sum, ok := a.CheckedAdd(b)
	require.True(t, ok)
	require.Equal(t, "3", sum.String())
}

// TestCheckedAddExhaustiveSmall property-tests checked addition
// over a dense grid of small and near-boundary values: checked_add
// returns not-ok iff the mathematical sum exceeds 2^256-1.
func TestCheckedAddExhaustiveSmall(t *testing.T) {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	max.Sub(max, big.NewInt(1))

	samples := []uint64{0, 1, 2, 1000, 1 << 32, 1<<63 - 1, 1 << 63}
	for _, a := range samples {
		for _, b := range samples {
			ua, ub := FromUint64(a), FromUint64(b)
			sum, ok := ua.CheckedAdd(ub)
			want := new(big.Int).Add(big.NewInt(0).SetUint64(a), big.NewInt(0).SetUint64(b))
			if want.Cmp(max) > 0 {
				require.False(t, ok)
			} else {
				require.True(t, ok)
				require.Equal(t, want.String(), sum.String())
			}
		}
	}
}

func TestCheckedMulTwoHighLimbOperands(t *testing.T) {
	// Both operands exceed 2^128, so a naive "check only the top limb of
	// each operand" heuristic can be fooled; MulOverflow must catch it.
	half := new(big.Int).Lsh(big.NewInt(1), 200)
	a, err := TryParse(half.String())
	require.NoError(t, err)
	b, err := TryParse(half.String())
	require.NoError(t, err)

	_, ok := a.CheckedMul(b)
	require.False(t, ok)
}

func TestCheckedSubUnderflow(t *testing.T) {
	_, ok := Zero().CheckedSub(One())
	require.False(t, ok)
}

func TestCheckedDivByZero(t *testing.T) {
	_, ok := FromUint64(10).CheckedDiv(Zero())
	require.False(t, ok)
}

func TestWrappingAddDoesWrap(t *testing.T) {
	maxHex := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	b, err := TryParse(new(big.Int).SetBytes(mustHex(maxHex)).String())
	require.NoError(t, err)
	r := One().WrappingAdd(b)
	require.True(t, r.IsZero(), "wrapping add of 1 + max must wrap to 0")
}

func TestRoundTripBytes32(t *testing.T) {
	u := FromUint64(123456789)
	b := u.Bytes32()
	got := FromBytes32(b)
	require.Equal(t, u.String(), got.String())
}

func mustHex(s string) []byte {
	b, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("bad hex")
	}
	return b.Bytes()
}
