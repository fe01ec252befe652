// Package xuint256 provides the 256-bit unsigned integer type used for
// balances, supply, and fee math throughout Basalt. It wraps
// github.com/holiman/uint256 and adds a strict checked/wrapping split: wrapping operators never signal overflow, checked operators
// always do, and the two families cannot be confused at a call site
// because they have different names and different signatures.
package xuint256

import (
	"fmt"

	"github.com/holiman/uint256"
)

// U256 is a 256-bit unsigned integer in two's-complement-free (pure
// unsigned) representation.
type U256 struct {
	v uint256.Int
}

// Zero is the additive identity.
func Zero() U256 { return U256{} }

// One is the multiplicative identity.
func One() U256 { return FromUint64(1) }

// FromUint64 builds a U256 from a machine-width unsigned integer.
func FromUint64(n uint64) U256 {
	var u U256
	u.v.SetUint64(n)
	return u
}

// Parse decodes a base-10 string into a U256, panicking on malformed
// input. Use TryParse when the input is untrusted.
func Parse(s string) U256 {
	u, err := TryParse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// TryParse decodes a base-10 string into a U256, returning an error for
// malformed or out-of-range input instead of panicking.
func TryParse(s string) (U256, error) {
	var u U256
	if err := u.v.SetFromDecimal(s); err != nil {
		return U256{}, fmt.Errorf("xuint256: parse %q: %w", s, err)
	}
	return u, nil
}

// String renders the value in one consistent base-10 format. Every call
// site in this module uses this method for decimal rendering; Hex is used
// explicitly wherever a hex form is required so the two are never
// confused.
func (u U256) String() string { return u.v.Dec() }

// Hex renders the value as a 0x-prefixed hexadecimal string.
func (u U256) Hex() string { return u.v.Hex() }

// Uint64 returns the low 64 bits, discarding any higher bits. Callers
// must only use this where the value is known to fit (e.g. gas amounts,
// never balances).
func (u U256) Uint64() uint64 { return u.v.Uint64() }

// IsZero reports whether the value is zero.
func (u U256) IsZero() bool { return u.v.IsZero() }

// Cmp returns -1, 0, or 1 comparing u to other, consistent with the
// byte-lexicographic ordering used for all scalar types here.
func (u U256) Cmp(other U256) int { return u.v.Cmp(&other.v) }

// LessThan reports whether u < other.
func (u U256) LessThan(other U256) bool { return u.v.Lt(&other.v) }

// GreaterThan reports whether u > other.
func (u U256) GreaterThan(other U256) bool { return u.v.Gt(&other.v) }

// Bytes32 returns the big-endian 32-byte representation.
func (u U256) Bytes32() [32]byte { return u.v.Bytes32() }

// FromBytes32 decodes a big-endian 32-byte representation.
func FromBytes32(b [32]byte) U256 {
	var u U256
	u.v.SetBytes(b[:])
	return u
}

// --- wrapping arithmetic: never signals overflow ---

// WrappingAdd returns u+other modulo 2^256.
func (u U256) WrappingAdd(other U256) U256 {
	var r U256
	r.v.Add(&u.v, &other.v)
	return r
}

// WrappingSub returns u-other modulo 2^256.
func (u U256) WrappingSub(other U256) U256 {
	var r U256
	r.v.Sub(&u.v, &other.v)
	return r
}

// WrappingMul returns u*other modulo 2^256.
func (u U256) WrappingMul(other U256) U256 {
	var r U256
	r.v.Mul(&u.v, &other.v)
	return r
}

// --- checked arithmetic: the only family used for monetary amounts ---

// CheckedAdd returns (u+other, true) iff the sum fits in 256 bits.
// It does not fall back to wrapping on overflow.
func (u U256) CheckedAdd(other U256) (U256, bool) {
	var r U256
	_, overflow := r.v.AddOverflow(&u.v, &other.v)
	if overflow {
		return U256{}, false
	}
	return r, true
}

// CheckedSub returns (u-other, true) iff other <= u.
func (u U256) CheckedSub(other U256) (U256, bool) {
	if u.v.Lt(&other.v) {
		return U256{}, false
	}
	var r U256
	r.v.Sub(&u.v, &other.v)
	return r, true
}

// CheckedMul returns (u*other, true) iff the product fits in 256 bits.
//
// This relies on uint256's MulOverflow, which reports whether the
// *mathematical* product exceeds 2^256, rather than a single "is the high
// limb smaller than either operand's high limb" heuristic. A naive single-comparison
// check can miss overflow when both operands have large high limbs and the
// wrapped product happens to look small.
func (u U256) CheckedMul(other U256) (U256, bool) {
	if u.v.IsZero() || other.v.IsZero() {
		return U256{}, true
	}
	var r U256
	_, overflow := r.v.MulOverflow(&u.v, &other.v)
	if overflow {
		return U256{}, false
	}
	return r, true
}

// CheckedDiv returns (u/other, true) iff other is non-zero.
func (u U256) CheckedDiv(other U256) (U256, bool) {
	if other.v.IsZero() {
		return U256{}, false
	}
	var r U256
	r.v.Div(&u.v, &other.v)
	return r, true
}

// Lsh returns u shifted left by n bits, wrapping.
func (u U256) Lsh(n uint) U256 {
	var r U256
	r.v.Lsh(&u.v, n)
	return r
}

// Rsh returns u shifted right by n bits.
func (u U256) Rsh(n uint) U256 {
	var r U256
	r.v.Rsh(&u.v, n)
	return r
}
