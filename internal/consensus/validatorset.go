// Package consensus implements Basalt's three-phase Byzantine
// fault-tolerant protocol: leader-collected voting with aggregate BLS
// quorum certificates, deterministic stake-weighted leader election,
// view change with auto-join parity-split resolution, and a pipelined
// engine that finalizes consecutive blocks concurrently while delivering
// them strictly in order.
package consensus

import (
	"encoding/binary"
	"math/bits"
	"sort"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// MaxValidators caps the validator set so a commit bitmap always fits a
// single uint64. The epoch manager clamps its configured set size to
// this value; the two can never disagree.
const MaxValidators = 64

// ValidatorInfo is one member of the active set. Index is the
// validator's stable position within this epoch's set and is the bit
// position assigned to it in commit bitmaps.
type ValidatorInfo struct {
	PeerID     cryptoprims.PeerID
	Ed25519Key cryptoprims.Ed25519PublicKey
	BLSKey     cryptoprims.BLSPublicKey
	Address    AddressID
	Index      int
	Stake      xuint256.U256
}

// ValidatorSet is an ordered, immutable snapshot of the active
// validators for one epoch.
type ValidatorSet struct {
	validators []ValidatorInfo
	byAddress  map[AddressID]int
	totalStake xuint256.U256
}

// NewValidatorSet builds a set from at most MaxValidators members,
// assigning each its index in slice order.
func NewValidatorSet(members []ValidatorInfo) (*ValidatorSet, error) {
	if len(members) == 0 {
		return nil, errs.New(errs.ErrInputInvalid, "consensus.NewValidatorSet", "empty validator set")
	}
	if len(members) > MaxValidators {
		return nil, errs.New(errs.ErrInputInvalid, "consensus.NewValidatorSet", "validator set exceeds bitmap width")
	}
	vs := &ValidatorSet{
		validators: make([]ValidatorInfo, len(members)),
		byAddress:  make(map[AddressID]int, len(members)),
	}
	total := xuint256.Zero()
	for i, m := range members {
		m.Index = i
		vs.validators[i] = m
		vs.byAddress[m.Address] = i
		var ok bool
		total, ok = total.CheckedAdd(m.Stake)
		if !ok {
			return nil, errs.New(errs.ErrInputInvalid, "consensus.NewValidatorSet", "total stake overflow")
		}
	}
	vs.totalStake = total
	return vs, nil
}

// Len returns the number of validators in the set.
func (vs *ValidatorSet) Len() int { return len(vs.validators) }

// Quorum is the minimum number of signers a certificate needs:
// floor(n*2/3)+1, strictly more than two thirds for every n.
func (vs *ValidatorSet) Quorum() int { return len(vs.validators)*2/3 + 1 }

// MaxFaults is the number of Byzantine validators the set tolerates:
// floor((n-1)/3).
func (vs *ValidatorSet) MaxFaults() int { return (len(vs.validators) - 1) / 3 }

// ByIndex returns the validator at a bitmap position.
func (vs *ValidatorSet) ByIndex(i int) (ValidatorInfo, bool) {
	if i < 0 || i >= len(vs.validators) {
		return ValidatorInfo{}, false
	}
	return vs.validators[i], true
}

// ByAddress looks a member up by account address.
func (vs *ValidatorSet) ByAddress(addr AddressID) (ValidatorInfo, bool) {
	i, ok := vs.byAddress[addr]
	if !ok {
		return ValidatorInfo{}, false
	}
	return vs.validators[i], true
}

// Members returns a copy of the ordered membership.
func (vs *ValidatorSet) Members() []ValidatorInfo {
	out := make([]ValidatorInfo, len(vs.validators))
	copy(out, vs.validators)
	return out
}

// BitmapSigners decomposes a commit bitmap into the selected validators,
// rejecting bits beyond the set's size.
func (vs *ValidatorSet) BitmapSigners(bitmap uint64) ([]ValidatorInfo, error) {
	if len(vs.validators) < 64 && bitmap>>uint(len(vs.validators)) != 0 {
		return nil, errs.New(errs.ErrInputMalformed, "consensus.BitmapSigners", "bitmap references validators beyond set size")
	}
	out := make([]ValidatorInfo, 0, bits.OnesCount64(bitmap))
	for i := 0; i < len(vs.validators); i++ {
		if bitmap&(1<<uint(i)) != 0 {
			out = append(out, vs.validators[i])
		}
	}
	return out, nil
}

// Leader deterministically selects the proposer for (blockNumber, view),
// weighted by stake. Every node evaluates the identical selection from
// the shared seed; no communication is involved.
//
// Stakes are normalized into 64-bit weights by right-shifting all of
// them by one common amount — just enough that the largest stake fits in
// 56 bits — so realistic 10^18-scale stakes keep their relative
// proportions instead of all collapsing to weight 1. A nonzero stake
// never normalizes below weight 1.
func (vs *ValidatorSet) Leader(blockNumber, view uint64) ValidatorInfo {
	weights, totalWeight := vs.normalizedWeights()

	seed := vs.selectionSeed(blockNumber, view)
	target := seed % totalWeight

	var acc uint64
	for i, w := range weights {
		acc += w
		if target < acc {
			return vs.validators[i]
		}
	}
	return vs.validators[len(vs.validators)-1]
}

// normalizedWeights maps each stake onto a uint64 weight preserving
// relative magnitude. The shift amount is shared across the whole set.
func (vs *ValidatorSet) normalizedWeights() ([]uint64, uint64) {
	maxBits := 0
	for _, v := range vs.validators {
		if n := stakeBitLen(v.Stake); n > maxBits {
			maxBits = n
		}
	}
	shift := 0
	// Keep headroom so the weight total cannot overflow a uint64 even
	// with 64 max-weight validators.
	if maxBits > 56 {
		shift = maxBits - 56
	}

	weights := make([]uint64, len(vs.validators))
	var total uint64
	for i, v := range vs.validators {
		w := v.Stake.Rsh(uint(shift)).Uint64()
		if w == 0 && !v.Stake.IsZero() {
			w = 1
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		// All stakes zero: degenerate but defined — uniform selection.
		for i := range weights {
			weights[i] = 1
		}
		total = uint64(len(weights))
	}
	return weights, total
}

func stakeBitLen(s xuint256.U256) int {
	b := s.Bytes32()
	for i := 0; i < 32; i++ {
		if b[i] != 0 {
			return (32-i-1)*8 + bits.Len8(b[i])
		}
	}
	return 0
}

// selectionSeed hashes the round coordinates together with the set's
// membership metadata so a reshuffled or re-staked set reseeds the
// rotation.
func (vs *ValidatorSet) selectionSeed(blockNumber, view uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], blockNumber)
	binary.LittleEndian.PutUint64(buf[8:16], view)

	h := cryptoprims.NewIncrementalHasher()
	h.Write(buf[:])
	for _, v := range vs.validators {
		h.Write(v.Address[:])
		stake := v.Stake.Bytes32()
		h.Write(stake[:])
	}
	digest, _ := h.Sum()
	return binary.LittleEndian.Uint64(digest[:8])
}

// SortMembersByAddress orders candidate members deterministically by
// address, the canonical pre-index ordering the epoch manager uses when
// rebuilding a set.
func SortMembersByAddress(members []ValidatorInfo) {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i].Address, members[j].Address
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}
