package consensus

import "github.com/Basalt-Foundation/basalt/internal/cryptoprims"

// round is the in-flight state for one block number. The engine's mutex
// guards every field; a round never outlives finalization or a
// view-change abort.
type round struct {
	view        uint64
	blockNumber uint64
	blockHash   Hash256
	blockData   []byte
	phase       Phase

	// votes maps attested phase -> voter index -> that voter's BLS
	// signature over the canonical payload. Keying by index deduplicates
	// per validator: a second signature from the same voter is ignored.
	votes map[Phase]map[uint32]cryptoprims.BLSSignature
}

func newRound(blockNumber, view uint64) *round {
	return &round{
		view:        view,
		blockNumber: blockNumber,
		phase:       PhaseProposing,
		votes: map[Phase]map[uint32]cryptoprims.BLSSignature{
			PhasePreparing:     {},
			PhasePreCommitting: {},
			PhaseCommitting:    {},
		},
	}
}

// addVote records a signature for phase, returning false for a
// duplicate from the same voter.
func (r *round) addVote(phase Phase, voter uint32, sig cryptoprims.BLSSignature) bool {
	set := r.votes[phase]
	if set == nil {
		return false
	}
	if _, dup := set[voter]; dup {
		return false
	}
	set[voter] = sig
	return true
}

// voteBitmap folds the recorded voters for phase into a signer bitmap.
func (r *round) voteBitmap(phase Phase) uint64 {
	var bm uint64
	for voter := range r.votes[phase] {
		bm |= 1 << uint(voter)
	}
	return bm
}

// voteSignatures collects the recorded signatures for phase in voter
// index order, matching the bitmap's bit order.
func (r *round) voteSignatures(phase Phase) []cryptoprims.BLSSignature {
	set := r.votes[phase]
	out := make([]cryptoprims.BLSSignature, 0, len(set))
	for i := uint32(0); i < MaxValidators; i++ {
		if sig, ok := set[i]; ok {
			out = append(out, sig)
		}
	}
	return out
}
