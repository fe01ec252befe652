package consensus

import "encoding/binary"

// Phase is a consensus round's position in the three-phase pipeline.
type Phase uint8

const (
	PhaseProposing Phase = iota
	PhasePreparing
	PhasePreCommitting
	PhaseCommitting
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseProposing:
		return "proposing"
	case PhasePreparing:
		return "preparing"
	case PhasePreCommitting:
		return "pre-committing"
	case PhaseCommitting:
		return "committing"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Domain-separation tags for the signing payload. The phase tag of a
// vote names the phase being *attested*, which is the phase the vote
// helps complete.
const (
	tagPrepare    byte = 0x01
	tagPreCommit  byte = 0x02
	tagCommit     byte = 0x03
	tagViewChange byte = 0xFF
)

func phaseTag(p Phase) byte {
	switch p {
	case PhasePreparing:
		return tagPrepare
	case PhasePreCommitting:
		return tagPreCommit
	case PhaseCommitting:
		return tagCommit
	default:
		return 0x00
	}
}

// SigningPayload builds the canonical byte string every consensus
// signature covers:
//
//	chain_id (4B LE) || phase_tag (1B) || view (8B LE) || block_number (8B LE) || block_hash (32B)
//
// The chain id prefix is what makes a signature worthless on any other
// chain; the phase tag is what stops a PREPARE signature doubling as a
// COMMIT.
func SigningPayload(chainID uint32, phase Phase, view, blockNumber uint64, blockHash Hash256) []byte {
	out := make([]byte, 4+1+8+8+32)
	binary.LittleEndian.PutUint32(out[0:4], chainID)
	out[4] = phaseTag(phase)
	binary.LittleEndian.PutUint64(out[5:13], view)
	binary.LittleEndian.PutUint64(out[13:21], blockNumber)
	copy(out[21:], blockHash[:])
	return out
}

// ViewChangePayload builds the distinct signing payload for a
// view-change message: chain_id (4B LE) || 0xFF || proposed_view (8B LE).
// Block fields are deliberately absent — a view change is about the view
// counter, not any particular block.
func ViewChangePayload(chainID uint32, proposedView uint64) []byte {
	out := make([]byte, 4+1+8)
	binary.LittleEndian.PutUint32(out[0:4], chainID)
	out[4] = tagViewChange
	binary.LittleEndian.PutUint64(out[5:13], proposedView)
	return out
}
