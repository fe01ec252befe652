package consensus

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Proposal is the leader's block announcement for (BlockNumber, View).
// Signature is the proposer's BLS signature over the PREPARE payload —
// the proposal doubles as the leader's own PREPARE vote.
type Proposal struct {
	View          uint64
	BlockNumber   uint64
	BlockHash     Hash256
	BlockData     []byte
	ProposerIndex uint32
	Signature     cryptoprims.BLSSignature
}

// Vote is one validator's signed attestation for a phase, sent only to
// the round's leader (never broadcast) for aggregation.
type Vote struct {
	Phase       Phase
	View        uint64
	BlockNumber uint64
	BlockHash   Hash256
	VoterIndex  uint32
	Signature   cryptoprims.BLSSignature
}

// QuorumCertificate proves that a quorum of the validator set signed the
// canonical payload for (Phase, View, BlockNumber, BlockHash): a bitmap
// of signers plus the aggregate of their BLS signatures.
type QuorumCertificate struct {
	Phase              Phase
	View               uint64
	BlockNumber        uint64
	BlockHash          Hash256
	SignersBitmap      uint64
	AggregateSignature cryptoprims.BLSSignature
}

// ViewChange is a validator's signed request to advance to ProposedView
// after timing out in its current view.
type ViewChange struct {
	ProposedView uint64
	VoterIndex   uint32
	Signature    cryptoprims.BLSSignature
}

// MaxBlockDataLen caps the encoded block payload carried inside a
// proposal, checked before allocation on decode.
const MaxBlockDataLen = 16 << 20

// Encode serializes the proposal deterministically.
func (p *Proposal) Encode() []byte {
	w := codec.NewWriter(64 + len(p.BlockData))
	w.WriteU64(p.View)
	w.WriteU64(p.BlockNumber)
	w.WriteFixedBytes(p.BlockHash[:])
	w.WriteBytes(p.BlockData)
	w.WriteU32(p.ProposerIndex)
	w.WriteFixedBytes(p.Signature[:])
	return w.Bytes()
}

// DecodeProposal reverses Proposal.Encode.
func DecodeProposal(b []byte) (*Proposal, error) {
	r := codec.NewReader(b)
	p := &Proposal{}
	var err error
	if p.View, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if p.BlockNumber, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if err = readHash(r, &p.BlockHash); err != nil {
		return nil, err
	}
	if p.BlockData, err = r.ReadBytes(); err != nil {
		return nil, err
	}
	if len(p.BlockData) > MaxBlockDataLen {
		return nil, errs.New(errs.ErrInputMalformed, "consensus.DecodeProposal", "block data exceeds cap")
	}
	if p.ProposerIndex, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if err = readBLSSignature(r, &p.Signature); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode serializes the vote deterministically.
func (v *Vote) Encode() []byte {
	w := codec.NewWriter(160)
	w.WriteU8(uint8(v.Phase))
	w.WriteU64(v.View)
	w.WriteU64(v.BlockNumber)
	w.WriteFixedBytes(v.BlockHash[:])
	w.WriteU32(v.VoterIndex)
	w.WriteFixedBytes(v.Signature[:])
	return w.Bytes()
}

// DecodeVote reverses Vote.Encode.
func DecodeVote(b []byte) (*Vote, error) {
	r := codec.NewReader(b)
	v := &Vote{}
	phase, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if Phase(phase) > PhaseFinalized {
		return nil, errs.New(errs.ErrInputMalformed, "consensus.DecodeVote", "phase out of range")
	}
	v.Phase = Phase(phase)
	if v.View, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if v.BlockNumber, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if err = readHash(r, &v.BlockHash); err != nil {
		return nil, err
	}
	if v.VoterIndex, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if err = readBLSSignature(r, &v.Signature); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode serializes the certificate deterministically.
func (qc *QuorumCertificate) Encode() []byte {
	w := codec.NewWriter(160)
	w.WriteU8(uint8(qc.Phase))
	w.WriteU64(qc.View)
	w.WriteU64(qc.BlockNumber)
	w.WriteFixedBytes(qc.BlockHash[:])
	w.WriteU64(qc.SignersBitmap)
	w.WriteFixedBytes(qc.AggregateSignature[:])
	return w.Bytes()
}

// DecodeQuorumCertificate reverses QuorumCertificate.Encode.
func DecodeQuorumCertificate(b []byte) (*QuorumCertificate, error) {
	r := codec.NewReader(b)
	qc := &QuorumCertificate{}
	phase, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if Phase(phase) > PhaseFinalized {
		return nil, errs.New(errs.ErrInputMalformed, "consensus.DecodeQuorumCertificate", "phase out of range")
	}
	qc.Phase = Phase(phase)
	if qc.View, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if qc.BlockNumber, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if err = readHash(r, &qc.BlockHash); err != nil {
		return nil, err
	}
	if qc.SignersBitmap, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if err = readBLSSignature(r, &qc.AggregateSignature); err != nil {
		return nil, err
	}
	return qc, nil
}

// Encode serializes the view change deterministically.
func (vc *ViewChange) Encode() []byte {
	w := codec.NewWriter(112)
	w.WriteU64(vc.ProposedView)
	w.WriteU32(vc.VoterIndex)
	w.WriteFixedBytes(vc.Signature[:])
	return w.Bytes()
}

// DecodeViewChange reverses ViewChange.Encode.
func DecodeViewChange(b []byte) (*ViewChange, error) {
	r := codec.NewReader(b)
	vc := &ViewChange{}
	var err error
	if vc.ProposedView, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if vc.VoterIndex, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if err = readBLSSignature(r, &vc.Signature); err != nil {
		return nil, err
	}
	return vc, nil
}

func readHash(r *codec.Reader, out *Hash256) error {
	b, err := r.ReadFixedBytes(32)
	if err != nil {
		return err
	}
	copy(out[:], b)
	return nil
}

func readBLSSignature(r *codec.Reader, out *cryptoprims.BLSSignature) error {
	b, err := r.ReadFixedBytes(96)
	if err != nil {
		return err
	}
	copy(out[:], b)
	return nil
}
