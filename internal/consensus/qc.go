package consensus

import (
	"math/bits"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// VerifyQC checks a quorum certificate against the validator set. The
// bitmap popcount is rejected before any pairing work is done, so an
// obviously short certificate costs no elliptic-curve time. Validators
// still awaiting their first authenticated handshake (zero placeholder
// BLS key) cannot appear in a valid certificate — a signer with the zero
// key is rejected before the aggregate check runs.
func VerifyQC(chainID uint32, set *ValidatorSet, qc *QuorumCertificate) error {
	if qc.Phase != PhasePreparing && qc.Phase != PhasePreCommitting && qc.Phase != PhaseCommitting {
		return errs.New(errs.ErrInputMalformed, "consensus.VerifyQC", "certificate phase out of range")
	}
	if bits.OnesCount64(qc.SignersBitmap) < set.Quorum() {
		return errs.New(errs.ErrInputInvalid, "consensus.VerifyQC", "signer bitmap below quorum")
	}
	signers, err := set.BitmapSigners(qc.SignersBitmap)
	if err != nil {
		return err
	}
	pubs := make([]cryptoprims.BLSPublicKey, len(signers))
	for i, s := range signers {
		if s.BLSKey.IsZero() {
			return errs.New(errs.ErrAuthInvalid, "consensus.VerifyQC", "signer has placeholder key")
		}
		pubs[i] = s.BLSKey
	}
	payload := SigningPayload(chainID, qc.Phase, qc.View, qc.BlockNumber, qc.BlockHash)
	if !cryptoprims.AggregateVerifySameMessage(pubs, payload, qc.AggregateSignature) {
		return errs.New(errs.ErrInputInvalid, "consensus.VerifyQC", "aggregate signature invalid")
	}
	return nil
}
