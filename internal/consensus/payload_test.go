package consensus

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
)

// The signing payload layout is fixed: chain_id (4B LE), phase tag,
// view (8B LE), block number (8B LE), block hash (32B). This test pins
// the exact bytes so any cross-implementation drift shows up as a diff.
func TestSigningPayloadLayout(t *testing.T) {
	var hash Hash256
	for i := range hash {
		hash[i] = byte(i)
	}
	payload := SigningPayload(0x04030201, PhaseCommitting, 0x1122334455667788, 0x0102030405060708, hash)
	require.Len(t, payload, 53)

	want := "01020304" + // chain id LE
		"03" + // commit tag
		"8877665544332211" + // view LE
		"0807060504030201" + // block number LE
		hex.EncodeToString(hash[:])
	require.Equal(t, want, hex.EncodeToString(payload))
}

func TestViewChangePayloadLayout(t *testing.T) {
	payload := ViewChangePayload(7, 42)
	require.Len(t, payload, 13)
	require.Equal(t, byte(0xFF), payload[4])
	require.Equal(t, "07000000", hex.EncodeToString(payload[:4]))
	require.Equal(t, "2a00000000000000", hex.EncodeToString(payload[5:]))
}

// Payloads differing only in phase tag never collide.
func TestPayloadPhaseDomainSeparation(t *testing.T) {
	var hash Hash256
	prep := SigningPayload(1, PhasePreparing, 3, 9, hash)
	prec := SigningPayload(1, PhasePreCommitting, 3, 9, hash)
	comm := SigningPayload(1, PhaseCommitting, 3, 9, hash)
	require.NotEqual(t, prep, prec)
	require.NotEqual(t, prec, comm)
}

// S8: a COMMIT vote signed for chain 100 does not verify against the
// chain-101 payload for the otherwise-identical round.
func TestCrossChainSignatureReplayFails(t *testing.T) {
	pub, priv, err := cryptoprims.GenerateBLS()
	require.NoError(t, err)

	var hash Hash256
	hash[0] = 0xAB
	payload100 := SigningPayload(100, PhaseCommitting, 3, 42, hash)
	payload101 := SigningPayload(101, PhaseCommitting, 3, 42, hash)

	sig := cryptoprims.SignBLS(priv, payload100)
	require.True(t, cryptoprims.VerifyBLS(pub, payload100, sig))
	require.False(t, cryptoprims.VerifyBLS(pub, payload101, sig))
}

// Message round trips.
func TestMessageRoundTrips(t *testing.T) {
	var hash Hash256
	hash[3] = 0x77
	var sig cryptoprims.BLSSignature
	sig[0] = 0xC0 // compressed-point flag bits; content is irrelevant to the codec

	p := &Proposal{View: 2, BlockNumber: 9, BlockHash: hash, BlockData: []byte("data"), ProposerIndex: 3, Signature: sig}
	gotP, err := DecodeProposal(p.Encode())
	require.NoError(t, err)
	require.Equal(t, p, gotP)

	v := &Vote{Phase: PhasePreCommitting, View: 2, BlockNumber: 9, BlockHash: hash, VoterIndex: 1, Signature: sig}
	gotV, err := DecodeVote(v.Encode())
	require.NoError(t, err)
	require.Equal(t, v, gotV)

	qc := &QuorumCertificate{Phase: PhaseCommitting, View: 2, BlockNumber: 9, BlockHash: hash, SignersBitmap: 0b1011, AggregateSignature: sig}
	gotQC, err := DecodeQuorumCertificate(qc.Encode())
	require.NoError(t, err)
	require.Equal(t, qc, gotQC)

	vc := &ViewChange{ProposedView: 7, VoterIndex: 2, Signature: sig}
	gotVC, err := DecodeViewChange(vc.Encode())
	require.NoError(t, err)
	require.Equal(t, vc, gotVC)
}
