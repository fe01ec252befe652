package consensus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

const testChainID uint32 = 100

// testNet wires a set of engines together with a FIFO message queue, so
// delivery is asynchronous with respect to the sending engine's lock —
// the same property a real transport has.
type testNet struct {
	t       *testing.T
	engines []engineHandle
	queue   []func()
}

type engineHandle interface {
	HandleProposal(*Proposal) error
	HandleVote(*Vote) error
	HandleQC(*QuorumCertificate) error
	HandleViewChange(*ViewChange) error
}

// nodeNet is one engine's Broadcaster view of the shared testNet.
type nodeNet struct {
	net  *testNet
	self int
}

func (n *nodeNet) BroadcastProposal(p *Proposal) {
	for i, e := range n.net.engines {
		if i == n.self {
			continue
		}
		e := e
		n.net.queue = append(n.net.queue, func() { _ = e.HandleProposal(p) })
	}
}

func (n *nodeNet) SendVoteToLeader(v *Vote, leader ValidatorInfo) {
	e := n.net.engines[leader.Index]
	n.net.queue = append(n.net.queue, func() { _ = e.HandleVote(v) })
}

func (n *nodeNet) BroadcastQC(qc *QuorumCertificate) {
	for i, e := range n.net.engines {
		if i == n.self {
			continue
		}
		e := e
		n.net.queue = append(n.net.queue, func() { _ = e.HandleQC(qc) })
	}
}

func (n *nodeNet) BroadcastViewChange(vc *ViewChange) {
	for i, e := range n.net.engines {
		if i == n.self {
			continue
		}
		e := e
		n.net.queue = append(n.net.queue, func() { _ = e.HandleViewChange(vc) })
	}
}

// pump delivers queued messages until the network is quiet.
func (tn *testNet) pump() {
	for len(tn.queue) > 0 {
		next := tn.queue[0]
		tn.queue = tn.queue[1:]
		next()
	}
}

type testValidator struct {
	info    ValidatorInfo
	blsPriv cryptoprims.BLSPrivateKey
}

func makeValidators(t *testing.T, stakes []uint64) ([]testValidator, *ValidatorSet) {
	t.Helper()
	vals := make([]testValidator, len(stakes))
	infos := make([]ValidatorInfo, len(stakes))
	for i, stake := range stakes {
		edPub, _, err := cryptoprims.GenerateEd25519()
		require.NoError(t, err)
		blsPub, blsPriv, err := cryptoprims.GenerateBLS()
		require.NoError(t, err)
		info := ValidatorInfo{
			PeerID:     cryptoprims.DerivePeerID(edPub),
			Ed25519Key: edPub,
			BLSKey:     blsPub,
			Address:    cryptoprims.DeriveAddress(edPub),
			Stake:      xuint256.FromUint64(stake),
		}
		vals[i] = testValidator{info: info, blsPriv: blsPriv}
		infos[i] = info
	}
	set, err := NewValidatorSet(infos)
	require.NoError(t, err)
	for i := range vals {
		vals[i].info.Index = i
	}
	return vals, set
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type finalization struct {
	hash   Hash256
	bitmap uint64
}

// buildCluster wires count engines over one testNet, returning the
// engines and a per-engine record of finalizations in delivery order.
func buildCluster(t *testing.T, count int, startBlock uint64, depth int) ([]*Engine, []*[]finalization, *testNet, []testValidator, *ValidatorSet) {
	t.Helper()
	stakes := make([]uint64, count)
	for i := range stakes {
		stakes[i] = 1_000
	}
	vals, set := makeValidators(t, stakes)

	tn := &testNet{t: t}
	engines := make([]*Engine, count)
	records := make([]*[]finalization, count)
	for i := range engines {
		rec := &[]finalization{}
		records[i] = rec
		onFin := func(hash Hash256, data []byte, bitmap uint64) {
			*rec = append(*rec, finalization{hash: hash, bitmap: bitmap})
		}
		cfg := Config{ChainID: testChainID, Self: vals[i].info, BLSPriv: vals[i].blsPriv, Logger: quietLogger()}
		e := NewEngine(cfg, set, &nodeNet{net: tn, self: i}, onFin, startBlock)
		e.maxDepth = depth
		engines[i] = e
		tn.engines = append(tn.engines, e)
	}
	return engines, records, tn, vals, set
}

// S1: four validators, quorum three, full three-phase run to
// finalization on every node.
func TestThreePhaseFinalization(t *testing.T) {
	engines, records, tn, _, set := buildCluster(t, 4, 1, 1)
	require.Equal(t, 3, set.Quorum())

	blockData := []byte("block one payload")
	for _, e := range engines {
		require.NoError(t, e.StartRound(1, blockData))
	}
	tn.pump()

	wantHash := cryptoprims.HashBLAKE3(blockData)
	for i, rec := range records {
		require.Len(t, *rec, 1, "engine %d did not finalize", i)
		got := (*rec)[0]
		require.Equal(t, wantHash, got.hash)
		require.GreaterOrEqual(t, popcount(got.bitmap), 3, "commit bitmap below quorum")
	}
}

func popcount(bm uint64) int {
	n := 0
	for bm != 0 {
		n += int(bm & 1)
		bm >>= 1
	}
	return n
}

// A single-validator set finalizes immediately from its own votes.
func TestSingleValidatorFinalizesAlone(t *testing.T) {
	engines, records, tn, _, set := buildCluster(t, 1, 5, 1)
	require.Equal(t, 1, set.Quorum())

	require.NoError(t, engines[0].StartRound(5, []byte("solo")))
	tn.pump()

	require.Len(t, *records[0], 1)
	require.Equal(t, uint64(0b1), (*records[0])[0].bitmap)
}

// S3: a proposal one view ahead for the same block number fast-forwards
// the validator; a proposal for a different block number does not.
func TestFastForwardProposal(t *testing.T) {
	engines, _, _, vals, set := buildCluster(t, 4, 1, 1)

	// Find a validator that leads neither (block 1, view 1) nor
	// (block 1, view 2), so it starts its round as a follower and then
	// receives the next view's leader's fast-forward proposal.
	leader := set.Leader(1, 2)
	leaderV1 := set.Leader(1, 1)
	var follower *Engine
	for i, e := range engines {
		if i != leader.Index && i != leaderV1.Index {
			follower = e
			break
		}
	}

	follower.mu.Lock()
	follower.currentView = 1
	follower.mu.Unlock()
	require.NoError(t, follower.StartRound(1, nil))

	blockData := []byte("ff block")
	blockHash := cryptoprims.HashBLAKE3(blockData)
	sig := cryptoprims.SignBLS(vals[leader.Index].blsPriv,
		SigningPayload(testChainID, PhasePreparing, 2, 1, blockHash))
	require.NoError(t, follower.HandleProposal(&Proposal{
		View:          2,
		BlockNumber:   1,
		BlockHash:     blockHash,
		BlockData:     blockData,
		ProposerIndex: uint32(leader.Index),
		Signature:     sig,
	}))
	require.Equal(t, uint64(2), follower.CurrentView())

	follower.mu.Lock()
	r := follower.rounds[1]
	follower.mu.Unlock()
	require.Equal(t, PhasePreparing, r.phase)

	// Same view, different block number: never fast-forwards, and with a
	// full pipeline it cannot even open a round.
	leader2 := set.Leader(2, 2)
	otherHash := cryptoprims.HashBLAKE3([]byte("other"))
	sig2 := cryptoprims.SignBLS(vals[leader2.Index].blsPriv,
		SigningPayload(testChainID, PhasePreparing, 2, 2, otherHash))
	err := follower.HandleProposal(&Proposal{
		View:          2,
		BlockNumber:   2,
		BlockHash:     otherHash,
		BlockData:     []byte("other"),
		ProposerIndex: uint32(leader2.Index),
		Signature:     sig2,
	})
	require.Error(t, err)
}

// A second proposal for the same block number with a different hash is
// rejected, not silently overwritten.
func TestConflictingProposalRejected(t *testing.T) {
	engines, _, _, vals, set := buildCluster(t, 4, 1, 1)

	leader := set.Leader(1, 0)
	var follower *Engine
	for i, e := range engines {
		if i != leader.Index {
			follower = e
			break
		}
	}
	require.NoError(t, follower.StartRound(1, nil))

	mk := func(data []byte) *Proposal {
		h := cryptoprims.HashBLAKE3(data)
		sig := cryptoprims.SignBLS(vals[leader.Index].blsPriv,
			SigningPayload(testChainID, PhasePreparing, 0, 1, h))
		return &Proposal{
			View: 0, BlockNumber: 1, BlockHash: h, BlockData: data,
			ProposerIndex: uint32(leader.Index), Signature: sig,
		}
	}

	require.NoError(t, follower.HandleProposal(mk([]byte("first"))))
	err := follower.HandleProposal(mk([]byte("second")))
	require.Error(t, err)

	follower.mu.Lock()
	gotHash := follower.rounds[1].blockHash
	follower.mu.Unlock()
	require.Equal(t, cryptoprims.HashBLAKE3([]byte("first")), gotHash)
}

// Proposals from anyone but the expected leader are dropped.
func TestProposalFromWrongLeaderRejected(t *testing.T) {
	engines, _, _, vals, set := buildCluster(t, 4, 1, 1)

	leader := set.Leader(1, 0)
	wrong := (leader.Index + 1) % 4
	var follower *Engine
	for i, e := range engines {
		if i != leader.Index && i != wrong {
			follower = e
			break
		}
	}
	require.NoError(t, follower.StartRound(1, nil))

	data := []byte("imposter block")
	h := cryptoprims.HashBLAKE3(data)
	sig := cryptoprims.SignBLS(vals[wrong].blsPriv,
		SigningPayload(testChainID, PhasePreparing, 0, 1, h))
	err := follower.HandleProposal(&Proposal{
		View: 0, BlockNumber: 1, BlockHash: h, BlockData: data,
		ProposerIndex: uint32(wrong), Signature: sig,
	})
	require.Error(t, err)
}

// Duplicate votes from one validator count once toward quorum.
func TestDuplicateVotesCountOnce(t *testing.T) {
	r := newRound(1, 0)
	var sig cryptoprims.BLSSignature
	require.True(t, r.addVote(PhasePreparing, 2, sig))
	require.False(t, r.addVote(PhasePreparing, 2, sig))
	require.Len(t, r.votes[PhasePreparing], 1)
}
