package coordinator

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/chain"
	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/keystore"
	"github.com/Basalt-Foundation/basalt/internal/kv"
	"github.com/Basalt-Foundation/basalt/internal/staking"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/transport"
	"github.com/Basalt-Foundation/basalt/internal/txn"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func buildNode(t *testing.T) *Node {
	t.Helper()

	params, err := chain.NewParams(chain.Params{
		ChainID:                  7,
		BlockGasLimit:            10_000_000,
		Elasticity:               2,
		BaseFeeChangeDenominator: 8,
		InitialBaseFee:           xuint256.FromUint64(10),
		EpochLength:              1_000,
		BlockTimeMS:              1_000,
	})
	require.NoError(t, err)

	id, err := keystore.Generate()
	require.NoError(t, err)

	state := statedb.NewMemoryStateDB()
	ref := statedb.NewRef(state)

	genesis := &chain.BlockHeader{
		ChainID:         params.ChainID,
		TimestampMS:     1,
		GasLimit:        params.BlockGasLimit,
		BaseFee:         params.InitialBaseFee,
		StateRoot:       state.StateRoot(),
		ProtocolVersion: chain.ProtocolVersion,
	}

	stak := staking.New(staking.Params{
		MinimumValidatorStake: xuint256.FromUint64(1),
		UnbondingBlocks:       10,
	})
	selfAddr := cryptoprims.DeriveAddress(id.Ed25519Public)
	require.NoError(t, stak.RegisterValidator(selfAddr, xuint256.FromUint64(1_000)))

	set, err := consensus.NewValidatorSet([]consensus.ValidatorInfo{{
		PeerID:     cryptoprims.DerivePeerID(id.Ed25519Public),
		Ed25519Key: id.Ed25519Public,
		BLSKey:     id.BLSPrivate.PublicKey(),
		Address:    selfAddr,
		Stake:      xuint256.FromUint64(1_000),
	}})
	require.NoError(t, err)

	kvs, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvs.Close() })

	n, err := New(Config{
		Params:   params,
		Identity: id,
		Genesis:  genesis,
		Logger:   quietLogger(),
	}, kvs, ref, stak, set)
	require.NoError(t, err)
	return n
}

// emptyBlockAt builds a valid, empty successor of the node's tip.
func emptyBlockAt(t *testing.T, n *Node) *chain.Block {
	t.Helper()
	tip := n.chainMgr.Tip()
	return &chain.Block{Header: chain.BlockHeader{
		Number:          tip.Number + 1,
		ParentHash:      tip.Hash(),
		ChainID:         n.params.ChainID,
		TimestampMS:     tip.TimestampMS + 1_000,
		StateRoot:       n.ref.Get().StateRoot(),
		TxRoot:          chain.ComputeTxRoot(nil),
		ReceiptsRoot:    chain.ComputeReceiptsRoot(nil),
		GasLimit:        n.params.BlockGasLimit,
		BaseFee:         txn.NextBaseFee(tip.BaseFee, tip.GasUsed, tip.GasLimit, n.params.FeeMarket()),
		ProtocolVersion: chain.ProtocolVersion,
	}}
}

func TestNullifierNotBurnedOnFailedVerification(t *testing.T) {
	set := newNullifierSet()
	proof := txn.ComplianceProof{Nullifier: cryptoprims.HashBLAKE3([]byte("n1"))}

	rejectAll := func(txn.ComplianceProof) bool { return false }
	acceptAll := func(txn.ComplianceProof) bool { return true }

	// Verification fails: error, and the nullifier is NOT recorded.
	require.Error(t, set.CheckAndRecord([]txn.ComplianceProof{proof}, rejectAll))

	// The same nullifier still works once the proof verifies.
	require.NoError(t, set.CheckAndRecord([]txn.ComplianceProof{proof}, acceptAll))

	// Same-block reuse is rejected.
	require.Error(t, set.CheckAndRecord([]txn.ComplianceProof{proof}, acceptAll))

	// A block boundary clears the set.
	set.Clear()
	require.NoError(t, set.CheckAndRecord([]txn.ComplianceProof{proof}, acceptAll))
}

func TestSyncSingleBatchInFlight(t *testing.T) {
	n := buildNode(t)

	n.syncMu.Lock()
	n.syncInFlight = true
	n.syncSeq = 1
	n.syncMu.Unlock()

	err := n.RequestSync(PeerID{1}, 1, 10)
	require.Error(t, err, "second concurrent batch must be refused")
}

func TestSyncResponseStaleSequenceDropped(t *testing.T) {
	n := buildNode(t)
	tipBefore := n.chainMgr.Tip()

	peer := PeerID{1}
	n.syncMu.Lock()
	n.syncInFlight = true
	n.syncSeq = 5
	n.syncPeer = peer
	n.syncMu.Unlock()

	block := emptyBlockAt(t, n)
	stale := &transport.SyncResponse{Seq: 4, Blocks: [][]byte{block.Encode()}}
	n.handleSyncResponse(peer, stale.Encode())

	require.Equal(t, tipBefore.Number, n.chainMgr.Tip().Number, "stale response must not apply")
	n.syncMu.Lock()
	require.True(t, n.syncInFlight, "stale response must not clear the guard")
	n.syncMu.Unlock()
}

func TestSyncResponseAppliesFullBatch(t *testing.T) {
	n := buildNode(t)
	peer := PeerID{1}

	block1 := emptyBlockAt(t, n)

	n.syncMu.Lock()
	n.syncInFlight = true
	n.syncSeq = 9
	n.syncPeer = peer
	n.syncMu.Unlock()

	resp := &transport.SyncResponse{Seq: 9, Blocks: [][]byte{block1.Encode()}}
	n.handleSyncResponse(peer, resp.Encode())

	require.Equal(t, uint64(1), n.chainMgr.Tip().Number)
	n.syncMu.Lock()
	require.False(t, n.syncInFlight)
	n.syncMu.Unlock()
}

func TestSyncResponseRollsBackOnBadBlock(t *testing.T) {
	n := buildNode(t)
	peer := PeerID{1}

	good := emptyBlockAt(t, n)
	bad := emptyBlockAt(t, n)
	bad.Header.Number = 2
	bad.Header.ParentHash = good.Header.Hash()
	bad.Header.TimestampMS = good.Header.TimestampMS + 1_000
	bad.Header.StateRoot = cryptoprims.HashBLAKE3([]byte("wrong root"))

	n.syncMu.Lock()
	n.syncInFlight = true
	n.syncSeq = 3
	n.syncPeer = peer
	n.syncMu.Unlock()

	resp := &transport.SyncResponse{Seq: 3, Blocks: [][]byte{good.Encode(), bad.Encode()}}
	n.handleSyncResponse(peer, resp.Encode())

	// Both the chain appends and the state are rolled back together.
	require.Equal(t, uint64(0), n.chainMgr.Tip().Number)
	require.Equal(t, n.cfg.Genesis.StateRoot, n.ref.Get().StateRoot())
}

func TestExecuteBlockRejectsWrongTxRoot(t *testing.T) {
	n := buildNode(t)
	block := emptyBlockAt(t, n)
	block.Header.TxRoot = cryptoprims.HashBLAKE3([]byte("forged"))

	execRef := statedb.NewRef(n.ref.Fork())
	_, _, err := n.executeBlockOn(execRef, block)
	require.Error(t, err)
}

func TestIsValidatorPeerGatesConsensus(t *testing.T) {
	n := buildNode(t)

	self := cryptoprims.DerivePeerID(n.cfg.Identity.Ed25519Public)
	require.True(t, n.isValidatorPeer(self))
	require.False(t, n.isValidatorPeer(PeerID{0xAA}))
}
