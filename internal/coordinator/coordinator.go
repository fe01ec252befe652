// Package coordinator wires the node together: it owns the canonical
// state reference, the consensus engine, the transport and gossip
// layers, the mempool, and the block store, and runs the finalization
// pipeline, the pull-sync state machine, and epoch transitions.
// Everything the (out-of-scope) API layer may consume is the small
// method surface on Node — nothing reaches past it into internals.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/chain"
	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/epoch"
	"github.com/Basalt-Foundation/basalt/internal/gossip"
	"github.com/Basalt-Foundation/basalt/internal/keystore"
	"github.com/Basalt-Foundation/basalt/internal/kv"
	"github.com/Basalt-Foundation/basalt/internal/mempool"
	"github.com/Basalt-Foundation/basalt/internal/metrics"
	"github.com/Basalt-Foundation/basalt/internal/sandbox"
	"github.com/Basalt-Foundation/basalt/internal/staking"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/transport"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// PeerID aliases the shared peer identity type.
type PeerID = cryptoprims.PeerID

// ProofVerifier checks one compliance proof. The concrete ZK verifier
// is injected; the coordinator only owns the nullifier bookkeeping
// around it.
type ProofVerifier func(txn.ComplianceProof) bool

// Config assembles everything a Node needs at construction.
type Config struct {
	Params     chain.Params
	Identity   keystore.Identity
	ListenAddr string

	// Genesis is the chain's block-zero header; its hash binds every
	// transport handshake.
	Genesis *chain.BlockHeader

	MempoolGlobalCap    int
	MempoolPerSenderCap int

	ProofVerifier ProofVerifier
	Runtime       sandbox.Runtime
	Logger        *logrus.Logger
}

// Node is the running coordinator.
type Node struct {
	cfg    Config
	params chain.Params
	log    *logrus.Logger
	met    *metrics.Metrics

	kv       *kv.Store
	ref      *statedb.Ref
	pool     *mempool.Pool
	builder  *chain.Builder
	store    *chain.BlockStore
	chainMgr *chain.Manager
	stak     *staking.State
	epochMgr *epoch.Manager
	engine   *consensus.PipelinedEngine
	trans    *transport.Transport
	router   *gossip.Router
	table    *gossip.Table
	detector *consensus.DoubleSignDetector

	nullifiers  *nullifierSet
	verifyProof ProofVerifier

	selfAddr AddressID

	syncMu       sync.Mutex
	syncInFlight bool
	syncSeq      uint64
	syncPeer     PeerID

	subMu sync.Mutex
	subs  []chan *chain.Block

	progressMu   sync.Mutex
	lastProgress time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a Node over an opened kv store, a staking state, and a
// genesis validator set. The state reference must already hold the
// genesis state matching Genesis.StateRoot.
func New(cfg Config, kvStore *kv.Store, ref *statedb.Ref, stak *staking.State, genesisSet *consensus.ValidatorSet) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.ProofVerifier == nil {
		cfg.ProofVerifier = func(txn.ComplianceProof) bool { return false }
	}
	if cfg.MempoolGlobalCap <= 0 {
		cfg.MempoolGlobalCap = 10_000
	}
	if cfg.MempoolPerSenderCap <= 0 {
		cfg.MempoolPerSenderCap = 64
	}

	store, err := chain.NewBlockStore(kvStore, cfg.Logger)
	if err != nil {
		return nil, err
	}

	epochMgr, err := epoch.NewManager(epoch.Config{
		EpochLength:            cfg.Params.EpochLength,
		ValidatorSetSize:       cfg.Params.ValidatorSetSize,
		InactivityThresholdPct: 50,
		InactivitySlashNum:     5,
		InactivitySlashDen:     100,
	}, stak, genesisSet, cfg.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:          cfg,
		params:       cfg.Params,
		log:          cfg.Logger,
		met:          metrics.New(),
		kv:           kvStore,
		ref:          ref,
		pool:         mempool.New(mempool.Params{GlobalCap: cfg.MempoolGlobalCap, PerSenderCap: cfg.MempoolPerSenderCap}),
		store:        store,
		stak:         stak,
		epochMgr:     epochMgr,
		detector:     consensus.NewDoubleSignDetector(),
		nullifiers:   newNullifierSet(),
		verifyProof:  cfg.ProofVerifier,
		selfAddr:     cryptoprims.DeriveAddress(cfg.Identity.Ed25519Public),
		lastProgress: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	n.chainMgr = chain.NewManager(cfg.Params, store, cfg.Genesis)
	n.builder = chain.NewBuilder(cfg.Params, n.pool, cfg.Runtime, cfg.Logger)

	n.trans = transport.New(transport.Config{
		ListenAddr:  cfg.ListenAddr,
		ChainID:     cfg.Params.ChainID,
		GenesisHash: cfg.Genesis.Hash(),
		Identity: transport.Identity{
			Public:  cfg.Identity.Ed25519Public,
			Private: cfg.Identity.Ed25519Private,
		},
		OnConnect:    n.onPeerConnect,
		OnDisconnect: n.onPeerDisconnect,
	}, n.handleMessage, cfg.Logger)
	n.table = gossip.NewTable(n.trans.LocalID())
	n.router = gossip.NewRouter(n, gossip.NewSeenCache(time.Minute, 1<<16), cfg.Logger)

	self, _ := genesisSet.ByAddress(n.selfAddr)
	n.engine = consensus.NewPipelinedEngine(consensus.Config{
		ChainID: cfg.Params.ChainID,
		Self:    self,
		BLSPriv: cfg.Identity.BLSPrivate,
		Logger:  cfg.Logger,
	}, genesisSet, n, n.onFinalized, cfg.Genesis.Number+1, cfg.Params.MaxPipelineDepth)

	return n, nil
}

// Start launches the listener and the view-timeout watchdog, then opens
// the first round.
func (n *Node) Start() error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.trans.Listen(n.ctx); err != nil {
			n.log.WithError(err).Warn("transport listener stopped")
		}
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.viewTimeoutLoop()
	}()

	n.startNextRound()
	return nil
}

// Stop cancels every long-running task, waits for them with a bounded
// join, and zeroes the validator's private key material.
func (n *Node) Stop() {
	n.cancel()
	_ = n.trans.Close()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		n.log.Warn("shutdown join timed out; exiting with tasks still running")
	}

	cryptoprims.Zeroize(n.cfg.Identity.Ed25519Private[:])
	bls := n.cfg.Identity.BLSPrivate.Bytes()
	cryptoprims.Zeroize(bls[:])

	n.subMu.Lock()
	for _, ch := range n.subs {
		close(ch)
	}
	n.subs = nil
	n.subMu.Unlock()
}

// viewTimeoutLoop fires the engine's view-change path when no block
// finalizes within the configured view timeout.
func (n *Node) viewTimeoutLoop() {
	ticker := time.NewTicker(n.params.ViewTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.progressMu.Lock()
			stalled := time.Since(n.lastProgress) >= n.params.ViewTimeout
			n.progressMu.Unlock()
			if stalled {
				n.engine.OnViewTimeout()
				n.met.ViewChanges.Inc()
				n.markProgress() // one timeout per stall window, not one per tick
			}
		}
	}
}

func (n *Node) markProgress() {
	n.progressMu.Lock()
	n.lastProgress = time.Now()
	n.progressMu.Unlock()
}

// startNextRound opens the round for the next block. When this
// validator leads it, a candidate block is built from the mempool and
// proposed; otherwise the round just registers the expectation.
func (n *Node) startNextRound() {
	set := n.epochMgr.CurrentSet()
	if _, ok := set.ByAddress(n.selfAddr); !ok {
		return // not a validator this epoch
	}
	tip := n.chainMgr.Tip()
	next := tip.Number + 1

	var blockData []byte
	leader := set.Leader(next, n.engine.CurrentView())
	if leader.Address == n.selfAddr {
		res, err := n.builder.Build(n.ref, tip, n.selfAddr, uint64(time.Now().UnixMilli()))
		if err != nil {
			n.log.WithError(err).Error("block build failed")
			return
		}
		blockData = res.Block.Encode()
	}
	if err := n.engine.StartRound(next, blockData); err != nil {
		n.log.WithError(err).Debug("start round")
	}
}
