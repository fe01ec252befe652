package consensus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Broadcaster is the transport-facing half of the engine: proposals,
// certificates, and view changes fan out to every peer, individual votes
// travel only to the round's leader.
type Broadcaster interface {
	BroadcastProposal(p *Proposal)
	SendVoteToLeader(v *Vote, leader ValidatorInfo)
	BroadcastQC(qc *QuorumCertificate)
	BroadcastViewChange(vc *ViewChange)
}

// FinalizedFn receives each finalized block exactly once, in strictly
// increasing block-number order, with the commit bitmap recording which
// validators signed the COMMIT certificate.
type FinalizedFn func(blockHash Hash256, blockData []byte, commitBitmap uint64)

// Config parameterizes an engine instance.
type Config struct {
	ChainID uint32
	Self    ValidatorInfo
	BLSPriv cryptoprims.BLSPrivateKey
	Logger  *logrus.Logger
}

// Engine runs the three-phase protocol for a single active round. One
// mutex protects the rounds map and every vote set; each handler runs
// entirely inside it, and nothing inside the lock blocks on I/O — the
// Broadcaster calls enqueue, they do not wait on the wire.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	set *ValidatorSet
	net Broadcaster

	onFinalized FinalizedFn

	maxDepth    int
	currentView uint64
	minNextView uint64
	timedOut    bool

	rounds map[uint64]*round // keyed by block number

	// earlyPrepare holds PREPARE votes that arrived for view
	// currentView+1 before the matching fast-forward proposal; they are
	// merged into the round when the fast-forward happens and dropped on
	// any other view transition.
	earlyPrepare map[earlyKey]map[uint32]cryptoprims.BLSSignature

	viewChangeSigs map[uint64]map[uint32]cryptoprims.BLSSignature // proposed view -> voter -> sig
	autoJoined     map[uint64]bool

	nextDeliver  uint64
	finalizedBuf map[uint64]finalizedBlock

	log *logrus.Logger
}

type earlyKey struct {
	blockNumber uint64
	view        uint64
}

type finalizedBlock struct {
	hash   Hash256
	data   []byte
	bitmap uint64
}

// NewEngine creates a basic (single-round) engine starting at
// startBlockNumber with the given validator set.
func NewEngine(cfg Config, set *ValidatorSet, net Broadcaster, onFinalized FinalizedFn, startBlockNumber uint64) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Engine{
		cfg:            cfg,
		set:            set,
		net:            net,
		onFinalized:    onFinalized,
		maxDepth:       1,
		rounds:         make(map[uint64]*round),
		earlyPrepare:   make(map[earlyKey]map[uint32]cryptoprims.BLSSignature),
		viewChangeSigs: make(map[uint64]map[uint32]cryptoprims.BLSSignature),
		autoJoined:     make(map[uint64]bool),
		nextDeliver:    startBlockNumber,
		finalizedBuf:   make(map[uint64]finalizedBlock),
		log:            cfg.Logger,
	}
}

// CurrentView returns the engine's view counter. It never decreases for
// the lifetime of the engine.
func (e *Engine) CurrentView() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentView
}

// SetValidatorSet swaps in the next epoch's set. In-flight rounds and
// view-change bookkeeping are discarded and minNextView resets — the one
// place it ever does. The view counter itself is left untouched, so it
// stays monotonic across epochs.
func (e *Engine) SetValidatorSet(set *ValidatorSet, self ValidatorInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = set
	e.cfg.Self = self
	e.rounds = make(map[uint64]*round)
	e.earlyPrepare = make(map[earlyKey]map[uint32]cryptoprims.BLSSignature)
	e.viewChangeSigs = make(map[uint64]map[uint32]cryptoprims.BLSSignature)
	e.autoJoined = make(map[uint64]bool)
	e.minNextView = 0
	e.timedOut = false
}

// StartRound opens the round for blockNumber. On the leader, blockData
// is hashed, the proposal is signed and broadcast, and the proposal's
// own signature is counted as the leader's PREPARE vote. Non-leaders
// register the expectation and wait for the proposal.
func (e *Engine) StartRound(blockNumber uint64, blockData []byte) error {
	defer e.deliverReady()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.minNextView > e.currentView {
		e.currentView = e.minNextView
	}
	view := e.currentView

	if _, exists := e.rounds[blockNumber]; exists {
		return errs.New(errs.ErrConflict, "consensus.StartRound", "round already active for block number")
	}
	if len(e.rounds) >= e.maxDepth {
		return errs.New(errs.ErrResourceExhausted, "consensus.StartRound", "pipeline depth exhausted")
	}

	r := newRound(blockNumber, view)
	e.rounds[blockNumber] = r

	leader := e.set.Leader(blockNumber, view)
	if leader.Index != e.cfg.Self.Index {
		return nil
	}

	r.blockHash = cryptoprims.HashBLAKE3(blockData)
	r.blockData = blockData
	r.phase = PhasePreparing

	sig := cryptoprims.SignBLS(e.cfg.BLSPriv, SigningPayload(e.cfg.ChainID, PhasePreparing, view, blockNumber, r.blockHash))
	r.addVote(PhasePreparing, uint32(e.cfg.Self.Index), sig)
	e.mergeEarlyPrepareLocked(r)

	e.net.BroadcastProposal(&Proposal{
		View:          view,
		BlockNumber:   blockNumber,
		BlockHash:     r.blockHash,
		BlockData:     blockData,
		ProposerIndex: uint32(e.cfg.Self.Index),
		Signature:     sig,
	})

	e.log.WithFields(logrus.Fields{"block": blockNumber, "view": view}).Debug("proposed block")
	e.maybeAdvanceLeaderLocked(r)
	return nil
}

// HandleProposal processes a leader's proposal. Acceptance requires the
// sender to be the expected leader for the proposal's view, a valid BLS
// signature over the PREPARE payload, and a block number with an open
// round. When no round is open for the block number, a proposal at this
// validator's current view opens one if the pipeline has room; on that
// path the block number is not compared with the chain tip or the next
// block due for delivery. A proposal one view ahead for the same block
// number fast-forwards this validator's view; a different block number
// never does.
func (e *Engine) HandleProposal(p *Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[p.BlockNumber]
	if !ok {
		if len(e.rounds) >= e.maxDepth || p.View != e.currentView {
			return errs.New(errs.ErrInputInvalid, "consensus.HandleProposal", "no active round for block number")
		}
		r = newRound(p.BlockNumber, e.currentView)
		e.rounds[p.BlockNumber] = r
	}

	fastForward := false
	switch {
	case p.View == r.view:
	case p.View == r.view+1 && p.View == e.currentView+1:
		fastForward = true
	default:
		return errs.New(errs.ErrInputInvalid, "consensus.HandleProposal", "proposal view does not match round")
	}

	leader := e.set.Leader(p.BlockNumber, p.View)
	if uint32(leader.Index) != p.ProposerIndex {
		return errs.New(errs.ErrAuthInvalid, "consensus.HandleProposal", "sender is not the expected leader")
	}
	payload := SigningPayload(e.cfg.ChainID, PhasePreparing, p.View, p.BlockNumber, p.BlockHash)
	if !cryptoprims.VerifyBLS(leader.BLSKey, payload, p.Signature) {
		return errs.New(errs.ErrAuthInvalid, "consensus.HandleProposal", "proposer signature invalid")
	}

	if !r.blockHash.IsZero() && r.blockHash != p.BlockHash {
		return errs.New(errs.ErrConflict, "consensus.HandleProposal", "conflicting proposal for block number")
	}

	if fastForward {
		e.currentView = p.View
		r.view = p.View
		e.log.WithFields(logrus.Fields{"block": p.BlockNumber, "view": p.View}).Debug("fast-forwarded view on proposal")
	}

	r.blockHash = p.BlockHash
	r.blockData = p.BlockData
	r.phase = PhasePreparing
	r.addVote(PhasePreparing, p.ProposerIndex, p.Signature)
	e.mergeEarlyPrepareLocked(r)

	// Vote PREPARE to the leader.
	e.sendVoteLocked(r, PhasePreparing, leader)
	return nil
}

// HandleVote processes one leader-directed vote. Unknown validators are
// dropped, signatures are verified over the canonical payload, and
// duplicates from the same voter count once. PREPARE votes one view
// ahead are retained until the matching fast-forward clears them.
func (e *Engine) HandleVote(v *Vote) error {
	defer e.deliverReady()
	e.mu.Lock()
	defer e.mu.Unlock()

	voter, ok := e.set.ByIndex(int(v.VoterIndex))
	if !ok {
		return errs.New(errs.ErrAuthInvalid, "consensus.HandleVote", "unknown validator")
	}
	payload := SigningPayload(e.cfg.ChainID, v.Phase, v.View, v.BlockNumber, v.BlockHash)
	if !cryptoprims.VerifyBLS(voter.BLSKey, payload, v.Signature) {
		return errs.New(errs.ErrAuthInvalid, "consensus.HandleVote", "vote signature invalid")
	}

	r, ok := e.rounds[v.BlockNumber]
	if !ok || r.view != v.View || r.blockHash != v.BlockHash || r.blockHash.IsZero() {
		// Pre-count PREPARE votes for the next view; they clear once the
		// fast-forward proposal arrives.
		if v.Phase == PhasePreparing && v.View == e.currentView+1 {
			k := earlyKey{blockNumber: v.BlockNumber, view: v.View}
			if e.earlyPrepare[k] == nil {
				e.earlyPrepare[k] = make(map[uint32]cryptoprims.BLSSignature)
			}
			e.earlyPrepare[k][v.VoterIndex] = v.Signature
			return nil
		}
		return errs.New(errs.ErrInputInvalid, "consensus.HandleVote", "vote does not match an active round")
	}
	if v.Phase != r.phase {
		return errs.New(errs.ErrInputInvalid, "consensus.HandleVote", "vote phase does not match round phase")
	}

	r.addVote(v.Phase, v.VoterIndex, v.Signature)
	e.maybeAdvanceLeaderLocked(r)
	return nil
}

// mergeEarlyPrepareLocked folds retained next-view PREPARE votes into a
// round that has just reached their view.
func (e *Engine) mergeEarlyPrepareLocked(r *round) {
	k := earlyKey{blockNumber: r.blockNumber, view: r.view}
	for voter, sig := range e.earlyPrepare[k] {
		r.addVote(PhasePreparing, voter, sig)
	}
	delete(e.earlyPrepare, k)
}

// maybeAdvanceLeaderLocked checks the current phase's vote set for
// quorum and, when this validator leads the round, emits the QC and
// transitions atomically to the next phase.
func (e *Engine) maybeAdvanceLeaderLocked(r *round) {
	leader := e.set.Leader(r.blockNumber, r.view)
	if leader.Index != e.cfg.Self.Index {
		return
	}
	for {
		if r.phase != PhasePreparing && r.phase != PhasePreCommitting && r.phase != PhaseCommitting {
			return
		}
		if len(r.votes[r.phase]) < e.set.Quorum() {
			return
		}
		bitmap := r.voteBitmap(r.phase)
		agg, err := cryptoprims.AggregateSignatures(r.voteSignatures(r.phase))
		if err != nil {
			e.log.WithError(err).Error("vote aggregation failed")
			return
		}
		qc := &QuorumCertificate{
			Phase:              r.phase,
			View:               r.view,
			BlockNumber:        r.blockNumber,
			BlockHash:          r.blockHash,
			SignersBitmap:      bitmap,
			AggregateSignature: agg,
		}
		e.net.BroadcastQC(qc)

		switch r.phase {
		case PhasePreparing:
			r.phase = PhasePreCommitting
		case PhasePreCommitting:
			r.phase = PhaseCommitting
		case PhaseCommitting:
			e.finalizeLocked(r, bitmap)
			return
		}
		// The leader contributes its own vote to the new phase
		// immediately; the loop re-checks quorum in case the set is 1.
		sig := cryptoprims.SignBLS(e.cfg.BLSPriv, SigningPayload(e.cfg.ChainID, r.phase, r.view, r.blockNumber, r.blockHash))
		r.addVote(r.phase, uint32(e.cfg.Self.Index), sig)
	}
}

// HandleQC processes a leader's broadcast certificate on a non-leader.
// Verification rejects sub-quorum bitmaps before any pairing; a valid
// certificate advances the round's phase and answers with the next
// phase's vote, and a COMMIT certificate finalizes the block.
func (e *Engine) HandleQC(qc *QuorumCertificate) error {
	defer e.deliverReady()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := VerifyQC(e.cfg.ChainID, e.set, qc); err != nil {
		return err
	}

	r, ok := e.rounds[qc.BlockNumber]
	if !ok || r.view != qc.View || r.blockHash != qc.BlockHash {
		return errs.New(errs.ErrInputInvalid, "consensus.HandleQC", "certificate does not match an active round")
	}

	leader := e.set.Leader(r.blockNumber, r.view)

	switch qc.Phase {
	case PhasePreparing:
		if r.phase != PhasePreparing {
			return nil // stale or already advanced
		}
		r.phase = PhasePreCommitting
		e.sendVoteLocked(r, PhasePreCommitting, leader)
	case PhasePreCommitting:
		if r.phase != PhasePreCommitting {
			return nil
		}
		r.phase = PhaseCommitting
		e.sendVoteLocked(r, PhaseCommitting, leader)
	case PhaseCommitting:
		if r.phase == PhaseFinalized {
			return nil
		}
		e.finalizeLocked(r, qc.SignersBitmap)
	}
	return nil
}

// sendVoteLocked signs and sends this validator's vote for phase to the
// round's leader.
func (e *Engine) sendVoteLocked(r *round, phase Phase, leader ValidatorInfo) {
	sig := cryptoprims.SignBLS(e.cfg.BLSPriv, SigningPayload(e.cfg.ChainID, phase, r.view, r.blockNumber, r.blockHash))
	r.addVote(phase, uint32(e.cfg.Self.Index), sig)
	if leader.Index == e.cfg.Self.Index {
		return
	}
	e.net.SendVoteToLeader(&Vote{
		Phase:       phase,
		View:        r.view,
		BlockNumber: r.blockNumber,
		BlockHash:   r.blockHash,
		VoterIndex:  uint32(e.cfg.Self.Index),
		Signature:   sig,
	}, leader)
}

// finalizeLocked retires the round and feeds the ordered delivery
// buffer. Out-of-order finalizations are retained and drained strictly
// by block number once the gap closes.
func (e *Engine) finalizeLocked(r *round, commitBitmap uint64) {
	r.phase = PhaseFinalized
	delete(e.rounds, r.blockNumber)
	e.finalizedBuf[r.blockNumber] = finalizedBlock{hash: r.blockHash, data: r.blockData, bitmap: commitBitmap}
	e.log.WithFields(logrus.Fields{"block": r.blockNumber, "view": r.view}).Info("block reached commit quorum")
}

// deliverReady drains contiguous finalized blocks. It runs after the
// engine lock is released: the finalization callback re-enters the
// engine (the coordinator starts the next round from it), so it must
// never be invoked from inside the critical section.
func (e *Engine) deliverReady() {
	for {
		e.mu.Lock()
		fb, ok := e.finalizedBuf[e.nextDeliver]
		var num uint64
		if ok {
			num = e.nextDeliver
			delete(e.finalizedBuf, num)
			e.nextDeliver++
		}
		e.mu.Unlock()
		if !ok {
			return
		}
		if e.onFinalized != nil {
			e.onFinalized(fb.hash, fb.data, fb.bitmap)
		}
		e.log.WithField("block", num).Debug("delivered finalized block")
	}
}
