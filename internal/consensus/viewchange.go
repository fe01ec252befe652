package consensus

import (
	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// OnViewTimeout is called by the coordinator's per-view timer when the
// current view makes no progress. The validator signs and broadcasts a
// view change for currentView+1 and marks itself timed out, which arms
// the auto-join behaviour below. A second timeout in the same view is a
// no-op.
func (e *Engine) OnViewTimeout() {
	defer e.deliverReady()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timedOut {
		return
	}
	e.timedOut = true
	proposed := e.currentView + 1
	e.log.WithFields(logrus.Fields{"view": e.currentView, "proposed": proposed}).Info("view timed out")
	e.emitViewChangeLocked(proposed)
}

// emitViewChangeLocked signs, records, and broadcasts this validator's
// view change for proposed, then checks quorum (its own vote may be the
// one that completes it).
func (e *Engine) emitViewChangeLocked(proposed uint64) {
	sig := cryptoprims.SignBLS(e.cfg.BLSPriv, ViewChangePayload(e.cfg.ChainID, proposed))
	e.recordViewChangeLocked(proposed, uint32(e.cfg.Self.Index), sig)
	e.net.BroadcastViewChange(&ViewChange{
		ProposedView: proposed,
		VoterIndex:   uint32(e.cfg.Self.Index),
		Signature:    sig,
	})
	e.maybeJumpViewLocked(proposed)
}

// HandleViewChange validates and counts one peer's view-change message.
// Non-validator senders and bad signatures are dropped. A validator
// that has itself already timed out auto-joins a higher proposed view it
// sees — at most once per proposed view — which is what resolves the
// parity split where two halves of the set sit one view apart, each
// short of quorum.
func (e *Engine) HandleViewChange(vc *ViewChange) error {
	defer e.deliverReady()
	e.mu.Lock()
	defer e.mu.Unlock()

	voter, ok := e.set.ByIndex(int(vc.VoterIndex))
	if !ok {
		return errs.New(errs.ErrAuthInvalid, "consensus.HandleViewChange", "unknown validator")
	}
	if !cryptoprims.VerifyBLS(voter.BLSKey, ViewChangePayload(e.cfg.ChainID, vc.ProposedView), vc.Signature) {
		return errs.New(errs.ErrAuthInvalid, "consensus.HandleViewChange", "view change signature invalid")
	}
	if vc.ProposedView <= e.currentView {
		return nil // stale; view never moves backward
	}

	e.recordViewChangeLocked(vc.ProposedView, vc.VoterIndex, vc.Signature)

	// Auto-join: only a validator that has already timed out follows a
	// higher proposed view, so one faulty node's timeout cannot cascade
	// through validators that are still making progress.
	if e.timedOut && vc.ProposedView > e.currentView+1 && !e.autoJoined[vc.ProposedView] {
		e.autoJoined[vc.ProposedView] = true
		e.log.WithField("proposed", vc.ProposedView).Info("auto-joining higher view change")
		e.emitViewChangeLocked(vc.ProposedView)
	}

	e.maybeJumpViewLocked(vc.ProposedView)
	return nil
}

func (e *Engine) recordViewChangeLocked(proposed uint64, voter uint32, sig cryptoprims.BLSSignature) {
	set := e.viewChangeSigs[proposed]
	if set == nil {
		set = make(map[uint32]cryptoprims.BLSSignature)
		e.viewChangeSigs[proposed] = set
	}
	set[voter] = sig
}

// maybeJumpViewLocked advances to proposed once a quorum of distinct
// validators has requested it. In-flight rounds abort; minNextView pins
// every subsequent StartRound for this epoch at or above the new view.
func (e *Engine) maybeJumpViewLocked(proposed uint64) {
	if proposed <= e.currentView {
		return
	}
	if len(e.viewChangeSigs[proposed]) < e.set.Quorum() {
		return
	}

	e.currentView = proposed
	e.minNextView = proposed
	e.timedOut = false

	for num, r := range e.rounds {
		if r.phase != PhaseFinalized {
			delete(e.rounds, num)
		}
	}
	e.earlyPrepare = make(map[earlyKey]map[uint32]cryptoprims.BLSSignature)

	for v := range e.viewChangeSigs {
		if v <= proposed {
			delete(e.viewChangeSigs, v)
		}
	}
	for v := range e.autoJoined {
		if v <= proposed {
			delete(e.autoJoined, v)
		}
	}
	e.log.WithField("view", proposed).Info("advanced to new view")
}
