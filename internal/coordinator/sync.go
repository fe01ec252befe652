package coordinator

import (
	"time"

	"github.com/Basalt-Foundation/basalt/internal/chain"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/transport"
)

// SyncTimeout bounds one sync batch before a retry with a fresh
// sequence number becomes possible.
const SyncTimeout = 10 * time.Second

// RequestSync asks peer for a block range. At most one batch is ever in
// flight: the guard is taken atomically, and the request carries a
// sequence number the response must echo, so a stale response from an
// abandoned batch can never complete the wrong wait.
func (n *Node) RequestSync(peer PeerID, from uint64, count uint32) error {
	n.syncMu.Lock()
	if n.syncInFlight {
		n.syncMu.Unlock()
		return errs.New(errs.ErrConflict, "coordinator.RequestSync", "sync batch already in flight")
	}
	n.syncInFlight = true
	n.syncSeq++
	seq := n.syncSeq
	n.syncPeer = peer
	n.syncMu.Unlock()

	req := &transport.SyncRequest{Seq: seq, From: from, Count: count}
	if err := n.SendMessage(peer, transport.MsgSyncRequest, req.Encode()); err != nil {
		n.clearSync(seq)
		return err
	}

	// Timeout: if this batch is still pending when the timer fires, the
	// guard clears and the next RequestSync uses an incremented
	// sequence. A response for this batch arriving later is stale by
	// sequence and dropped.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-n.ctx.Done():
		case <-time.After(SyncTimeout):
			if n.clearSync(seq) {
				n.log.WithField("seq", seq).Warn("sync batch timed out")
			}
		}
	}()
	return nil
}

// clearSync releases the in-flight guard if seq is still the active
// batch, reporting whether it did.
func (n *Node) clearSync(seq uint64) bool {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	if !n.syncInFlight || n.syncSeq != seq {
		return false
	}
	n.syncInFlight = false
	return true
}

// handleSyncRequest serves a contiguous block range from the store.
func (n *Node) handleSyncRequest(from PeerID, payload []byte) {
	req, err := transport.DecodeSyncRequest(payload)
	if err != nil {
		return
	}
	resp := &transport.SyncResponse{Seq: req.Seq}
	for num := req.From; num < req.From+uint64(req.Count); num++ {
		b, ok, err := n.store.GetBlockByNumber(num)
		if err != nil || !ok {
			break
		}
		resp.Blocks = append(resp.Blocks, b.Encode())
	}
	if err := n.SendMessage(from, transport.MsgSyncResponse, resp.Encode()); err != nil {
		n.log.WithError(err).Debug("sync response send failed")
	}
}

// handleSyncResponse applies a full batch or none of it: every block
// executes against one forked state and appends to the chain manager as
// it goes; any per-block failure rolls back both the chain appends and
// the fork, so the chain tip and canonical state can never diverge.
func (n *Node) handleSyncResponse(from PeerID, payload []byte) {
	resp, err := transport.DecodeSyncResponse(payload)
	if err != nil {
		return
	}

	n.syncMu.Lock()
	if !n.syncInFlight || resp.Seq != n.syncSeq || from != n.syncPeer {
		n.syncMu.Unlock()
		n.log.WithField("seq", resp.Seq).Debug("stale or unsolicited sync response dropped")
		return
	}
	n.syncMu.Unlock()

	if len(resp.Blocks) == 0 {
		n.clearSync(resp.Seq)
		return
	}

	tipBefore := n.chainMgr.Tip()
	execRef := statedb.NewRef(n.ref.Fork())

	rollback := func(stage string, cause error) {
		n.log.WithError(cause).WithField("stage", stage).Warn("sync batch failed; rolling back")
		if err := n.chainMgr.RollbackTo(tipBefore); err != nil {
			n.log.WithError(err).Error("sync rollback failed")
		}
		n.met.SyncRollbacks.Inc()
		n.clearSync(resp.Seq)
	}

	for _, raw := range resp.Blocks {
		block, err := chain.DecodeBlock(raw)
		if err != nil {
			rollback("decode", err)
			return
		}
		receipts, stateRoot, err := n.executeBlockOn(execRef, block)
		if err != nil {
			rollback("execute", err)
			return
		}
		n.nullifiers.Clear()
		if err := n.chainMgr.AddBlock(block, receipts, &stateRoot); err != nil {
			rollback("append", err)
			return
		}
		n.epochMgr.RecordCommitBitmap(block.CommitBitmap)
		if n.epochMgr.IsBoundary(block.Header.Number) {
			newSet, err := n.epochMgr.OnBoundary(block.Header.Number)
			if err != nil {
				rollback("epoch", err)
				return
			}
			self, _ := newSet.ByAddress(n.selfAddr)
			n.engine.SetValidatorSet(newSet, self)
		}
	}

	// Full batch succeeded: the fork becomes canonical in one swap.
	n.ref.Swap(execRef.Get())
	n.met.SyncBatches.Inc()
	n.met.ChainHeight.Set(float64(n.chainMgr.Tip().Number))
	n.markProgress()
	n.clearSync(resp.Seq)
}
