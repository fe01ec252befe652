package coordinator

import (
	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/chain"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/fail"
	"github.com/Basalt-Foundation/basalt/internal/sandbox"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

// onFinalized is the consensus engine's delivery callback: execute the
// block against a fork, validate the header's state root, swap the fork
// in, persist, record the commit bitmap, handle the epoch boundary, and
// open the next round. Blocks arrive here strictly in order.
func (n *Node) onFinalized(blockHash Hash256, blockData []byte, commitBitmap uint64) {
	block, err := chain.DecodeBlock(blockData)
	if err != nil {
		n.log.WithError(err).Error("finalized block failed to decode")
		return
	}
	block.CommitBitmap = commitBitmap

	execRef := statedb.NewRef(n.ref.Fork())
	receipts, stateRoot, err := n.executeBlockOn(execRef, block)
	if err != nil {
		n.log.WithError(err).WithField("block", block.Header.Number).Error("finalized block failed to execute")
		return
	}
	if stateRoot != block.Header.StateRoot {
		// A commit-quorum block this node cannot reproduce means the
		// local state has diverged from the network's; continuing would
		// build on corrupted state.
		fail.Invariant(n.log, "state root mismatch on finalized block", logrus.Fields{
			"block":    block.Header.Number,
			"header":   block.Header.StateRoot.String(),
			"computed": stateRoot.String(),
		})
		return
	}

	if err := n.chainMgr.AddBlock(block, receipts, &stateRoot); err != nil {
		n.log.WithError(err).Error("finalized block rejected by chain manager")
		return
	}
	n.ref.Swap(execRef.Get())
	if cached, ok := n.ref.Get().(*statedb.CachedStateDB); ok {
		if err := cached.FlushFlat(n.kv); err != nil {
			n.log.WithError(err).Error("flat state flush failed")
		}
	}
	n.nullifiers.Clear()
	n.epochMgr.RecordCommitBitmap(commitBitmap)

	for _, tx := range block.Transactions {
		n.pool.Remove(tx.Hash())
	}
	n.pool.PruneStale(n.ref.Get(), block.Header.BaseFee)
	n.met.MempoolSize.Set(float64(n.pool.Len()))
	n.met.BlocksFinalized.Inc()
	n.met.ChainHeight.Set(float64(block.Header.Number))
	n.met.CurrentView.Set(float64(n.engine.CurrentView()))
	n.markProgress()

	if n.epochMgr.IsBoundary(block.Header.Number) {
		newSet, err := n.epochMgr.OnBoundary(block.Header.Number)
		if err != nil {
			n.log.WithError(err).Error("epoch transition failed")
		} else {
			self, _ := newSet.ByAddress(n.selfAddr)
			n.engine.SetValidatorSet(newSet, self)
		}
	}

	n.notifySubscribers(block)
	n.log.WithFields(logrus.Fields{
		"block": block.Header.Number,
		"txs":   len(block.Transactions),
		"hash":  blockHash,
	}).Info("block finalized")

	n.startNextRound()
}

// executeBlockOn runs every transaction in b against execRef, verifying
// compliance proofs and recording their nullifiers along the way, and
// returns the receipts and resulting state root. Consistency of the
// header's own claims (tx root, gas used) is checked here too, so a
// block whose body does not match its header never mutates canonical
// state.
func (n *Node) executeBlockOn(execRef *statedb.Ref, b *chain.Block) ([]*txn.Receipt, Hash256, error) {
	if chain.ComputeTxRoot(b.Transactions) != b.Header.TxRoot {
		return nil, Hash256{}, errs.New(errs.ErrConflict, "coordinator.executeBlock", "tx root does not match header")
	}

	var (
		receipts      []*txn.Receipt
		cumulativeGas uint64
	)
	blockHash := b.Header.Hash()
	for i, tx := range b.Transactions {
		if err := n.nullifiers.CheckAndRecord(tx.ComplianceProofs, n.verifyProof); err != nil {
			return nil, Hash256{}, err
		}
		env := &txn.ExecEnv{
			Ref:     execRef,
			Runtime: n.cfg.Runtime,
			Code:    tx.Data,
			ChainID: n.params.ChainID,
			BaseFee: b.Header.BaseFee,
			Block: sandbox.BlockInfo{
				Number:      b.Header.Number,
				TimestampMS: b.Header.TimestampMS,
				ChainID:     n.params.ChainID,
			},
		}
		rc, err := txn.Execute(tx, env)
		if err != nil {
			return nil, Hash256{}, errs.Wrap(errs.ErrConflict, "coordinator.executeBlock", err)
		}
		cumulativeGas += rc.GasUsed
		rc.CumulativeGasUsed = cumulativeGas
		rc.TxIndex = uint32(i)
		rc.BlockHash = blockHash
		if !rc.Success {
			n.met.TxFailed.Inc()
		}
		n.met.TxExecuted.Inc()
		receipts = append(receipts, rc)
	}
	if cumulativeGas != b.Header.GasUsed {
		return nil, Hash256{}, errs.New(errs.ErrConflict, "coordinator.executeBlock", "gas used does not match header")
	}

	stateRoot := execRef.Get().StateRoot()
	for _, rc := range receipts {
		rc.PostStateRoot = stateRoot
	}
	return receipts, stateRoot, nil
}

func (n *Node) notifySubscribers(b *chain.Block) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- b:
		default: // a slow subscriber never stalls finalization
		}
	}
}
