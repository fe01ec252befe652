package coordinator

import (
	"time"

	"github.com/Basalt-Foundation/basalt/internal/chain"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/gasmeter"
	"github.com/Basalt-Foundation/basalt/internal/sandbox"
	"github.com/Basalt-Foundation/basalt/internal/transport"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

// This file is the entire contract the external API layer consumes.

// SubmitTransaction validates a transaction against current state,
// admits it to the mempool, and announces it to peers.
func (n *Node) SubmitTransaction(tx *txn.Transaction) error {
	tip := n.chainMgr.Tip()
	if err := n.pool.Add(tx, n.ref.Get(), tip.BaseFee); err != nil {
		return err
	}
	n.met.MempoolSize.Set(float64(n.pool.Len()))
	n.router.Publish(transport.MsgTxAnnounce, tx.Encode(), PeerID{})
	return nil
}

// GetBlockByHash returns a block by hash.
func (n *Node) GetBlockByHash(hash Hash256) (*chain.Block, bool, error) {
	return n.chainMgr.GetByHash(hash)
}

// GetBlockByNumber returns a block by number.
func (n *Node) GetBlockByNumber(number uint64) (*chain.Block, bool, error) {
	return n.chainMgr.GetByNumber(number)
}

// GetReceipt returns the receipt for a transaction hash.
func (n *Node) GetReceipt(txHash Hash256) (*txn.Receipt, bool, error) {
	return n.store.GetReceipt(txHash)
}

// Call executes a read-only contract call against a fork of current
// state. The fork is discarded unconditionally; nothing a Call does is
// ever committed.
func (n *Node) Call(tx *txn.Transaction) ([]byte, error) {
	if tx.Type != txn.TypeContractCall {
		return nil, errs.New(errs.ErrInputInvalid, "coordinator.Call", "read-only call requires a contract call transaction")
	}
	if n.cfg.Runtime == nil {
		return nil, errs.New(errs.ErrInternal, "coordinator.Call", "no contract runtime configured")
	}
	fork := n.ref.Fork()
	tip := n.chainMgr.Tip()
	meter := gasmeter.New(tx.GasLimit)
	ctx := sandbox.NewRootContext(fork, meter, sandbox.BlockInfo{
		Number:      tip.Number,
		TimestampMS: uint64(time.Now().UnixMilli()),
		ChainID:     n.params.ChainID,
	}, tx.Sender, tx.To, tx.Value)

	result, err := sandbox.Dispatch(n.cfg.Runtime, tx.Data, ctx, tx.Data)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInputInvalid, "coordinator.Call", err)
	}
	return result.ReturnData, nil
}

// SubscribeBlocks returns a channel receiving finalized blocks in order.
// The channel buffers 16 blocks; a block finalized while the buffer is
// full is not delivered to that subscriber. The channel closes on
// shutdown.
func (n *Node) SubscribeBlocks() <-chan *chain.Block {
	ch := make(chan *chain.Block, 16)
	n.subMu.Lock()
	n.subs = append(n.subs, ch)
	n.subMu.Unlock()
	return ch
}

// Tip returns the current chain tip header.
func (n *Node) Tip() chain.BlockHeader { return n.chainMgr.Tip() }
