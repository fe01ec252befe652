package chain

import (
	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/mempool"
	"github.com/Basalt-Foundation/basalt/internal/sandbox"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/txn"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// Builder assembles, executes, and seals blocks from mempool contents.
type Builder struct {
	params  Params
	pool    *mempool.Pool
	runtime sandbox.Runtime
	log     *logrus.Logger
}

// NewBuilder creates a block builder.
func NewBuilder(params Params, pool *mempool.Pool, runtime sandbox.Runtime, log *logrus.Logger) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{params: params, pool: pool, runtime: runtime, log: log}
}

// BuildResult is a fully-executed candidate block: the sealed block, the
// receipts, the state root obtained by executing it, and the forked
// state that execution produced — the caller swaps the fork in once the
// block finalizes.
type BuildResult struct {
	Block     *Block
	Receipts  []*txn.Receipt
	StateRoot Hash256
	State     statedb.StateDB
}

// Build selects nonce-contiguous, fee-ordered transactions up to the
// block gas limit (reserving each transaction's full gas limit for the
// admission check, while the header records actual gas used), executes
// them against a fork of ref, and seals the header. Transactions that
// fail validation are dropped from the pool, never included.
func (b *Builder) Build(ref *statedb.Ref, tip BlockHeader, proposer AddressID, nowMS uint64) (*BuildResult, error) {
	baseFee := txn.NextBaseFee(tip.BaseFee, tip.GasUsed, tip.GasLimit, b.params.FeeMarket())

	fork := ref.Fork()
	execRef := statedb.NewRef(fork)

	selected := b.selectTransactions(fork, baseFee)

	env := &txn.ExecEnv{
		Ref:     execRef,
		Runtime: b.runtime,
		ChainID: b.params.ChainID,
		BaseFee: baseFee,
		Block: sandbox.BlockInfo{
			Number:      tip.Number + 1,
			TimestampMS: nowMS,
			ChainID:     b.params.ChainID,
		},
	}

	var (
		included      []*txn.Transaction
		receipts      []*txn.Receipt
		gasUsed       uint64
		cumulativeGas uint64
	)
	for _, tx := range selected {
		env.Code = tx.Data
		rc, err := txn.Execute(tx, env)
		if err != nil {
			// Failed validation: reject from the block and drop from the
			// pool rather than burning block space on it.
			b.pool.Remove(tx.Hash())
			b.log.WithError(err).Debug("dropped invalid transaction during block build")
			continue
		}
		cumulativeGas += rc.GasUsed
		gasUsed += rc.GasUsed
		rc.CumulativeGasUsed = cumulativeGas
		rc.TxIndex = uint32(len(included))
		included = append(included, tx)
		receipts = append(receipts, rc)
	}

	stateRoot := execRef.Get().StateRoot()

	header := BlockHeader{
		Number:          tip.Number + 1,
		ParentHash:      tip.Hash(),
		ChainID:         b.params.ChainID,
		TimestampMS:     nowMS,
		StateRoot:       stateRoot,
		TxRoot:          ComputeTxRoot(included),
		ReceiptsRoot:    ComputeReceiptsRoot(receipts),
		GasUsed:         gasUsed,
		GasLimit:        b.params.BlockGasLimit,
		BaseFee:         baseFee,
		Proposer:        proposer,
		ProtocolVersion: ProtocolVersion,
	}
	blockHash := header.Hash()

	// Backfill receipt block linkage and the once-per-block post-state
	// root (never computed inside the execution loop).
	for _, rc := range receipts {
		rc.BlockHash = blockHash
		rc.PostStateRoot = stateRoot
	}

	return &BuildResult{
		Block:     &Block{Header: header, Transactions: included},
		Receipts:  receipts,
		StateRoot: stateRoot,
		State:     execRef.Get(),
	}, nil
}

// selectTransactions picks the block's transaction order: each sender's
// transactions are taken strictly in nonce order starting at the
// sender's current account nonce, and across senders the highest
// effective fee goes first. Each pick reserves the transaction's full
// gas limit against the block gas limit.
func (b *Builder) selectTransactions(state statedb.StateDB, baseFee xuint256.U256) []*txn.Transaction {
	pending := b.pool.PendingBySender()

	type cursor struct {
		txs []*txn.Transaction
		pos int
	}
	cursors := make(map[AddressID]*cursor, len(pending))
	for sender, txs := range pending {
		acc, ok, err := state.GetAccount(sender)
		nonce := uint64(0)
		if err == nil && ok {
			nonce = acc.Nonce
		}
		// Skip ahead to the first pending tx at or above the account
		// nonce; anything earlier is stale.
		i := 0
		for i < len(txs) && txs[i].Nonce < nonce {
			i++
		}
		if i < len(txs) && txs[i].Nonce == nonce {
			cursors[sender] = &cursor{txs: txs, pos: i}
		}
	}

	var (
		selected    []*txn.Transaction
		reservedGas uint64
	)
	for {
		var best *txn.Transaction
		var bestSender AddressID
		bestFee := xuint256.Zero()
		for sender, c := range cursors {
			if c.pos >= len(c.txs) {
				continue
			}
			tx := c.txs[c.pos]
			fee := txn.EffectiveGasPrice(tx, baseFee)
			if best == nil || fee.GreaterThan(bestFee) {
				best, bestSender, bestFee = tx, sender, fee
			}
		}
		if best == nil {
			break
		}
		c := cursors[bestSender]
		if best.GasLimit > b.params.BlockGasLimit-reservedGas {
			// Doesn't fit; dropping this sender keeps its nonce chain
			// contiguous within the block.
			delete(cursors, bestSender)
			continue
		}
		reservedGas += best.GasLimit
		selected = append(selected, best)
		c.pos++
		// Nonce contiguity: the next tx must be exactly +1, otherwise
		// the sender is done for this block.
		if c.pos < len(c.txs) && c.txs[c.pos].Nonce != best.Nonce+1 {
			delete(cursors, bestSender)
		}
	}
	return selected
}
