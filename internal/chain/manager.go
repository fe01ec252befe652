package chain

import (
	"sync"

	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

// Manager is the append-only chain of validated blocks. It owns the
// canonical tip; every append re-validates the full header linkage so a
// bad block can never silently become the parent of the next one.
type Manager struct {
	mu     sync.Mutex
	params Params
	store  *BlockStore

	tip *BlockHeader
}

// NewManager starts a chain at the given genesis header.
func NewManager(params Params, store *BlockStore, genesis *BlockHeader) *Manager {
	return &Manager{params: params, store: store, tip: genesis}
}

// Tip returns a copy of the current tip header.
func (m *Manager) Tip() BlockHeader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tip
}

// AddBlock validates block against the current tip and appends it.
// computedStateRoot is the root produced by actually executing the
// block; the production append path always supplies it, and a mismatch
// against the header is a hard conflict. Passing a nil root skips that
// check and exists only for tests that assemble headers by hand.
func (m *Manager) AddBlock(b *Block, receipts []*txn.Receipt, computedStateRoot *Hash256) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &b.Header
	tip := m.tip

	if h.ParentHash != tip.Hash() {
		return errs.New(errs.ErrConflict, "chain.AddBlock", "parent hash does not match tip")
	}
	if h.Number != tip.Number+1 {
		return errs.New(errs.ErrConflict, "chain.AddBlock", "block number is not tip+1")
	}
	if h.TimestampMS <= tip.TimestampMS {
		return errs.New(errs.ErrInputInvalid, "chain.AddBlock", "timestamp not after parent")
	}
	if h.ChainID != m.params.ChainID {
		return errs.New(errs.ErrInputInvalid, "chain.AddBlock", "chain id mismatch")
	}
	if h.GasUsed > h.GasLimit {
		return errs.New(errs.ErrInputInvalid, "chain.AddBlock", "gas used exceeds gas limit")
	}
	if h.GasLimit > m.params.BlockGasLimit {
		return errs.New(errs.ErrInputInvalid, "chain.AddBlock", "gas limit exceeds configured block gas limit")
	}
	wantBaseFee := txn.NextBaseFee(tip.BaseFee, tip.GasUsed, tip.GasLimit, m.params.FeeMarket())
	if h.BaseFee.Cmp(wantBaseFee) != 0 {
		return errs.New(errs.ErrInputInvalid, "chain.AddBlock", "base fee does not follow fee market formula")
	}
	if len(h.ExtraData) > MaxExtraDataLen {
		return errs.New(errs.ErrInputMalformed, "chain.AddBlock", "extra data exceeds cap")
	}
	if h.ProtocolVersion == 0 || h.ProtocolVersion > ProtocolVersion {
		return errs.New(errs.ErrInputInvalid, "chain.AddBlock", "unsupported protocol version")
	}
	if computedStateRoot != nil && *computedStateRoot != h.StateRoot {
		return errs.New(errs.ErrConflict, "chain.AddBlock", "computed state root does not match header")
	}

	if err := m.store.PutBlock(b, receipts); err != nil {
		return err
	}
	m.tip = h
	return nil
}

// RollbackTo rewinds the tip to the given header, deleting every block
// above it from the store — the sync batch-failure path. The caller is
// responsible for rolling the state back alongside.
func (m *Manager) RollbackTo(target BlockHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.tip.Number > target.Number {
		b, ok, err := m.store.GetBlockByNumber(m.tip.Number)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.ErrInternal, "chain.RollbackTo", "tip block missing from store")
		}
		parent, ok, err := m.store.GetBlockByNumber(m.tip.Number - 1)
		if err != nil {
			return err
		}
		if !ok && m.tip.Number-1 != target.Number {
			return errs.New(errs.ErrInternal, "chain.RollbackTo", "parent block missing from store")
		}
		if err := m.store.DeleteBlock(b); err != nil {
			return err
		}
		if ok {
			m.tip = &parent.Header
		} else {
			t := target
			m.tip = &t
		}
	}
	return nil
}

// GetByHash serves block-by-hash lookups, falling through to the
// persistent store.
func (m *Manager) GetByHash(hash Hash256) (*Block, bool, error) { return m.store.GetBlockByHash(hash) }

// GetByNumber serves block-by-number lookups.
func (m *Manager) GetByNumber(n uint64) (*Block, bool, error) { return m.store.GetBlockByNumber(n) }
