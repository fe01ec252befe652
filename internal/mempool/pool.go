// Package mempool holds validated, not-yet-included transactions under a
// global size cap and a per-sender cap, evicting the lowest-fee entry to
// admit a strictly higher-fee one, and preserving strict nonce order
// within each sender.
package mempool

import (
	"sort"
	"sync"

	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/txn"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = txn.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = txn.Hash256

// Params bounds the pool's size.
type Params struct {
	GlobalCap    int
	PerSenderCap int
}

// Pool is a bounded, fee-ranked set of pending transactions. Every
// exported method takes and releases mu without any blocking I/O in
// between, per the no-suspending-critical-section rule this repo applies
// to mempool/staking/consensus alike.
type Pool struct {
	mu     sync.Mutex
	params Params

	byHash   map[Hash256]*txn.Transaction
	bySender map[AddressID]map[uint64]*txn.Transaction // nonce -> tx
}

// New creates an empty pool bounded by params.
func New(params Params) *Pool {
	return &Pool{
		params:   params,
		byHash:   make(map[Hash256]*txn.Transaction),
		bySender: make(map[AddressID]map[uint64]*txn.Transaction),
	}
}

// Len returns the number of transactions currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// Get looks up a transaction by hash.
func (p *Pool) Get(hash Hash256) (*txn.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.byHash[hash]
	return tx, ok
}

// Add validates tx against the current state and base fee, then admits
// it — evicting the pool's single lowest-fee transaction first if the
// pool is at its global or per-sender cap and tx's fee is strictly
// higher than that victim's.
func (p *Pool) Add(tx *txn.Transaction, state statedb.StateDB, baseFee xuint256.U256) error {
	if err := admissionCheck(tx, state, baseFee); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, exists := p.byHash[hash]; exists {
		return errs.New(errs.ErrConflict, "mempool.Add", "transaction already in pool")
	}

	senderTxs := p.bySender[tx.Sender]
	if senderTxs != nil {
		if _, exists := senderTxs[tx.Nonce]; exists {
			return errs.New(errs.ErrConflict, "mempool.Add", "duplicate nonce for sender")
		}
	}

	fee := tx.MaxFeePerGas

	if senderTxs != nil && len(senderTxs) >= p.params.PerSenderCap {
		if err := p.evictToAdmit(tx.Sender, fee); err != nil {
			return err
		}
	}
	if len(p.byHash) >= p.params.GlobalCap {
		if err := p.evictToAdmit(AddressID{}, fee); err != nil {
			return err
		}
	}

	if p.bySender[tx.Sender] == nil {
		p.bySender[tx.Sender] = make(map[uint64]*txn.Transaction)
	}
	p.bySender[tx.Sender][tx.Nonce] = tx
	p.byHash[hash] = tx
	return nil
}

// evictToAdmit removes the pool's single lowest-fee transaction, subject
// to it being strictly lower fee than incomingFee. If scope is the zero
// AddressID, any sender is eligible; otherwise only that sender's own
// transactions are considered (per-sender eviction).
func (p *Pool) evictToAdmit(scope AddressID, incomingFee xuint256.U256) error {
	var victim *txn.Transaction
	var victimFee xuint256.U256
	first := true

	for sender, txs := range p.bySender {
		if scope != (AddressID{}) && sender != scope {
			continue
		}
		for _, tx := range txs {
			fee := tx.MaxFeePerGas
			if first || fee.LessThan(victimFee) {
				victim, victimFee, first = tx, fee, false
			}
		}
	}
	if victim == nil || !victimFee.LessThan(incomingFee) {
		return errs.New(errs.ErrResourceExhausted, "mempool.evictToAdmit", "pool full and no lower-fee transaction to evict")
	}
	p.removeLocked(victim.Hash())
	return nil
}

// Remove drops a transaction from the pool by hash; a no-op if absent.
func (p *Pool) Remove(hash Hash256) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

func (p *Pool) removeLocked(hash Hash256) {
	tx, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	if senderTxs := p.bySender[tx.Sender]; senderTxs != nil {
		delete(senderTxs, tx.Nonce)
		if len(senderTxs) == 0 {
			delete(p.bySender, tx.Sender)
		}
	}
}

// PruneStale removes every transaction whose nonce has already been
// consumed on-chain, or whose effective tip at baseFee is negative
// (max_fee_per_gas no longer covers the current base fee).
func (p *Pool) PruneStale(state statedb.StateDB, baseFee xuint256.U256) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []Hash256
	for hash, tx := range p.byHash {
		acc, ok, err := state.GetAccount(tx.Sender)
		if err != nil {
			continue
		}
		chainNonce := uint64(0)
		if ok {
			chainNonce = acc.Nonce
		}
		if tx.Nonce < chainNonce {
			stale = append(stale, hash)
			continue
		}
		effective := txn.EffectiveGasPrice(tx, baseFee)
		if effective.LessThan(baseFee) {
			stale = append(stale, hash)
		}
	}
	for _, hash := range stale {
		p.removeLocked(hash)
	}
}

// PendingBySender returns every sender's queued transactions, each sorted
// ascending by nonce, preserving strict per-sender ordering.
// Cross-sender ordering is the block builder's responsibility.
func (p *Pool) PendingBySender() map[AddressID][]*txn.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[AddressID][]*txn.Transaction, len(p.bySender))
	for sender, txs := range p.bySender {
		list := make([]*txn.Transaction, 0, len(txs))
		for _, tx := range txs {
			list = append(list, tx)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Nonce < list[j].Nonce })
		out[sender] = list
	}
	return out
}

func admissionCheck(tx *txn.Transaction, state statedb.StateDB, baseFee xuint256.U256) error {
	if err := txn.VerifySignature(tx); err != nil {
		return err
	}
	if tx.MaxFeePerGas.LessThan(baseFee) {
		return errs.New(errs.ErrInputInvalid, "mempool.admissionCheck", "max fee per gas below current base fee")
	}
	acc, ok, err := state.GetAccount(tx.Sender)
	if err != nil {
		return err
	}
	chainNonce := uint64(0)
	var balance xuint256.U256
	if ok {
		chainNonce = acc.Nonce
		balance = acc.Balance
	}
	if tx.Nonce < chainNonce {
		return errs.New(errs.ErrInputInvalid, "mempool.admissionCheck", "nonce already consumed")
	}
	cost, ok := tx.MaxFeePerGas.CheckedMul(xuint256.FromUint64(tx.GasLimit))
	if !ok {
		return errs.New(errs.ErrInputInvalid, "mempool.admissionCheck", "gas cost overflow")
	}
	required, ok := cost.CheckedAdd(tx.Value)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "mempool.admissionCheck", "required balance overflow")
	}
	if balance.LessThan(required) {
		return errs.New(errs.ErrResourceExhausted, "mempool.admissionCheck", "insufficient balance for at-least-current transaction")
	}
	return nil
}
