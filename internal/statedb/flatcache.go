package statedb

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/kv"
)

// Flat-state key layout tags: 0x01||address for accounts,
// 0x02||address||slot for storage values.
const (
	flatTagAccount byte = 0x01
	flatTagStorage byte = 0x02
)

// DefaultCacheWarnThreshold is the entry count past which the cache
// logs a growth warning.
const DefaultCacheWarnThreshold = 1 << 20

type storageKey struct {
	addr AddressID
	slot Hash256
}

type cachedAccount struct {
	acc     AccountState
	deleted bool
	dirty   bool
}

type cachedValue struct {
	value   []byte
	deleted bool
	dirty   bool
}

// CachedStateDB fronts another StateDB with a write-through cache.
// Deletions leave explicit tombstones, so a read of a deleted key is
// answered from the cache instead of falling through to the trie and
// resurrecting the value. The cache is size-monitored: crossing the
// warning threshold logs, it never silently evicts (eviction would
// break the tombstone guarantee).
type CachedStateDB struct {
	mu    sync.Mutex
	inner StateDB

	accounts map[AddressID]*cachedAccount
	storage  map[storageKey]*cachedValue

	warnThreshold int
	warned        bool
	log           *logrus.Logger
}

// NewCached wraps inner with a flat cache.
func NewCached(inner StateDB, warnThreshold int, log *logrus.Logger) *CachedStateDB {
	if warnThreshold <= 0 {
		warnThreshold = DefaultCacheWarnThreshold
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachedStateDB{
		inner:         inner,
		accounts:      make(map[AddressID]*cachedAccount),
		storage:       make(map[storageKey]*cachedValue),
		warnThreshold: warnThreshold,
		log:           log,
	}
}

func (c *CachedStateDB) checkSizeLocked() {
	if c.warned {
		return
	}
	if len(c.accounts)+len(c.storage) > c.warnThreshold {
		c.warned = true
		c.log.WithFields(logrus.Fields{
			"accounts": len(c.accounts),
			"storage":  len(c.storage),
		}).Warn("flat state cache exceeded warning threshold")
	}
}

// GetAccount serves from the cache, honoring tombstones, and populates
// the cache on a miss.
func (c *CachedStateDB) GetAccount(addr AddressID) (AccountState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.accounts[addr]; ok {
		if e.deleted {
			return AccountState{}, false, nil
		}
		return e.acc, true, nil
	}
	acc, ok, err := c.inner.GetAccount(addr)
	if err != nil {
		return AccountState{}, false, err
	}
	if ok {
		c.accounts[addr] = &cachedAccount{acc: acc}
		c.checkSizeLocked()
	}
	return acc, ok, nil
}

// PutAccount writes through to the inner state and caches the result.
func (c *CachedStateDB) PutAccount(addr AddressID, acc AccountState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inner.PutAccount(addr, acc); err != nil {
		return err
	}
	c.accounts[addr] = &cachedAccount{acc: acc, dirty: true}
	c.checkSizeLocked()
	return nil
}

// DeleteAccount writes through and leaves a tombstone.
func (c *CachedStateDB) DeleteAccount(addr AddressID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inner.DeleteAccount(addr); err != nil {
		return err
	}
	c.accounts[addr] = &cachedAccount{deleted: true, dirty: true}
	return nil
}

// GetStorage serves from the cache, honoring tombstones.
func (c *CachedStateDB) GetStorage(addr AddressID, slot Hash256) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := storageKey{addr: addr, slot: slot}
	if e, ok := c.storage[k]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), e.value...), true, nil
	}
	val, ok, err := c.inner.GetStorage(addr, slot)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.storage[k] = &cachedValue{value: append([]byte(nil), val...)}
		c.checkSizeLocked()
	}
	return val, ok, nil
}

// SetStorage writes through and caches a private copy of the value. An
// empty value is a deletion and leaves a tombstone.
func (c *CachedStateDB) SetStorage(addr AddressID, slot Hash256, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inner.SetStorage(addr, slot, value); err != nil {
		return err
	}
	k := storageKey{addr: addr, slot: slot}
	if len(value) == 0 {
		c.storage[k] = &cachedValue{deleted: true, dirty: true}
	} else {
		c.storage[k] = &cachedValue{value: append([]byte(nil), value...), dirty: true}
	}
	c.checkSizeLocked()
	return nil
}

// StateRoot delegates to the inner state: every write flowed through.
func (c *CachedStateDB) StateRoot() Hash256 { return c.inner.StateRoot() }

// Fork deep-copies every cached buffer — the fork must not share
// mutable byte slices with the origin — over a fork of the inner state.
func (c *CachedStateDB) Fork() StateDB {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &CachedStateDB{
		inner:         c.inner.Fork(),
		accounts:      make(map[AddressID]*cachedAccount, len(c.accounts)),
		storage:       make(map[storageKey]*cachedValue, len(c.storage)),
		warnThreshold: c.warnThreshold,
		log:           c.log,
	}
	for addr, e := range c.accounts {
		cp := *e
		f.accounts[addr] = &cp
	}
	for k, e := range c.storage {
		cp := cachedValue{deleted: e.deleted, dirty: e.dirty}
		cp.value = append([]byte(nil), e.value...)
		f.storage[k] = &cp
	}
	return f
}

// FlushFlat persists every dirty cache entry to the flat state column
// family in one atomic batch — 0x01||addr for accounts, 0x02||addr||slot
// for storage — and clears the dirty marks. Called on the canonical
// state after a finalized block's swap, never on a speculative fork.
func (c *CachedStateDB) FlushFlat(store *kv.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := store.NewBatch(c.log)
	defer batch.Finalize()

	for addr, e := range c.accounts {
		if !e.dirty {
			continue
		}
		key := make([]byte, 1+len(addr))
		key[0] = flatTagAccount
		copy(key[1:], addr[:])
		if e.deleted {
			batch.Delete(kv.CFState, key)
		} else {
			batch.Put(kv.CFState, key, e.acc.Encode())
		}
	}
	for k, e := range c.storage {
		if !e.dirty {
			continue
		}
		key := make([]byte, 1+20+32)
		key[0] = flatTagStorage
		copy(key[1:21], k.addr[:])
		copy(key[21:], k.slot[:])
		if e.deleted {
			batch.Delete(kv.CFState, key)
		} else {
			batch.Put(kv.CFState, key, e.value)
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	for _, e := range c.accounts {
		e.dirty = false
	}
	for _, e := range c.storage {
		e.dirty = false
	}
	return nil
}
