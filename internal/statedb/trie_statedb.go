package statedb

import (
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/triedb"
)

// TrieStateDB is the production StateDB: one global account trie keyed
// by address, each account's storage held in its own sub-trie whose root
// is folded into that account's encoded record. Both tries share the
// same underlying node store, so a single Fork of the account trie's
// store transitively isolates every storage sub-trie too.
type TrieStateDB struct {
	accounts *triedb.Trie
}

// NewTrieStateDB creates a TrieStateDB over an empty account trie.
func NewTrieStateDB(store triedb.NodeStore) *TrieStateDB {
	return &TrieStateDB{accounts: triedb.New(store)}
}

// OpenTrieStateDB attaches to an already-populated account trie root.
func OpenTrieStateDB(store triedb.NodeStore, root Hash256) *TrieStateDB {
	return &TrieStateDB{accounts: triedb.NewWithRoot(store, root)}
}

func (s *TrieStateDB) GetAccount(addr AddressID) (AccountState, bool, error) {
	raw, ok, err := s.accounts.Get(addr[:])
	if err != nil {
		return AccountState{}, false, errs.Wrap(errs.ErrInternal, "statedb.TrieStateDB.GetAccount", err)
	}
	if !ok {
		return AccountState{}, false, nil
	}
	acc, err := DecodeAccount(raw)
	if err != nil {
		return AccountState{}, false, errs.Wrap(errs.ErrInputMalformed, "statedb.TrieStateDB.GetAccount", err)
	}
	return acc, true, nil
}

func (s *TrieStateDB) PutAccount(addr AddressID, acc AccountState) error {
	if err := s.accounts.Put(addr[:], acc.Encode()); err != nil {
		return errs.Wrap(errs.ErrInternal, "statedb.TrieStateDB.PutAccount", err)
	}
	return nil
}

func (s *TrieStateDB) DeleteAccount(addr AddressID) error {
	if _, err := s.accounts.Delete(addr[:]); err != nil {
		return errs.Wrap(errs.ErrInternal, "statedb.TrieStateDB.DeleteAccount", err)
	}
	return nil
}

func (s *TrieStateDB) GetStorage(addr AddressID, slot Hash256) ([]byte, bool, error) {
	acc, ok, err := s.GetAccount(addr)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	storage := triedb.NewWithRoot(s.accounts.Store(), acc.StorageRoot)
	val, ok, err := storage.Get(slot[:])
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrInternal, "statedb.TrieStateDB.GetStorage", err)
	}
	return val, ok, nil
}

func (s *TrieStateDB) SetStorage(addr AddressID, slot Hash256, value []byte) error {
	acc, ok, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	if !ok {
		acc = ZeroAccount
	}
	storage := triedb.NewWithRoot(s.accounts.Store(), acc.StorageRoot)
	if err := storage.Put(slot[:], value); err != nil {
		return errs.Wrap(errs.ErrInternal, "statedb.TrieStateDB.SetStorage", err)
	}
	acc.StorageRoot = storage.Root()
	return s.PutAccount(addr, acc)
}

func (s *TrieStateDB) StateRoot() Hash256 { return s.accounts.Root() }

func (s *TrieStateDB) Fork() StateDB {
	return &TrieStateDB{accounts: s.accounts.Fork()}
}
