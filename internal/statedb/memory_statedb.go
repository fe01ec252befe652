package statedb

import "github.com/Basalt-Foundation/basalt/internal/triedb"

// MemoryStateDB is a test-only StateDB backed by plain maps. StateRoot
// still folds its contents through an ephemeral triedb.Trie over a
// throwaway in-memory node store, using the exact same encoding
// TrieStateDB uses — so a MemoryStateDB and a TrieStateDB holding
// identical account/storage contents always produce the same root,
// resolving the "do the two StateDB variants need matching roots"
// question in favor of yes.
type MemoryStateDB struct {
	accounts map[AddressID]AccountState
	storage  map[AddressID]map[Hash256][]byte
}

// NewMemoryStateDB creates an empty in-memory state view.
func NewMemoryStateDB() *MemoryStateDB {
	return &MemoryStateDB{
		accounts: make(map[AddressID]AccountState),
		storage:  make(map[AddressID]map[Hash256][]byte),
	}
}

func (s *MemoryStateDB) GetAccount(addr AddressID) (AccountState, bool, error) {
	acc, ok := s.accounts[addr]
	return acc, ok, nil
}

func (s *MemoryStateDB) PutAccount(addr AddressID, acc AccountState) error {
	s.accounts[addr] = acc
	return nil
}

func (s *MemoryStateDB) DeleteAccount(addr AddressID) error {
	delete(s.accounts, addr)
	delete(s.storage, addr)
	return nil
}

func (s *MemoryStateDB) GetStorage(addr AddressID, slot Hash256) ([]byte, bool, error) {
	m, ok := s.storage[addr]
	if !ok {
		return nil, false, nil
	}
	v, ok := m[slot]
	return v, ok, nil
}

func (s *MemoryStateDB) SetStorage(addr AddressID, slot Hash256, value []byte) error {
	if _, exists := s.accounts[addr]; !exists {
		s.accounts[addr] = ZeroAccount
	}
	m, ok := s.storage[addr]
	if !ok {
		m = make(map[Hash256][]byte)
		s.storage[addr] = m
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m[slot] = buf
	return nil
}

func (s *MemoryStateDB) StateRoot() Hash256 {
	store := triedb.NewMemNodeStore()
	global := triedb.New(store)

	for addr, acc := range s.accounts {
		storageRoot := acc.StorageRoot
		if m := s.storage[addr]; len(m) > 0 {
			storageTrie := triedb.New(store)
			for slot, val := range m {
				slot := slot
				_ = storageTrie.Put(slot[:], val)
			}
			storageRoot = storageTrie.Root()
		}
		withRoot := acc
		withRoot.StorageRoot = storageRoot
		_ = global.Put(addr[:], withRoot.Encode())
	}
	return global.Root()
}

func (s *MemoryStateDB) Fork() StateDB {
	accCopy := make(map[AddressID]AccountState, len(s.accounts))
	for k, v := range s.accounts {
		accCopy[k] = v
	}
	storageCopy := make(map[AddressID]map[Hash256][]byte, len(s.storage))
	for addr, m := range s.storage {
		inner := make(map[Hash256][]byte, len(m))
		for slot, val := range m {
			buf := make([]byte, len(val))
			copy(buf, val)
			inner[slot] = buf
		}
		storageCopy[addr] = inner
	}
	return &MemoryStateDB{accounts: accCopy, storage: storageCopy}
}
