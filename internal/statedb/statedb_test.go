package statedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/triedb"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func addr(b byte) AddressID {
	var a AddressID
	a[19] = b
	return a
}

func slot(b byte) Hash256 {
	var h Hash256
	h[31] = b
	return h
}

func TestAccountEncodeDecodeRoundTrip(t *testing.T) {
	acc := AccountState{
		Nonce:       7,
		Balance:     xuint256.FromUint64(12345),
		CodeHash:    Hash256{1, 2, 3},
		StorageRoot: Hash256{4, 5, 6},
	}
	decoded, err := DecodeAccount(acc.Encode())
	require.NoError(t, err)
	require.Equal(t, acc, decoded)
}

func TestTrieStateDBAccountCRUD(t *testing.T) {
	db := NewTrieStateDB(triedb.NewMemNodeStore())
	a := addr(1)

	_, ok, err := db.GetAccount(a)
	require.NoError(t, err)
	require.False(t, ok)

	acc := AccountState{Nonce: 1, Balance: xuint256.FromUint64(100)}
	require.NoError(t, db.PutAccount(a, acc))

	got, ok, err := db.GetAccount(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, acc, got)

	require.NoError(t, db.DeleteAccount(a))
	_, ok, err = db.GetAccount(a)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTrieStateDBStorageFoldedIntoAccountRoot(t *testing.T) {
	db := NewTrieStateDB(triedb.NewMemNodeStore())
	a := addr(1)
	require.NoError(t, db.PutAccount(a, AccountState{Balance: xuint256.Zero()}))

	rootBefore := db.StateRoot()
	require.NoError(t, db.SetStorage(a, slot(1), []byte("value-1")))
	rootAfter := db.StateRoot()
	require.NotEqual(t, rootBefore, rootAfter)

	val, ok, err := db.GetStorage(a, slot(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value-1"), val)

	acc, ok, err := db.GetAccount(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, Hash256{}, acc.StorageRoot)
}

func TestTrieStateDBForkIsolation(t *testing.T) {
	base := NewTrieStateDB(triedb.NewMemNodeStore())
	a := addr(1)
	require.NoError(t, base.PutAccount(a, AccountState{Nonce: 1, Balance: xuint256.FromUint64(10)}))
	baseRoot := base.StateRoot()

	fork := base.Fork()
	require.NoError(t, fork.PutAccount(a, AccountState{Nonce: 2, Balance: xuint256.FromUint64(20)}))

	require.Equal(t, baseRoot, base.StateRoot())
	require.NotEqual(t, baseRoot, fork.StateRoot())

	got, _, err := base.GetAccount(a)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Nonce)
}

func TestRefSwapIsAtomic(t *testing.T) {
	base := NewTrieStateDB(triedb.NewMemNodeStore())
	ref := NewRef(base)

	fork := ref.Fork()
	a := addr(3)
	require.NoError(t, fork.PutAccount(a, AccountState{Nonce: 9, Balance: xuint256.Zero()}))

	_, ok, err := ref.Get().GetAccount(a)
	require.NoError(t, err)
	require.False(t, ok)

	ref.Swap(fork)
	got, ok, err := ref.Get().GetAccount(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(9), got.Nonce)
}

func TestTrieAndMemoryStateDBProduceMatchingRoots(t *testing.T) {
	trieDB := NewTrieStateDB(triedb.NewMemNodeStore())
	memDB := NewMemoryStateDB()

	accounts := []struct {
		a   AddressID
		acc AccountState
	}{
		{addr(1), AccountState{Nonce: 1, Balance: xuint256.FromUint64(100)}},
		{addr(2), AccountState{Nonce: 2, Balance: xuint256.FromUint64(200)}},
		{addr(3), AccountState{Nonce: 3, Balance: xuint256.FromUint64(300)}},
	}

	for _, e := range accounts {
		require.NoError(t, trieDB.PutAccount(e.a, e.acc))
		require.NoError(t, memDB.PutAccount(e.a, e.acc))
	}

	require.NoError(t, trieDB.SetStorage(addr(1), slot(1), []byte("x")))
	require.NoError(t, memDB.SetStorage(addr(1), slot(1), []byte("x")))
	require.NoError(t, trieDB.SetStorage(addr(1), slot(2), []byte("y")))
	require.NoError(t, memDB.SetStorage(addr(1), slot(2), []byte("y")))

	require.Equal(t, trieDB.StateRoot(), memDB.StateRoot())
}

func TestMemoryStateDBForkIsolation(t *testing.T) {
	base := NewMemoryStateDB()
	a := addr(1)
	require.NoError(t, base.PutAccount(a, AccountState{Nonce: 1}))
	require.NoError(t, base.SetStorage(a, slot(1), []byte("base")))

	fork := base.Fork()
	require.NoError(t, fork.SetStorage(a, slot(1), []byte("forked")))

	val, _, err := base.GetStorage(a, slot(1))
	require.NoError(t, err)
	require.Equal(t, []byte("base"), val)

	val, _, err = fork.GetStorage(a, slot(1))
	require.NoError(t, err)
	require.Equal(t, []byte("forked"), val)
}
