package triedb

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKV(i int) ([]byte, []byte) {
	return []byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("value-%04d", i))
}

func TestPutGetRoundTrip(t *testing.T) {
	trie := New(NewMemNodeStore())
	for i := 0; i < 50; i++ {
		k, v := testKV(i)
		require.NoError(t, trie.Put(k, v))
	}
	for i := 0; i < 50; i++ {
		k, v := testKV(i)
		got, ok, err := trie.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
	_, ok, err := trie.Get([]byte("absent"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRootIndependentOfInsertionOrder(t *testing.T) {
	const n = 20
	keys := make([][]byte, n)
	vals := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i], vals[i] = testKV(i)
	}

	trieA := New(NewMemNodeStore())
	for i := 0; i < n; i++ {
		require.NoError(t, trieA.Put(keys[i], vals[i]))
	}

	order := rand.New(rand.NewSource(42)).Perm(n)
	trieB := New(NewMemNodeStore())
	for _, i := range order {
		require.NoError(t, trieB.Put(keys[i], vals[i]))
	}

	require.Equal(t, trieA.Root(), trieB.Root())
}

func TestDeleteThenReinsertReachesSameRootAsNeverDeleted(t *testing.T) {
	const n = 15
	keys := make([][]byte, n)
	vals := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i], vals[i] = testKV(i)
	}

	baseline := New(NewMemNodeStore())
	for i := 0; i < n; i++ {
		require.NoError(t, baseline.Put(keys[i], vals[i]))
	}

	withChurn := New(NewMemNodeStore())
	for i := 0; i < n; i++ {
		require.NoError(t, withChurn.Put(keys[i], vals[i]))
	}
	extraKey, extraVal := []byte("ephemeral-key"), []byte("ephemeral-value")
	require.NoError(t, withChurn.Put(extraKey, extraVal))
	found, err := withChurn.Delete(extraKey)
	require.NoError(t, err)
	require.True(t, found)

	require.Equal(t, baseline.Root(), withChurn.Root())
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	trie := New(NewMemNodeStore())
	k, v := testKV(1)
	require.NoError(t, trie.Put(k, v))
	root := trie.Root()

	found, err := trie.Delete([]byte("never-inserted"))
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, root, trie.Root())
}

func TestDeleteAllKeysReturnsToEmptyRoot(t *testing.T) {
	trie := New(NewMemNodeStore())
	const n = 30
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		k, v := testKV(i)
		keys[i] = k
		require.NoError(t, trie.Put(k, v))
	}
	for _, k := range keys {
		found, err := trie.Delete(k)
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, EmptyRoot, trie.Root())
}

func TestForkIsolatesWrites(t *testing.T) {
	base := New(NewMemNodeStore())
	k1, v1 := testKV(1)
	require.NoError(t, base.Put(k1, v1))
	baseRoot := base.Root()

	fork := base.Fork()
	k2, v2 := testKV(2)
	require.NoError(t, fork.Put(k2, v2))

	require.Equal(t, baseRoot, base.Root())
	require.NotEqual(t, baseRoot, fork.Root())

	_, ok, err := base.Get(k2)
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := fork.Get(k1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v1, got)
}

func TestForkCloneDoesNotShareBuffers(t *testing.T) {
	base := New(NewMemNodeStore())
	k1, v1 := testKV(1)
	require.NoError(t, base.Put(k1, v1))

	forkA := base.Fork()
	k2, v2 := testKV(2)
	require.NoError(t, forkA.Put(k2, v2))

	forkB := forkA.Fork()
	k3, v3 := testKV(3)
	require.NoError(t, forkB.Put(k3, v3))

	_, ok, err := forkA.Get(k3)
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := forkB.Get(k2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v2, got)
}

func TestProveAndVerifyInclusion(t *testing.T) {
	trie := New(NewMemNodeStore())
	const n = 25
	for i := 0; i < n; i++ {
		k, v := testKV(i)
		require.NoError(t, trie.Put(k, v))
	}

	for i := 0; i < n; i++ {
		k, v := testKV(i)
		proof, err := trie.Prove(k)
		require.NoError(t, err)
		require.True(t, VerifyProof(trie.Root(), k, v, proof))
	}
}

func TestVerifyProofRejectsWrongValue(t *testing.T) {
	trie := New(NewMemNodeStore())
	k, v := testKV(1)
	require.NoError(t, trie.Put(k, v))
	_, _ = testKV(2)

	proof, err := trie.Prove(k)
	require.NoError(t, err)
	require.False(t, VerifyProof(trie.Root(), k, []byte("wrong-value"), proof))
}

func TestVerifyProofRejectsWrongRoot(t *testing.T) {
	trie := New(NewMemNodeStore())
	k, v := testKV(1)
	require.NoError(t, trie.Put(k, v))

	proof, err := trie.Prove(k)
	require.NoError(t, err)
	require.False(t, VerifyProof(Hash256{0xff}, k, v, proof))
}

func TestReplaceExistingKeyUpdatesValueAndRoot(t *testing.T) {
	trie := New(NewMemNodeStore())
	k, v1 := testKV(1)
	require.NoError(t, trie.Put(k, v1))
	root1 := trie.Root()

	require.NoError(t, trie.Put(k, []byte("replaced")))
	root2 := trie.Root()
	require.NotEqual(t, root1, root2)

	got, ok, err := trie.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("replaced"), got)
}

func TestEmptyTrieHasSentinelRoot(t *testing.T) {
	trie := New(NewMemNodeStore())
	require.Equal(t, EmptyRoot, trie.Root())
	_, ok, err := trie.Get([]byte("anything"))
	require.NoError(t, err)
	require.False(t, ok)
}
