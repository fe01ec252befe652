package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
)

// Three consecutive blocks in flight at once still finalize — and are
// delivered — in block-number order on every node.
func TestPipelinedFinalizationInOrder(t *testing.T) {
	engines, records, tn, _, _ := buildCluster(t, 4, 1, DefaultPipelineDepth)

	payloads := map[uint64][]byte{}
	for bn := uint64(1); bn <= 3; bn++ {
		payloads[bn] = []byte(fmt.Sprintf("block %d", bn))
	}
	for bn := uint64(1); bn <= 3; bn++ {
		for _, e := range engines {
			require.NoError(t, e.StartRound(bn, payloads[bn]))
		}
	}
	tn.pump()

	for i, rec := range records {
		require.Len(t, *rec, 3, "engine %d", i)
		for bn := uint64(1); bn <= 3; bn++ {
			require.Equal(t, cryptoprims.HashBLAKE3(payloads[bn]), (*rec)[bn-1].hash,
				"engine %d delivered block %d out of order", i, bn)
		}
	}
}

// Out-of-order COMMITs are retained, never delivered early: feeding the
// buffer block 3 then 2 then 1 delivers 1, 2, 3.
func TestOrderedDrainBuffersGaps(t *testing.T) {
	var delivered []uint64
	cfg := Config{ChainID: testChainID, Logger: quietLogger()}
	set := setOfSize(t, 4)
	e := NewPipelinedEngine(cfg, set, &nodeNet{net: &testNet{}, self: 0}, nil, 1, 3)
	e.onFinalized = func(hash Hash256, data []byte, bitmap uint64) {
		_ = hash
		delivered = append(delivered, uint64(len(delivered))+1)
	}

	push := func(bn uint64) {
		e.mu.Lock()
		e.finalizedBuf[bn] = finalizedBlock{}
		e.mu.Unlock()
		e.deliverReady()
	}

	push(3)
	require.Empty(t, delivered)
	push(2)
	require.Empty(t, delivered)
	push(1)
	require.Equal(t, []uint64{1, 2, 3}, delivered)
}

// The pipeline cap bounds concurrently open rounds.
func TestPipelineDepthCap(t *testing.T) {
	engines, _, _, _, _ := buildCluster(t, 4, 1, 2)
	e := engines[0]

	require.NoError(t, e.StartRound(1, nil))
	require.NoError(t, e.StartRound(2, nil))
	err := e.StartRound(3, nil)
	require.Error(t, err)
}

func TestDoubleSignDetector(t *testing.T) {
	d := NewDoubleSignDetector()
	var proposer AddressID
	proposer[0] = 0x50

	h1 := cryptoprims.HashBLAKE3([]byte("a"))
	h2 := cryptoprims.HashBLAKE3([]byte("b"))

	_, dup := d.Observe(7, 10, proposer, h1)
	require.False(t, dup)

	// Same hash again: not evidence.
	_, dup = d.Observe(7, 10, proposer, h1)
	require.False(t, dup)

	// S4: two distinct hashes for (view=7, block=10) from one proposer.
	ev, dup := d.Observe(7, 10, proposer, h2)
	require.True(t, dup)
	require.Equal(t, uint64(7), ev.View)
	require.Equal(t, uint64(10), ev.BlockNumber)
	require.Equal(t, h1, ev.FirstHash)
	require.Equal(t, h2, ev.SecondHash)
}

func TestDoubleSignWindowSlides(t *testing.T) {
	d := NewDoubleSignDetector()
	var proposer AddressID
	proposer[0] = 1

	h1 := cryptoprims.HashBLAKE3([]byte("a"))
	h2 := cryptoprims.HashBLAKE3([]byte("b"))

	_, dup := d.Observe(1, 5, proposer, h1)
	require.False(t, dup)

	// Slide the window far past view 1; the old observation is evicted
	// and a conflicting hash for it no longer reports.
	_, _ = d.Observe(1+DoubleSignWindow+5, 99, proposer, h1)
	_, dup = d.Observe(1, 5, proposer, h2)
	require.False(t, dup)
}
