package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func setOfSize(t *testing.T, n int) *ValidatorSet {
	t.Helper()
	members := make([]ValidatorInfo, n)
	for i := range members {
		members[i].Address[0] = byte(i + 1)
		members[i].Stake = xuint256.FromUint64(1_000)
	}
	set, err := NewValidatorSet(members)
	require.NoError(t, err)
	return set
}

// Quorum math: quorum(n) > 2n/3 and quorum(n) >= 2*max_faults(n)+1 for
// every constructible set size.
func TestQuorumMath(t *testing.T) {
	for n := 1; n <= MaxValidators; n++ {
		set := setOfSize(t, n)
		q := set.Quorum()
		f := set.MaxFaults()
		require.Greater(t, 3*q, 2*n, "n=%d", n)
		require.GreaterOrEqual(t, q, 2*f+1, "n=%d", n)
		require.LessOrEqual(t, q, n, "n=%d", n)
	}
}

func TestValidatorSetCaps(t *testing.T) {
	_, err := NewValidatorSet(nil)
	require.Error(t, err)

	members := make([]ValidatorInfo, MaxValidators+1)
	for i := range members {
		members[i].Address[0] = byte(i)
		members[i].Address[1] = byte(i >> 8)
		members[i].Stake = xuint256.FromUint64(1)
	}
	_, err = NewValidatorSet(members)
	require.Error(t, err)
}

func TestBitmapSignersRejectsOutOfRangeBits(t *testing.T) {
	set := setOfSize(t, 4)
	_, err := set.BitmapSigners(0b10000)
	require.Error(t, err)

	signers, err := set.BitmapSigners(0b1010)
	require.NoError(t, err)
	require.Len(t, signers, 2)
	require.Equal(t, 1, signers[0].Index)
	require.Equal(t, 3, signers[1].Index)
}

// S9: leader selection with realistic 10^18-scale stakes is
// proportional to stake, not flattened to uniform.
func TestLeaderSelectionStakeWeighted(t *testing.T) {
	weights := []string{
		"100000000000000000000", // 100 * 10^18
		"200000000000000000000",
		"300000000000000000000",
		"400000000000000000000",
	}
	members := make([]ValidatorInfo, len(weights))
	for i, w := range weights {
		members[i].Address[0] = byte(i + 1)
		members[i].Stake = xuint256.Parse(w)
	}
	set, err := NewValidatorSet(members)
	require.NoError(t, err)

	const rounds = 10_000
	counts := make([]int, len(weights))
	for view := uint64(0); view < rounds; view++ {
		leader := set.Leader(1, view)
		counts[leader.Index]++
	}

	// Expected shares 10/20/30/40% with a generous statistical margin.
	expected := []float64{0.10, 0.20, 0.30, 0.40}
	for i, c := range counts {
		share := float64(c) / rounds
		require.InDelta(t, expected[i], share, 0.04, "validator %d share %f", i, share)
	}
	require.Greater(t, counts[3], counts[0], "4x stake must be selected strictly more often than 1x")
}

// Selection is deterministic: every node computes the same leader.
func TestLeaderSelectionDeterministic(t *testing.T) {
	set := setOfSize(t, 7)
	for view := uint64(0); view < 50; view++ {
		a := set.Leader(3, view)
		b := set.Leader(3, view)
		require.Equal(t, a.Index, b.Index, fmt.Sprintf("view %d", view))
	}
}

// Small integer stakes still produce distinct weights (the flattening
// bug this selector exists to avoid).
func TestLeaderSelectionSmallStakesNotUniform(t *testing.T) {
	members := make([]ValidatorInfo, 2)
	members[0].Address[0] = 1
	members[0].Stake = xuint256.FromUint64(1)
	members[1].Address[0] = 2
	members[1].Stake = xuint256.FromUint64(99)
	set, err := NewValidatorSet(members)
	require.NoError(t, err)

	counts := make([]int, 2)
	for view := uint64(0); view < 2_000; view++ {
		counts[set.Leader(1, view).Index]++
	}
	require.Greater(t, counts[1], counts[0]*10, "99x stake should dominate selection")
}
