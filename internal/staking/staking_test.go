package staking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func testParams() Params {
	return Params{
		MinimumValidatorStake: xuint256.FromUint64(1_000),
		UnbondingBlocks:       100,
	}
}

func addr(b byte) AddressID {
	var a AddressID
	a[0] = b
	return a
}

func TestRegisterValidator(t *testing.T) {
	s := New(testParams())

	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(5_000)))

	info, ok := s.Get(addr(1))
	require.True(t, ok)
	require.True(t, info.Active)
	require.Equal(t, "5000", info.TotalStake.String())
}

func TestRegisterRejectsBelowMinimumAndDuplicate(t *testing.T) {
	s := New(testParams())

	err := s.RegisterValidator(addr(1), xuint256.FromUint64(999))
	require.Error(t, err)

	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(1_000)))
	err = s.RegisterValidator(addr(1), xuint256.FromUint64(2_000))
	require.Error(t, err)
}

func TestDelegateMaintainsTotalInvariant(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(2_000)))
	require.NoError(t, s.Delegate(addr(2), addr(1), xuint256.FromUint64(300)))
	require.NoError(t, s.Delegate(addr(3), addr(1), xuint256.FromUint64(700)))

	info, _ := s.Get(addr(1))
	require.Equal(t, "3000", info.TotalStake.String())
	require.Equal(t, "1000", info.DelegatedStake.String())
	require.Equal(t, "2000", info.SelfStake.String())

	require.Equal(t, []AddressID{addr(1)}, s.DelegationsOf(addr(2)))
}

func TestDelegateRejectsInactiveTarget(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(2_000)))
	require.NoError(t, s.InitiateUnstake(addr(1), xuint256.FromUint64(2_000), 10))

	err := s.Delegate(addr(2), addr(1), xuint256.FromUint64(100))
	require.Error(t, err)
}

func TestFullUnstakeDeactivates(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(2_000)))
	require.NoError(t, s.InitiateUnstake(addr(1), xuint256.FromUint64(2_000), 5))

	info, _ := s.Get(addr(1))
	require.False(t, info.Active)
	require.True(t, info.SelfStake.IsZero())
}

func TestPartialUnstakeBelowMinimumRejected(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(2_000)))

	// 2000 - 1500 = 500, below the 1000 minimum but not zero.
	err := s.InitiateUnstake(addr(1), xuint256.FromUint64(1_500), 5)
	require.Error(t, err)

	info, _ := s.Get(addr(1))
	require.Equal(t, "2000", info.SelfStake.String())
}

func TestProcessUnbondingDrainsCompleted(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(5_000)))
	require.NoError(t, s.InitiateUnstake(addr(1), xuint256.FromUint64(1_000), 10))  // completes at 110
	require.NoError(t, s.InitiateUnstake(addr(1), xuint256.FromUint64(1_000), 50))  // completes at 150
	require.NoError(t, s.InitiateUnstake(addr(1), xuint256.FromUint64(1_000), 200)) // completes at 300

	require.Empty(t, s.ProcessUnbonding(109))

	done := s.ProcessUnbonding(160)
	require.Len(t, done, 2)
	require.Equal(t, uint64(110), done[0].CompletionBlock)
	require.Equal(t, uint64(150), done[1].CompletionBlock)

	done = s.ProcessUnbonding(1_000)
	require.Len(t, done, 1)
	require.Equal(t, uint64(300), done[0].CompletionBlock)
}

func TestApplySlashCappedAtTotal(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(2_000)))
	require.NoError(t, s.Delegate(addr(2), addr(1), xuint256.FromUint64(1_000)))

	// 100% slash: full total, not more.
	amount, err := s.ApplySlash(addr(1), 1, 1, 42, "double sign")
	require.NoError(t, err)
	require.Equal(t, "3000", amount.String())

	info, _ := s.Get(addr(1))
	require.True(t, info.TotalStake.IsZero())
	require.False(t, info.Active)

	hist := s.SlashHistory()
	require.Len(t, hist, 1)
	require.Equal(t, addr(1), hist[0].Validator)
	require.Equal(t, uint64(42), hist[0].Block)
}

func TestApplySlashFractionHitsSelfStakeFirst(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(4_000)))
	require.NoError(t, s.Delegate(addr(2), addr(1), xuint256.FromUint64(4_000)))

	// 5% of 8000 = 400, well within self-stake.
	amount, err := s.ApplySlash(addr(1), 5, 100, 7, "inactivity")
	require.NoError(t, err)
	require.Equal(t, "400", amount.String())

	info, _ := s.Get(addr(1))
	require.Equal(t, "3600", info.SelfStake.String())
	require.Equal(t, "4000", info.DelegatedStake.String())
	require.Equal(t, "7600", info.TotalStake.String())
	require.True(t, info.Active)
}

func TestActiveValidatorsSortedByStakeThenAddress(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(3), xuint256.FromUint64(1_000)))
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(3_000)))
	require.NoError(t, s.RegisterValidator(addr(2), xuint256.FromUint64(3_000)))
	require.NoError(t, s.RegisterValidator(addr(4), xuint256.FromUint64(2_000)))
	require.NoError(t, s.InitiateUnstake(addr(4), xuint256.FromUint64(2_000), 1))

	active := s.ActiveValidators()
	require.Len(t, active, 3)
	require.Equal(t, addr(1), active[0].Address) // 3000, lower address first on tie
	require.Equal(t, addr(2), active[1].Address) // 3000
	require.Equal(t, addr(3), active[2].Address) // 1000
}

func TestUndelegateQueuesAndUpdatesTotals(t *testing.T) {
	s := New(testParams())
	require.NoError(t, s.RegisterValidator(addr(1), xuint256.FromUint64(2_000)))
	require.NoError(t, s.Delegate(addr(2), addr(1), xuint256.FromUint64(500)))
	require.NoError(t, s.Undelegate(addr(2), addr(1), xuint256.FromUint64(200), 10))

	info, _ := s.Get(addr(1))
	require.Equal(t, "300", info.DelegatedStake.String())
	require.Equal(t, "2300", info.TotalStake.String())

	done := s.ProcessUnbonding(110)
	require.Len(t, done, 1)
	require.Equal(t, addr(2), done[0].Delegator)
	require.Equal(t, "200", done[0].Amount.String())
}
