package epoch

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/staking"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testConfig() Config {
	return Config{
		EpochLength:            10,
		ValidatorSetSize:       4,
		InactivityThresholdPct: 50,
		InactivitySlashNum:     5,
		InactivitySlashDen:     100,
	}
}

func addr(b byte) AddressID {
	var a AddressID
	a[0] = b
	return a
}

func buildManager(t *testing.T, cfg Config, stakes map[byte]uint64) (*Manager, *staking.State) {
	t.Helper()
	st := staking.New(staking.Params{
		MinimumValidatorStake: xuint256.FromUint64(100),
		UnbondingBlocks:       10,
	})
	var members []consensus.ValidatorInfo
	for b, amount := range stakes {
		require.NoError(t, st.RegisterValidator(addr(b), xuint256.FromUint64(amount)))
	}
	for _, vs := range st.ActiveValidators() {
		members = append(members, consensus.ValidatorInfo{Address: vs.Address, Stake: vs.Stake})
	}
	consensus.SortMembersByAddress(members)
	set, err := consensus.NewValidatorSet(members)
	require.NoError(t, err)

	m, err := NewManager(cfg, st, set, quietLogger())
	require.NoError(t, err)
	return m, st
}

func TestNewManagerValidation(t *testing.T) {
	cfg := testConfig()
	cfg.EpochLength = 0
	_, err := NewManager(cfg, nil, nil, quietLogger())
	require.Error(t, err)

	cfg = testConfig()
	cfg.InactivitySlashDen = 0
	_, err = NewManager(cfg, nil, nil, quietLogger())
	require.Error(t, err)
}

func TestSetSizeClampedToBitmapWidth(t *testing.T) {
	cfg := testConfig()
	cfg.ValidatorSetSize = 100
	m, _ := buildManager(t, cfg, map[byte]uint64{1: 1_000})
	require.Equal(t, consensus.MaxValidators, m.cfg.ValidatorSetSize)
}

func TestIsBoundary(t *testing.T) {
	m, _ := buildManager(t, testConfig(), map[byte]uint64{1: 1_000})
	require.False(t, m.IsBoundary(0))
	require.False(t, m.IsBoundary(9))
	require.True(t, m.IsBoundary(10))
	require.True(t, m.IsBoundary(20))
	require.False(t, m.IsBoundary(21))
}

func TestBoundaryRebuildsSetFromStake(t *testing.T) {
	m, st := buildManager(t, testConfig(), map[byte]uint64{1: 1_000, 2: 2_000})

	// A third validator registers mid-epoch; it joins only at the
	// boundary, with placeholder keys.
	require.NoError(t, st.RegisterValidator(addr(3), xuint256.FromUint64(3_000)))
	require.Equal(t, 2, m.CurrentSet().Len())

	newSet, err := m.OnBoundary(10)
	require.NoError(t, err)
	require.Equal(t, 3, newSet.Len())
	require.Equal(t, uint64(1), m.Epoch())

	v, ok := newSet.ByAddress(addr(3))
	require.True(t, ok)
	require.True(t, v.BLSKey.IsZero(), "new validator must carry a placeholder BLS key")
}

func TestBoundaryCarriesKeysForSurvivors(t *testing.T) {
	m, _ := buildManager(t, testConfig(), map[byte]uint64{1: 1_000, 2: 2_000})

	// Give validator 1 a real identity before the boundary.
	edPub, _, err := cryptoprims.GenerateEd25519()
	require.NoError(t, err)
	blsPub, _, err := cryptoprims.GenerateBLS()
	require.NoError(t, err)

	// The genesis set in this test carries placeholders, so the first
	// authenticated handshake installs the real keys.
	newSet, changed, err := m.RegisterIdentity(addr(1), edPub, blsPub)
	require.NoError(t, err)
	require.True(t, changed)
	v, _ := newSet.ByAddress(addr(1))
	require.Equal(t, blsPub, v.BLSKey)

	// Keys survive the epoch boundary.
	afterBoundary, err := m.OnBoundary(10)
	require.NoError(t, err)
	v, ok := afterBoundary.ByAddress(addr(1))
	require.True(t, ok)
	require.Equal(t, blsPub, v.BLSKey)
	require.Equal(t, edPub, v.Ed25519Key)
}

func TestInactivitySlashing(t *testing.T) {
	m, st := buildManager(t, testConfig(), map[byte]uint64{1: 1_000, 2: 2_000, 3: 4_000})

	set := m.CurrentSet()
	idle, ok := set.ByAddress(addr(2))
	require.True(t, ok)

	// Ten blocks; every validator except the idle one signs all of
	// them, the idle one signs two (20% < 50% threshold).
	full := uint64(0)
	for i := 0; i < set.Len(); i++ {
		full |= 1 << uint(i)
	}
	withoutIdle := full &^ (1 << uint(idle.Index))
	for i := 0; i < 10; i++ {
		bm := withoutIdle
		if i < 2 {
			bm = full
		}
		m.RecordCommitBitmap(bm)
	}

	before, _ := st.Get(addr(2))
	_, err := m.OnBoundary(10)
	require.NoError(t, err)
	after, _ := st.Get(addr(2))

	// 5% of 2000 = 100 slashed.
	require.Equal(t, "2000", before.TotalStake.String())
	require.Equal(t, "1900", after.TotalStake.String())

	hist := st.SlashHistory()
	require.Len(t, hist, 1)
	require.Equal(t, addr(2), hist[0].Validator)
	require.Equal(t, "inactivity", hist[0].Reason)
}

func TestBitmapsClearedAcrossEpochs(t *testing.T) {
	m, st := buildManager(t, testConfig(), map[byte]uint64{1: 1_000, 2: 2_000})

	// Validator 2 idle for all of epoch 0.
	set := m.CurrentSet()
	idle, _ := set.ByAddress(addr(2))
	var active uint64
	for i := 0; i < set.Len(); i++ {
		if i != idle.Index {
			active |= 1 << uint(i)
		}
	}
	for i := 0; i < 10; i++ {
		m.RecordCommitBitmap(active)
	}
	_, err := m.OnBoundary(10)
	require.NoError(t, err)
	require.Len(t, st.SlashHistory(), 1)

	// Epoch 1 has no recorded bitmaps; the next boundary slashes nobody.
	_, err = m.OnBoundary(20)
	require.NoError(t, err)
	require.Len(t, st.SlashHistory(), 1)
}
