// Package epoch detects epoch boundaries, rebuilds the validator set
// from staking state, and applies inactivity slashing from the commit
// bitmaps recorded at the end of each block. Bitmap indices are only
// meaningful within the set that produced them, so every record stores
// the epoch it belongs to and records from other epochs are never
// summed together.
package epoch

import (
	"math/bits"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/staking"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Config parameterizes the epoch manager. EpochLength must be non-zero;
// ValidatorSetSize is clamped to consensus.MaxValidators (the commit
// bitmap's word width) so the two can never disagree.
type Config struct {
	EpochLength      uint64
	ValidatorSetSize int

	// InactivityThresholdPct is the minimum share (0-100) of an epoch's
	// commit bitmaps a validator must appear in to avoid slashing.
	InactivityThresholdPct uint64

	// InactivitySlashNum/Den is the stake fraction slashed for
	// inactivity — deliberately small next to the 100% double-sign slash.
	InactivitySlashNum uint64
	InactivitySlashDen uint64
}

type bitmapRecord struct {
	epoch  uint64
	bitmap uint64
}

// Manager owns epoch bookkeeping for one node.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	staking *staking.State
	set     *consensus.ValidatorSet
	epoch   uint64
	records []bitmapRecord
	log     *logrus.Logger
}

// NewManager validates cfg and starts at epoch 0 with the genesis set.
func NewManager(cfg Config, st *staking.State, genesisSet *consensus.ValidatorSet, log *logrus.Logger) (*Manager, error) {
	if cfg.EpochLength == 0 {
		return nil, errs.New(errs.ErrInputInvalid, "epoch.NewManager", "epoch length must be non-zero")
	}
	if cfg.ValidatorSetSize <= 0 || cfg.ValidatorSetSize > consensus.MaxValidators {
		cfg.ValidatorSetSize = consensus.MaxValidators
	}
	if cfg.InactivitySlashDen == 0 {
		return nil, errs.New(errs.ErrInputInvalid, "epoch.NewManager", "inactivity slash denominator must be non-zero")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{cfg: cfg, staking: st, set: genesisSet, log: log}, nil
}

// Epoch returns the current epoch number.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// CurrentSet returns the active validator set.
func (m *Manager) CurrentSet() *consensus.ValidatorSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set
}

// IsBoundary reports whether finalizing blockNumber ends an epoch.
func (m *Manager) IsBoundary(blockNumber uint64) bool {
	return blockNumber > 0 && blockNumber%m.cfg.EpochLength == 0
}

// RecordCommitBitmap stores the commit bitmap recorded at the end of one
// finalized block, tagged with the epoch whose validator set the bit
// indices belong to.
func (m *Manager) RecordCommitBitmap(bitmap uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, bitmapRecord{epoch: m.epoch, bitmap: bitmap})
}

// OnBoundary applies inactivity slashing for the closing epoch, rebuilds
// the validator set from staking state, and advances the epoch counter.
// It returns the new set; the caller swaps it into the consensus engine.
func (m *Manager) OnBoundary(currentBlock uint64) (*consensus.ValidatorSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyInactivitySlashingLocked(currentBlock)

	newSet, err := m.rebuildSetLocked()
	if err != nil {
		return nil, err
	}
	m.set = newSet
	m.epoch++
	m.records = m.records[:0]
	m.log.WithFields(logrus.Fields{"epoch": m.epoch, "validators": newSet.Len()}).Info("epoch transition")
	return newSet, nil
}

// applyInactivitySlashingLocked sums each validator index's bits across
// the closing epoch's bitmaps and slashes everyone under the threshold.
func (m *Manager) applyInactivitySlashingLocked(currentBlock uint64) {
	var total int
	counts := make([]int, m.set.Len())
	for _, rec := range m.records {
		if rec.epoch != m.epoch {
			continue
		}
		total++
		bm := rec.bitmap
		for bm != 0 {
			i := bits.TrailingZeros64(bm)
			if i < len(counts) {
				counts[i]++
			}
			bm &^= 1 << uint(i)
		}
	}
	if total == 0 {
		return
	}

	for i, c := range counts {
		if uint64(c)*100 >= m.cfg.InactivityThresholdPct*uint64(total) {
			continue
		}
		v, ok := m.set.ByIndex(i)
		if !ok {
			continue
		}
		amount, err := m.staking.ApplySlash(v.Address, m.cfg.InactivitySlashNum, m.cfg.InactivitySlashDen, currentBlock, "inactivity")
		if err != nil {
			m.log.WithError(err).WithField("validator", v.Address).Warn("inactivity slash failed")
			continue
		}
		m.log.WithFields(logrus.Fields{
			"validator": v.Address,
			"signed":    c,
			"blocks":    total,
			"slashed":   amount,
		}).Info("slashed inactive validator")
	}
}

// rebuildSetLocked selects the next epoch's members: active validators
// sorted deterministically by address, capped at the configured size.
// PeerID, Ed25519, and BLS keys carry over from the prior set when the
// address matches; a genuinely new validator starts with placeholder
// keys and cannot sign consensus until its first authenticated
// handshake replaces them.
func (m *Manager) rebuildSetLocked() (*consensus.ValidatorSet, error) {
	active := m.staking.ActiveValidators()

	members := make([]consensus.ValidatorInfo, 0, len(active))
	for _, vs := range active {
		info := consensus.ValidatorInfo{Address: vs.Address, Stake: vs.Stake}
		if prev, ok := m.set.ByAddress(vs.Address); ok {
			info.PeerID = prev.PeerID
			info.Ed25519Key = prev.Ed25519Key
			info.BLSKey = prev.BLSKey
		}
		members = append(members, info)
	}
	consensus.SortMembersByAddress(members)
	if len(members) > m.cfg.ValidatorSetSize {
		members = members[:m.cfg.ValidatorSetSize]
	}
	return consensus.NewValidatorSet(members)
}

// RegisterIdentity fills in a validator's real keys after its first
// authenticated handshake, replacing the placeholder entries from
// rebuildSetLocked. The replacement produces a new set snapshot; the
// caller is responsible for handing it to the consensus engine.
func (m *Manager) RegisterIdentity(addr AddressID, edKey cryptoprims.Ed25519PublicKey, blsKey cryptoprims.BLSPublicKey) (*consensus.ValidatorSet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.set.ByAddress(addr)
	if !ok {
		return nil, false, nil
	}
	if !member.BLSKey.IsZero() {
		return nil, false, nil // identity already established
	}

	members := m.set.Members()
	for i := range members {
		if members[i].Address == addr {
			members[i].Ed25519Key = edKey
			members[i].BLSKey = blsKey
			members[i].PeerID = cryptoprims.DerivePeerID(edKey)
		}
	}
	newSet, err := consensus.NewValidatorSet(members)
	if err != nil {
		return nil, false, err
	}
	m.set = newSet
	return newSet, true, nil
}
