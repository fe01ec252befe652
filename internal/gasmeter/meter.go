// Package gasmeter provides the gas-accounting primitive shared by
// internal/txn (per-transaction metering) and internal/sandbox
// (per-host-call metering), kept separate from both so neither has to
// import the other just to share this type.
package gasmeter

import "github.com/Basalt-Foundation/basalt/internal/errs"

// Meter tracks consumption against a fixed limit. Every charge is
// checked as `amount > limit - used` rather than `used + amount >
// limit`, so a near-u64-max amount can never wrap the addition.
type Meter struct {
	limit uint64
	used  uint64
}

// New creates a meter with the given gas limit.
func New(limit uint64) *Meter { return &Meter{limit: limit} }

// Used returns gas consumed so far.
func (m *Meter) Used() uint64 { return m.used }

// Remaining returns gas left before the limit is hit.
func (m *Meter) Remaining() uint64 { return m.limit - m.used }

// Charge deducts amount, failing with ErrResourceExhausted if doing so
// would exceed the limit.
func (m *Meter) Charge(amount uint64) error {
	if amount > m.limit-m.used {
		return errs.New(errs.ErrResourceExhausted, "gasmeter.Meter.Charge", "out of gas")
	}
	m.used += amount
	return nil
}
