// Package staking tracks validator registrations, delegated stake, the
// unbonding queue, and slashing. Every read-modify-write path — register,
// stake, unstake, delegate, slash, unbonding drain — runs under one
// mutex, and no path performs blocking I/O inside it.
//
// Delegation records are stored in a single owning map (address →
// StakeInfo, delegators inside); the delegator → validators index is
// derived from the primary map and never independently mutated, so
// reference cycles cannot form.
package staking

import (
	"sort"
	"sync"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// StakeInfo is one validator's full staking record. TotalStake always
// equals SelfStake plus the sum over Delegators; Active is true iff
// SelfStake is at or above the configured minimum.
type StakeInfo struct {
	SelfStake      xuint256.U256
	DelegatedStake xuint256.U256
	TotalStake     xuint256.U256
	Delegators     map[AddressID]xuint256.U256
	Active         bool
}

// clone deep-copies the record so callers outside the lock never share
// the live Delegators map.
func (s *StakeInfo) clone() StakeInfo {
	out := *s
	out.Delegators = make(map[AddressID]xuint256.U256, len(s.Delegators))
	for k, v := range s.Delegators {
		out.Delegators[k] = v
	}
	return out
}

// UnbondingEntry is one pending withdrawal, released once the chain
// reaches CompletionBlock.
type UnbondingEntry struct {
	Validator       AddressID
	Delegator       AddressID // equal to Validator for self-stake withdrawals
	Amount          xuint256.U256
	CompletionBlock uint64
}

// SlashEvent records one applied slash, written in the same critical
// section that deducts the stake.
type SlashEvent struct {
	Validator AddressID
	Amount    xuint256.U256
	Block     uint64
	Reason    string
}

// Params configures the staking module.
type Params struct {
	MinimumValidatorStake xuint256.U256
	UnbondingBlocks       uint64
}

// State is the staking bookkeeping for the whole validator population.
type State struct {
	mu         sync.Mutex
	params     Params
	validators map[AddressID]*StakeInfo
	unbonding  []UnbondingEntry // sorted ascending by CompletionBlock
	history    []SlashEvent
}

// New creates an empty staking state.
func New(params Params) *State {
	return &State{
		params:     params,
		validators: make(map[AddressID]*StakeInfo),
	}
}

// RegisterValidator admits a new validator with an initial self-stake.
// Registration below the minimum stake and duplicate registration are
// both rejected.
func (s *State) RegisterValidator(addr AddressID, amount xuint256.U256) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.validators[addr]; exists {
		return errs.New(errs.ErrConflict, "staking.RegisterValidator", "validator already registered")
	}
	if amount.LessThan(s.params.MinimumValidatorStake) {
		return errs.New(errs.ErrInputInvalid, "staking.RegisterValidator", "stake below minimum")
	}
	s.validators[addr] = &StakeInfo{
		SelfStake:  amount,
		TotalStake: amount,
		Delegators: make(map[AddressID]xuint256.U256),
		Active:     true,
	}
	return nil
}

// AddStake increases a registered validator's self-stake.
func (s *State) AddStake(addr AddressID, amount xuint256.U256) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.validators[addr]
	if !ok {
		return errs.New(errs.ErrAuthInvalid, "staking.AddStake", "unknown validator")
	}
	newSelf, ok := info.SelfStake.CheckedAdd(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.AddStake", "self stake overflow")
	}
	newTotal, ok := info.TotalStake.CheckedAdd(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.AddStake", "total stake overflow")
	}
	info.SelfStake = newSelf
	info.TotalStake = newTotal
	info.Active = !info.SelfStake.LessThan(s.params.MinimumValidatorStake)
	return nil
}

// InitiateUnstake queues a self-stake withdrawal. A full unstake
// deactivates the validator; a partial unstake that would leave the
// remaining self-stake below the minimum is rejected outright.
func (s *State) InitiateUnstake(addr AddressID, amount xuint256.U256, currentBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.validators[addr]
	if !ok {
		return errs.New(errs.ErrAuthInvalid, "staking.InitiateUnstake", "unknown validator")
	}
	remaining, ok := info.SelfStake.CheckedSub(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.InitiateUnstake", "amount exceeds self stake")
	}
	if !remaining.IsZero() && remaining.LessThan(s.params.MinimumValidatorStake) {
		return errs.New(errs.ErrInputInvalid, "staking.InitiateUnstake", "partial unstake would leave stake below minimum")
	}

	info.SelfStake = remaining
	newTotal, ok := info.TotalStake.CheckedSub(amount)
	if !ok {
		return errs.New(errs.ErrInternal, "staking.InitiateUnstake", "total stake underflow")
	}
	info.TotalStake = newTotal
	if remaining.IsZero() {
		info.Active = false
	}

	s.enqueueUnbonding(UnbondingEntry{
		Validator:       addr,
		Delegator:       addr,
		Amount:          amount,
		CompletionBlock: currentBlock + s.params.UnbondingBlocks,
	})
	return nil
}

// Delegate adds delegated stake from one address to an active validator.
func (s *State) Delegate(from, to AddressID, amount xuint256.U256) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.validators[to]
	if !ok {
		return errs.New(errs.ErrAuthInvalid, "staking.Delegate", "unknown validator")
	}
	if !info.Active {
		return errs.New(errs.ErrInputInvalid, "staking.Delegate", "target validator is not active")
	}
	existing := info.Delegators[from]
	newDelegation, ok := existing.CheckedAdd(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.Delegate", "delegation overflow")
	}
	newDelegated, ok := info.DelegatedStake.CheckedAdd(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.Delegate", "delegated stake overflow")
	}
	newTotal, ok := info.TotalStake.CheckedAdd(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.Delegate", "total stake overflow")
	}
	info.Delegators[from] = newDelegation
	info.DelegatedStake = newDelegated
	info.TotalStake = newTotal
	return nil
}

// Undelegate queues withdrawal of part or all of a delegation.
func (s *State) Undelegate(from, to AddressID, amount xuint256.U256, currentBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.validators[to]
	if !ok {
		return errs.New(errs.ErrAuthInvalid, "staking.Undelegate", "unknown validator")
	}
	existing, ok := info.Delegators[from]
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.Undelegate", "no delegation from this address")
	}
	remaining, ok := existing.CheckedSub(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "staking.Undelegate", "amount exceeds delegation")
	}
	if remaining.IsZero() {
		delete(info.Delegators, from)
	} else {
		info.Delegators[from] = remaining
	}
	newDelegated, ok := info.DelegatedStake.CheckedSub(amount)
	if !ok {
		return errs.New(errs.ErrInternal, "staking.Undelegate", "delegated stake underflow")
	}
	newTotal, ok := info.TotalStake.CheckedSub(amount)
	if !ok {
		return errs.New(errs.ErrInternal, "staking.Undelegate", "total stake underflow")
	}
	info.DelegatedStake = newDelegated
	info.TotalStake = newTotal

	s.enqueueUnbonding(UnbondingEntry{
		Validator:       to,
		Delegator:       from,
		Amount:          amount,
		CompletionBlock: currentBlock + s.params.UnbondingBlocks,
	})
	return nil
}

func (s *State) enqueueUnbonding(e UnbondingEntry) {
	idx := sort.Search(len(s.unbonding), func(i int) bool {
		return s.unbonding[i].CompletionBlock > e.CompletionBlock
	})
	s.unbonding = append(s.unbonding, UnbondingEntry{})
	copy(s.unbonding[idx+1:], s.unbonding[idx:])
	s.unbonding[idx] = e
}

// ProcessUnbonding drains every entry whose completion block has been
// reached, in one pass, and returns them for payout.
func (s *State) ProcessUnbonding(currentBlock uint64) []UnbondingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := sort.Search(len(s.unbonding), func(i int) bool {
		return s.unbonding[i].CompletionBlock > currentBlock
	})
	if cut == 0 {
		return nil
	}
	completed := make([]UnbondingEntry, cut)
	copy(completed, s.unbonding[:cut])
	s.unbonding = append(s.unbonding[:0], s.unbonding[cut:]...)
	return completed
}

// ApplySlash deducts numerator/denominator of the validator's total
// stake, capped at the total. Self-stake is slashed first; any remainder
// comes out of delegations in ascending address order so the deduction
// is deterministic. The slash event is recorded inside the same critical
// section that mutates the stake.
func (s *State) ApplySlash(addr AddressID, numerator, denominator uint64, currentBlock uint64, reason string) (xuint256.U256, error) {
	if denominator == 0 || numerator > denominator {
		return xuint256.Zero(), errs.New(errs.ErrInputInvalid, "staking.ApplySlash", "invalid slash fraction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.validators[addr]
	if !ok {
		return xuint256.Zero(), errs.New(errs.ErrAuthInvalid, "staking.ApplySlash", "unknown validator")
	}

	amount, ok := info.TotalStake.CheckedMul(xuint256.FromUint64(numerator))
	if !ok {
		amount = info.TotalStake
	} else {
		amount, _ = amount.CheckedDiv(xuint256.FromUint64(denominator))
	}
	if info.TotalStake.LessThan(amount) {
		amount = info.TotalStake
	}

	remaining := amount
	if !info.SelfStake.LessThan(remaining) {
		info.SelfStake, _ = info.SelfStake.CheckedSub(remaining)
		remaining = xuint256.Zero()
	} else {
		remaining, _ = remaining.CheckedSub(info.SelfStake)
		info.SelfStake = xuint256.Zero()
	}
	if !remaining.IsZero() {
		for _, del := range sortedAddresses(info.Delegators) {
			bal := info.Delegators[del]
			if !bal.LessThan(remaining) {
				info.Delegators[del], _ = bal.CheckedSub(remaining)
				remaining = xuint256.Zero()
			} else {
				remaining, _ = remaining.CheckedSub(bal)
				delete(info.Delegators, del)
			}
			if remaining.IsZero() {
				break
			}
		}
	}

	info.DelegatedStake = sumDelegations(info.Delegators)
	info.TotalStake, _ = info.SelfStake.CheckedAdd(info.DelegatedStake)
	info.Active = !info.SelfStake.LessThan(s.params.MinimumValidatorStake)

	s.history = append(s.history, SlashEvent{
		Validator: addr,
		Amount:    amount,
		Block:     currentBlock,
		Reason:    reason,
	})
	return amount, nil
}

// Get returns a deep copy of one validator's record.
func (s *State) Get(addr AddressID) (StakeInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.validators[addr]
	if !ok {
		return StakeInfo{}, false
	}
	return info.clone(), true
}

// ActiveValidators returns every active validator sorted descending by
// total stake, ties broken by ascending address so the ordering is
// deterministic across nodes.
func (s *State) ActiveValidators() []ValidatorStake {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ValidatorStake, 0, len(s.validators))
	for addr, info := range s.validators {
		if !info.Active {
			continue
		}
		out = append(out, ValidatorStake{Address: addr, Stake: info.TotalStake})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Stake.Cmp(out[j].Stake); c != 0 {
			return c > 0
		}
		return lessAddress(out[i].Address, out[j].Address)
	})
	return out
}

// DelegationsOf derives the delegator → validators view from the primary
// map. It is recomputed on every call, never stored, so it cannot drift
// from the owning records.
func (s *State) DelegationsOf(delegator AddressID) []AddressID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AddressID
	for addr, info := range s.validators {
		if _, ok := info.Delegators[delegator]; ok {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessAddress(out[i], out[j]) })
	return out
}

// SlashHistory returns a copy of all recorded slash events.
func (s *State) SlashHistory() []SlashEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SlashEvent, len(s.history))
	copy(out, s.history)
	return out
}

// ValidatorStake pairs an address with its total stake for set-selection
// purposes.
type ValidatorStake struct {
	Address AddressID
	Stake   xuint256.U256
}

func sortedAddresses(m map[AddressID]xuint256.U256) []AddressID {
	out := make([]AddressID, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return lessAddress(out[i], out[j]) })
	return out
}

func lessAddress(a, b AddressID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sumDelegations(m map[AddressID]xuint256.U256) xuint256.U256 {
	total := xuint256.Zero()
	for _, v := range m {
		total, _ = total.CheckedAdd(v)
	}
	return total
}
