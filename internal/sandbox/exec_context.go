// Package sandbox is the contract execution host: a finite set of named
// host calls a running contract can make, dispatched through
// github.com/wasmerio/wasmer-go against a forked statedb.StateDB, under
// a call-depth limit and execution timeout enforced once, identically,
// at both the SDK entry point and the VM layer.
package sandbox

import (
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/gasmeter"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// Log is one event a contract emitted during execution.
type Log struct {
	Address AddressID
	Topics  []Hash256
	Data    []byte
}

// BlockInfo is the subset of block context a contract may read.
type BlockInfo struct {
	Number      uint64
	TimestampMS uint64
	ChainID     uint32
}

// ExecContext is the explicit, per-call execution state every host
// function receives as its first argument — never read from package- or
// goroutine-level ambient state, so nested CallContract invocations
// cannot leak into or be confused with their caller's context.
type ExecContext struct {
	State statedb.StateDB
	Meter *gasmeter.Meter
	Block BlockInfo

	Self   AddressID
	Caller AddressID
	Value  xuint256.U256

	Depth     int
	CallStack map[AddressID]bool

	Logs []Log
}

// NewRootContext creates the top-level context for one transaction's
// execution, with an empty reentrancy call stack.
func NewRootContext(state statedb.StateDB, meter *gasmeter.Meter, block BlockInfo, caller, self AddressID, value xuint256.U256) *ExecContext {
	return &ExecContext{
		State:     state,
		Meter:     meter,
		Block:     block,
		Self:      self,
		Caller:    caller,
		Value:     value,
		Depth:     0,
		CallStack: map[AddressID]bool{self: true},
	}
}

// Child derives the context for a nested CallContract invocation. It
// shares the meter (gas is one budget across the whole call tree) and
// the reentrancy set, but gets its own Self/Caller/Value/Depth and its
// own Logs slice, merged back into the parent by the caller on success.
func (c *ExecContext) Child(target AddressID, value xuint256.U256) *ExecContext {
	stack := make(map[AddressID]bool, len(c.CallStack)+1)
	for k := range c.CallStack {
		stack[k] = true
	}
	stack[target] = true
	return &ExecContext{
		State:     c.State,
		Meter:     c.Meter,
		Block:     c.Block,
		Self:      target,
		Caller:    c.Self,
		Value:     value,
		Depth:     c.Depth + 1,
		CallStack: stack,
	}
}

// Reentered reports whether target already appears in the active call
// stack, i.e. a CallContract into it would be a reentrant call.
func (c *ExecContext) Reentered(target AddressID) bool {
	return c.CallStack[target]
}
