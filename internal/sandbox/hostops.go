package sandbox

import (
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// GetBalance returns the balance of addr.
func GetBalance(ctx *ExecContext, addr AddressID) (xuint256.U256, error) {
	acc, ok, err := ctx.State.GetAccount(addr)
	if err != nil {
		return xuint256.Zero(), err
	}
	if !ok {
		return xuint256.Zero(), nil
	}
	return acc.Balance, nil
}

// Transfer moves amount from ctx.Self to to, via checked arithmetic on
// both sides so a transfer can never silently under/overflow a balance.
func Transfer(ctx *ExecContext, to AddressID, amount xuint256.U256) error {
	from := ctx.Self
	fromAcc, ok, err := ctx.State.GetAccount(from)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.ErrInputInvalid, "sandbox.Transfer", "sender account does not exist")
	}
	newFromBal, ok := fromAcc.Balance.CheckedSub(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "sandbox.Transfer", "insufficient balance")
	}

	toAcc, ok, err := ctx.State.GetAccount(to)
	if err != nil {
		return err
	}
	if !ok {
		toAcc.Balance = xuint256.Zero()
	}
	newToBal, ok := toAcc.Balance.CheckedAdd(amount)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "sandbox.Transfer", "recipient balance overflow")
	}

	fromAcc.Balance = newFromBal
	if err := ctx.State.PutAccount(from, fromAcc); err != nil {
		return err
	}
	toAcc.Balance = newToBal
	return ctx.State.PutAccount(to, toAcc)
}

// SStoreGet reads one storage slot of ctx.Self.
func SStoreGet(ctx *ExecContext, slot Hash256) ([]byte, error) {
	val, _, err := ctx.State.GetStorage(ctx.Self, slot)
	return val, err
}

// SStoreSet writes one storage slot of ctx.Self.
func SStoreSet(ctx *ExecContext, slot Hash256, value []byte) error {
	return ctx.State.SetStorage(ctx.Self, slot, value)
}

// EmitLog appends a log entry attributed to ctx.Self.
func EmitLog(ctx *ExecContext, topics []Hash256, data []byte) {
	ctx.Logs = append(ctx.Logs, Log{Address: ctx.Self, Topics: topics, Data: data})
}

// SelfAddress returns the address the currently executing code runs as.
func SelfAddress(ctx *ExecContext) AddressID { return ctx.Self }

// GetBlockInfo returns the block context visible to the currently
// executing call.
func GetBlockInfo(ctx *ExecContext) BlockInfo { return ctx.Block }

// CallContract dispatches a nested call into another contract's code,
// under the shared gas meter and an incremented depth. It rejects a
// reentrant target, and a nested call whose depth would reach
// MaxCallDepth, the same limit Dispatch applies at the entry point.
func CallContract(ctx *ExecContext, runtime Runtime, code []byte, target AddressID, value xuint256.U256, input []byte) (*Result, error) {
	if ctx.Reentered(target) {
		return nil, errs.New(errs.ErrConflict, "sandbox.CallContract", "reentrant call into active contract")
	}
	if ctx.Depth+1 >= MaxCallDepth {
		return nil, &HostFailure{GasUsed: 0, Reason: "call depth limit exceeded"}
	}
	child := ctx.Child(target, value)
	result, err := runtime.Execute(code, child, input)
	if err != nil {
		return nil, err
	}
	ctx.Logs = append(ctx.Logs, child.Logs...)
	return result, nil
}
