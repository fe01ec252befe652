package txn

import (
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/sandbox"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// ExecEnv is everything Execute needs beyond the transaction itself.
// Receipt.CumulativeGasUsed and BlockHash/TxIndex are left for the block
// builder to fill in once a transaction's position in the block is known.
type ExecEnv struct {
	Ref     *statedb.Ref
	Runtime sandbox.Runtime
	Code    []byte // contract bytecode for Deploy/Call; unused otherwise
	ChainID uint32
	BaseFee xuint256.U256
	Block   sandbox.BlockInfo
}

// Execute runs tx's five-step pipeline against env.Ref: validate, charge
// intrinsic gas and increment the sender's nonce unconditionally, then
// either a direct checked transfer or a forked contract call that is
// swapped in on success and discarded (keeping only the gas-and-nonce
// deduction already applied) on failure.
func Execute(tx *Transaction, env *ExecEnv) (*Receipt, error) {
	if err := validate(tx, env); err != nil {
		return nil, err
	}

	canonical := env.Ref.Get()
	senderAcc, ok, err := canonical.GetAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		senderAcc = statedb.ZeroAccount
	}

	intrinsic := IntrinsicGas(tx)
	effectiveGasPrice := EffectiveGasPrice(tx, env.BaseFee)

	// Step 2: charge intrinsic gas and increment nonce first, on every
	// path, before any contract logic runs.
	senderAcc.Nonce++
	if err := chargeGas(&senderAcc, effectiveGasPrice, intrinsic); err != nil {
		return nil, err
	}
	if err := canonical.PutAccount(tx.Sender, senderAcc); err != nil {
		return nil, err
	}

	switch tx.Type {
	case TypeContractDeploy, TypeContractCall:
		return executeContract(tx, env, intrinsic, effectiveGasPrice)
	default:
		return executeTransfer(tx, canonical, intrinsic, effectiveGasPrice)
	}
}

func validate(tx *Transaction, env *ExecEnv) error {
	if err := VerifySignature(tx); err != nil {
		return err
	}
	if tx.ChainID != env.ChainID {
		return errs.New(errs.ErrInputInvalid, "txn.Execute", "chain id mismatch")
	}
	if len(tx.Data) > MaxDataLen {
		return errs.New(errs.ErrInputMalformed, "txn.Execute", "data exceeds cap")
	}
	if tx.GasLimit < IntrinsicGas(tx) {
		return errs.New(errs.ErrInputInvalid, "txn.Execute", "gas limit below intrinsic gas")
	}
	if tx.MaxFeePerGas.LessThan(tx.MaxPriorityFeePerGas) {
		return errs.New(errs.ErrInputInvalid, "txn.Execute", "priority fee exceeds max fee")
	}

	canonical := env.Ref.Get()
	senderAcc, ok, err := canonical.GetAccount(tx.Sender)
	if err != nil {
		return err
	}
	if !ok {
		senderAcc = statedb.ZeroAccount
	}
	if senderAcc.Nonce != tx.Nonce {
		return errs.New(errs.ErrConflict, "txn.Execute", "nonce mismatch")
	}

	effectiveGasPrice := EffectiveGasPrice(tx, env.BaseFee)
	gasCost, ok := effectiveGasPrice.CheckedMul(xuint256.FromUint64(tx.GasLimit))
	if !ok {
		return errs.New(errs.ErrInputInvalid, "txn.Execute", "gas cost overflow")
	}
	required, ok := gasCost.CheckedAdd(tx.Value)
	if !ok {
		return errs.New(errs.ErrInputInvalid, "txn.Execute", "required balance overflow")
	}
	if senderAcc.Balance.LessThan(required) {
		return errs.New(errs.ErrResourceExhausted, "txn.Execute", "insufficient balance for gas and value")
	}
	return nil
}

// chargeGas debits acc's balance for gasUnits at price, in place.
func chargeGas(acc *statedb.AccountState, price xuint256.U256, gasUnits uint64) error {
	cost, ok := price.CheckedMul(xuint256.FromUint64(gasUnits))
	if !ok {
		return errs.New(errs.ErrInternal, "txn.chargeGas", "gas cost overflow")
	}
	newBal, ok := acc.Balance.CheckedSub(cost)
	if !ok {
		return errs.New(errs.ErrResourceExhausted, "txn.chargeGas", "insufficient balance for gas")
	}
	acc.Balance = newBal
	return nil
}

func executeTransfer(tx *Transaction, state statedb.StateDB, intrinsic uint64, price xuint256.U256) (*Receipt, error) {
	if tx.Value.IsZero() {
		return successReceipt(intrinsic, price, nil), nil
	}
	senderAcc, _, err := state.GetAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	newSenderBal, ok := senderAcc.Balance.CheckedSub(tx.Value)
	if !ok {
		return failureReceipt(intrinsic, price), nil
	}
	recipientAcc, ok, err := state.GetAccount(tx.To)
	if err != nil {
		return nil, err
	}
	if !ok {
		recipientAcc = statedb.ZeroAccount
	}
	newRecipientBal, ok := recipientAcc.Balance.CheckedAdd(tx.Value)
	if !ok {
		return failureReceipt(intrinsic, price), nil
	}

	senderAcc.Balance = newSenderBal
	if err := state.PutAccount(tx.Sender, senderAcc); err != nil {
		return nil, err
	}
	recipientAcc.Balance = newRecipientBal
	if err := state.PutAccount(tx.To, recipientAcc); err != nil {
		return nil, err
	}
	return successReceipt(intrinsic, price, nil), nil
}

func executeContract(tx *Transaction, env *ExecEnv, intrinsic uint64, price xuint256.U256) (*Receipt, error) {
	fork := env.Ref.Fork()
	remaining := tx.GasLimit - intrinsic
	meter := NewMeter(remaining)

	execCtx := sandbox.NewRootContext(fork, meter, env.Block, tx.Sender, tx.To, tx.Value)
	result, err := sandbox.Dispatch(env.Runtime, env.Code, execCtx, tx.Data)
	if err != nil {
		// Discard fork: only the gas-and-nonce deduction already applied
		// to the canonical state survives.
		return failureReceipt(intrinsic, price), nil
	}

	env.Ref.Swap(fork)

	executionGas := meter.Used()
	newCanonical := env.Ref.Get()
	senderAcc, _, err := newCanonical.GetAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	if err := chargeGas(&senderAcc, price, executionGas); err != nil {
		// Execution already committed; an additional-fee failure here is
		// an internal inconsistency (the balance check in validate()
		// reserved for the full gas limit), not a tx-level failure.
		return nil, err
	}
	if err := newCanonical.PutAccount(tx.Sender, senderAcc); err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(execCtx.Logs))
	for _, l := range execCtx.Logs {
		logs = append(logs, Log{Address: l.Address, Topics: l.Topics, Data: l.Data})
	}
	_ = result
	return successReceipt(intrinsic+executionGas, price, logs), nil
}

func successReceipt(gasUsed uint64, price xuint256.U256, logs []Log) *Receipt {
	return &Receipt{Success: true, GasUsed: gasUsed, EffectiveGasPrice: price, Logs: logs}
}

func failureReceipt(gasUsed uint64, price xuint256.U256) *Receipt {
	return &Receipt{Success: false, GasUsed: gasUsed, EffectiveGasPrice: price}
}
