package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/gasmeter"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func addr(b byte) AddressID {
	var a AddressID
	a[19] = b
	return a
}

func newCtx() *ExecContext {
	state := statedb.NewMemoryStateDB()
	return NewRootContext(state, gasmeter.New(1_000_000), BlockInfo{Number: 1}, addr(1), addr(2), xuint256.Zero())
}

func TestGetBalanceAndTransfer(t *testing.T) {
	ctx := newCtx()
	require.NoError(t, ctx.State.PutAccount(ctx.Self, mustAccount(t, xuint256.FromUint64(500))))
	require.NoError(t, ctx.State.PutAccount(addr(3), mustAccount(t, xuint256.Zero())))

	require.NoError(t, Transfer(ctx, addr(3), xuint256.FromUint64(200)))

	fromBal, err := GetBalance(ctx, ctx.Self)
	require.NoError(t, err)
	require.Equal(t, xuint256.FromUint64(300).String(), fromBal.String())

	toBal, err := GetBalance(ctx, addr(3))
	require.NoError(t, err)
	require.Equal(t, xuint256.FromUint64(200).String(), toBal.String())
}

func TestTransferInsufficientBalanceFails(t *testing.T) {
	ctx := newCtx()
	require.NoError(t, ctx.State.PutAccount(ctx.Self, mustAccount(t, xuint256.FromUint64(10))))
	err := Transfer(ctx, addr(3), xuint256.FromUint64(200))
	require.Error(t, err)
}

func TestSStoreGetSetRoundTrip(t *testing.T) {
	ctx := newCtx()
	var slot Hash256
	slot[31] = 7
	require.NoError(t, SStoreSet(ctx, slot, []byte("hello")))
	got, err := SStoreGet(ctx, slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestEmitLogAppends(t *testing.T) {
	ctx := newCtx()
	EmitLog(ctx, []Hash256{{1}}, []byte("payload"))
	require.Len(t, ctx.Logs, 1)
	require.Equal(t, ctx.Self, ctx.Logs[0].Address)
}

func TestCallContractRejectsReentrancy(t *testing.T) {
	ctx := newCtx()
	runtime := NewFakeRuntime()
	_, err := CallContract(ctx, runtime, []byte("code"), ctx.Self, xuint256.Zero(), nil)
	require.Error(t, err)
}

func TestDispatchEnforcesDepthLimit(t *testing.T) {
	ctx := newCtx()
	ctx.Depth = MaxCallDepth
	runtime := NewFakeRuntime()
	_, err := Dispatch(runtime, []byte("code"), ctx, nil)
	require.Error(t, err)
	var hf *HostFailure
	require.ErrorAs(t, err, &hf)
}

func TestDispatchSucceedsUnderDepthLimit(t *testing.T) {
	ctx := newCtx()
	runtime := NewFakeRuntime()
	runtime.Handlers["code"] = func(ctx *ExecContext, input []byte) (*Result, error) {
		return &Result{ReturnData: []byte("ok")}, nil
	}
	res, err := Dispatch(runtime, []byte("code"), ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), res.ReturnData)
}

func mustAccount(t *testing.T, balance xuint256.U256) statedb.AccountState {
	t.Helper()
	return statedb.AccountState{Balance: balance}
}
