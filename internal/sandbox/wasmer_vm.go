package sandbox

import (
	"errors"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
)

// WasmerRuntime runs contract bytecode as a WebAssembly module via
// wasmer-go, with the host calls in hostops.go registered as "env"
// imports. One engine is reused across calls; a fresh Store/Module pair
// is created per Execute, keeping each call's compile
// pattern.
type WasmerRuntime struct {
	engine *wasmer.Engine
}

// NewWasmerRuntime creates a runtime with its own Wasmer engine.
func NewWasmerRuntime() *WasmerRuntime {
	return &WasmerRuntime{engine: wasmer.NewEngine()}
}

type hostCtx struct {
	mem     *wasmer.Memory
	ctx     *ExecContext
	runtime *WasmerRuntime
	input   []byte
	result  []byte
	failed  bool
	reason  string
}

// Execute compiles and instantiates code, wires the host imports, and
// invokes its exported "_start" function.
func (r *WasmerRuntime) Execute(code []byte, ctx *ExecContext, input []byte) (*Result, error) {
	store := wasmer.NewStore(r.engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, err
	}

	h := &hostCtx{ctx: ctx, runtime: r, input: input}
	imports := registerHost(store, h)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, err
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("sandbox: wasm module exports no memory")
	}
	h.mem = mem

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return nil, errors.New("sandbox: wasm module exports no _start function")
	}
	if _, err := start(); err != nil {
		return nil, err
	}
	if h.failed {
		return nil, &HostFailure{GasUsed: ctx.Meter.Used(), Reason: h.reason}
	}

	return &Result{ReturnData: h.result, GasUsed: ctx.Meter.Used()}, nil
}

func (h *hostCtx) read(ptr, length int32) []byte {
	raw := h.mem.Data()[ptr : ptr+length]
	out := make([]byte, length)
	copy(out, raw)
	return out
}

func (h *hostCtx) write(ptr int32, data []byte) {
	copy(h.mem.Data()[ptr:], data)
}

// registerHost binds the sandbox's fixed host-call set as "env" imports
// against h. The bindings do not charge gas through h.ctx.Meter; work
// done inside these host calls is not metered.
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))
	i32i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32))
	i32i32i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32))
	noArgs := wasmer.NewValueTypes()

	hostGetBalance := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr, dstPtr := args[0].I32(), args[1].I32()
			var addr cryptoprims.AddressID
			copy(addr[:], h.read(addrPtr, 20))
			bal, err := GetBalance(h.ctx, addr)
			if err != nil {
				h.fail(err)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			b := bal.Bytes32()
			h.write(dstPtr, b[:])
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostSStoreGet := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			slotPtr, dstPtr := args[0].I32(), args[1].I32()
			var slot Hash256
			copy(slot[:], h.read(slotPtr, 32))
			val, err := SStoreGet(h.ctx, slot)
			if err != nil {
				h.fail(err)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.write(dstPtr, val)
			return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
		},
	)

	hostSStoreSet := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			slotPtr, valPtr, valLen := args[0].I32(), args[1].I32(), args[2].I32()
			var slot Hash256
			copy(slot[:], h.read(slotPtr, 32))
			val := h.read(valPtr, valLen)
			if err := SStoreSet(h.ctx, slot, val); err != nil {
				h.fail(err)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostEmitLog := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32i32, noArgs),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, length := args[0].I32(), args[1].I32()
			data := h.read(ptr, length)
			EmitLog(h.ctx, nil, data)
			return []wasmer.Value{}, nil
		},
	)

	hostReturn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32i32, noArgs),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, length := args[0].I32(), args[1].I32()
			h.result = h.read(ptr, length)
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_get_balance": hostGetBalance,
		"host_sstore_get":  hostSStoreGet,
		"host_sstore_set":  hostSStoreSet,
		"host_emit_log":    hostEmitLog,
		"host_return":      hostReturn,
	})
	return imports
}

func (h *hostCtx) fail(err error) {
	h.failed = true
	h.reason = err.Error()
}
