package sandbox

// FakeRuntime is a test double for Runtime: instead of compiling code as
// WebAssembly, it invokes a Go closure keyed by the code's exact bytes.
// This exercises Dispatch's depth-limit and timeout logic, and the host
// ops, without requiring a real .wasm module.
type FakeRuntime struct {
	Handlers map[string]func(ctx *ExecContext, input []byte) (*Result, error)
}

// NewFakeRuntime creates an empty FakeRuntime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{Handlers: make(map[string]func(ctx *ExecContext, input []byte) (*Result, error))}
}

// Execute implements Runtime by dispatching on string(code) as a key.
func (f *FakeRuntime) Execute(code []byte, ctx *ExecContext, input []byte) (*Result, error) {
	h, ok := f.Handlers[string(code)]
	if !ok {
		return &Result{}, nil
	}
	return h(ctx, input)
}
