package sandbox

import (
	"context"
	"time"
)

// MaxCallDepth is the single call-depth limit, imported by both the
// SDK-facing Dispatch entry point and the VM-layer CallContract host
// function, so the two can never drift into different limits.
const MaxCallDepth = 8

// SandboxCallTimeout bounds the entire dispatch path — Wasmer instance
// setup included, not just guest-code execution.
const SandboxCallTimeout = 5 * time.Second

// Runtime executes one contract's compiled code against ctx, passing
// input as the call's argument buffer.
type Runtime interface {
	Execute(code []byte, ctx *ExecContext, input []byte) (*Result, error)
}

// Dispatch is the one entry point transaction execution calls into. It
// enforces the depth limit before doing anything else, then runs
// runtime.Execute under a timeout covering Wasmer setup and teardown.
func Dispatch(runtime Runtime, code []byte, ctx *ExecContext, input []byte) (*Result, error) {
	if runtime == nil {
		return nil, &HostFailure{GasUsed: 0, Reason: "no contract runtime configured"}
	}
	if ctx.Depth >= MaxCallDepth {
		return nil, &HostFailure{GasUsed: 0, Reason: "call depth limit exceeded"}
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	runCtx, cancel := context.WithTimeout(context.Background(), SandboxCallTimeout)
	defer cancel()

	go func() {
		result, err := runtime.Execute(code, ctx, input)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, &HostFailure{GasUsed: ctx.Meter.Used(), Reason: o.err.Error()}
		}
		return o.result, nil
	case <-runCtx.Done():
		return nil, &HostFailure{GasUsed: ctx.Meter.Used(), Reason: "execution timed out"}
	}
}
