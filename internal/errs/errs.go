// Package errs defines the semantic error taxonomy shared across Basalt's
// core components. Every exported function in the node returns one of
// these kinds (attached with context via Wrap or New) rather
// than an ad-hoc error string, so callers at any layer can branch with
// errors.Is without parsing messages.
package errs

import "errors"

// Kind sentinels, one per semantic error class.
var (
	// ErrInputMalformed covers codec failures, oversized lengths, non-minimal
	// varints, malformed hex — the bytes themselves could not be parsed.
	ErrInputMalformed = errors.New("input malformed")

	// ErrInputInvalid covers well-formed but semantically rejected input:
	// bad signature, wrong chain id, wrong nonce, insufficient balance.
	ErrInputInvalid = errors.New("input invalid")

	// ErrAuthInvalid covers unknown sender/validator, active ban, peer-id
	// mismatch.
	ErrAuthInvalid = errors.New("auth invalid")

	// ErrResourceExhausted covers connection limits, full mempool with no
	// evictable entry, gas exhaustion, sandbox timeout.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConflict covers parent-hash mismatch, double-sign evidence,
	// state-root mismatch.
	ErrConflict = errors.New("conflict")

	// ErrTransient covers network timeouts, partial sync-batch failure,
	// peer disconnects — safe to retry.
	ErrTransient = errors.New("transient")

	// ErrInternal covers storage corruption and invariant violations that
	// should be unreachable in correct operation.
	ErrInternal = errors.New("internal")
)

// Wrap annotates err with op and associates it with kind so that
// errors.Is(wrapped, kind) succeeds while errors.Unwrap still reaches err.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{op: op, kind: kind, err: err}
}

// New creates a fresh error of the given kind with no wrapped cause.
func New(kind error, op, msg string) error {
	return &wrapped{op: op, kind: kind, err: errors.New(msg)}
}

type wrapped struct {
	op   string
	kind error
	err  error
}

func (w *wrapped) Error() string { return w.op + ": " + w.err.Error() }

func (w *wrapped) Unwrap() error { return w.err }

func (w *wrapped) Is(target error) bool { return target == w.kind }
