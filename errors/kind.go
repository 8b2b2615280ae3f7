package errors

import "errors"

// Kind classifies an error by failure taxonomy. The kind travels with the
// error (GetKind); the dispatcher does not branch on it: every error a
// request handler returns is written to the client and recovered at the
// next Sync.
type Kind string

const (
	// KindProtocol covers malformed messages, unexpected tags, wrong
	// lengths, reserved bits set, and out-of-order handshakes.
	KindProtocol Kind = "protocol"
	// KindAuthentication covers trust/SCRAM/bearer-token failures. Always
	// surfaced to the client as a single generic message.
	KindAuthentication Kind = "authentication"
	// KindInputData covers parameter-stream mismatches: wrong counts, NULL
	// in a required slot, NULL inside an array, trailing bytes, and
	// unsupported ndims/bound. Recoverable via Sync.
	KindInputData Kind = "input_data"
	// KindQuery covers compilation-time, capability, and argument
	// validation errors. Recoverable via Sync.
	KindQuery Kind = "query"
	// KindStateMismatch is raised when the client's state descriptor is
	// stale; the server has already emitted a fresh descriptor before this
	// error is written.
	KindStateMismatch Kind = "state_mismatch"
	// KindBackend covers errors from the SQL backend, interpreted through
	// the schema-aware interpreter.
	KindBackend Kind = "backend"
	// KindAvailability covers transient/availability conditions: the
	// server is blocked or offline, or an idle timeout fired.
	KindAvailability Kind = "availability"
	// KindCancellation marks a cancellation caused by transport loss while
	// an operation was running. It is never reported to the client.
	KindCancellation Kind = "cancellation"
)

// WithKind decorates the error with its taxonomy kind.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}

	return &withKind{cause: err, kind: kind}
}

// GetKind returns the taxonomy kind inside the given error, or an empty
// Kind if none was attached.
func GetKind(err error) Kind {
	if k, ok := err.(*withKind); ok {
		return k.kind
	}

	if n := errors.Unwrap(err); n != nil {
		return GetKind(n)
	}

	return ""
}

type withKind struct {
	cause error
	kind  Kind
}

func (w *withKind) Error() string { return w.cause.Error() }
func (w *withKind) Unwrap() error { return w.cause }
