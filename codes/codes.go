// Package codes defines the numeric error codes carried in Error messages.
// Codes are organized into classes by their leading byte so a client can
// make coarse-grained decisions (e.g. "is this any kind of QueryError")
// without enumerating every leaf code.
package codes

// Code represents a 4-byte, big-endian error code sent in an Error message.
type Code uint32

// Class masks the leading byte of a Code, identifying its broad category.
func (c Code) Class() Code {
	return c & 0xff000000
}

// HasClass reports whether c belongs to the given class.
func (c Code) HasClass(class Code) bool {
	return c.Class() == class
}

const (
	// Class 01 - Internal Server Error
	InternalServerError Code = 0x01000000

	// Class 02 - Unsupported Feature
	UnsupportedFeatureError Code = 0x02000000

	// Class 03 - Protocol Error
	ProtocolError                   Code = 0x03000000
	BinaryProtocolError             Code = 0x03010000
	UnsupportedProtocolVersionError Code = 0x03010001
	TypeSpecNotFoundError           Code = 0x03010002
	UnexpectedMessageError          Code = 0x03010003
	InputDataError                  Code = 0x03020000
	ParameterTypeMismatchError      Code = 0x03020001
	StateMismatchError              Code = 0x03020002

	// Class 04 - Authentication Error
	AuthenticationError Code = 0x04000000

	// Class 05 - Query Error (compile time, capability checks, argument
	// validation against a compiled plan)
	QueryError              Code = 0x05000000
	InvalidSyntaxError      Code = 0x05010000
	DisabledCapabilityError Code = 0x05020000
	ParameterRequiredError  Code = 0x05030000

	// Class 06 - Execution Error (errors surfaced from the backend and
	// interpreted through the schema-aware interpreter)
	ExecutionError           Code = 0x06000000
	TransactionError         Code = 0x06010000
	TransactionConflictError Code = 0x06010001

	// Class 07 - Availability Error (transient / availability)
	AvailabilityError       Code = 0x07000000
	BackendUnavailableError Code = 0x07010000
	IdleSessionTimeoutError Code = 0x07020000

	// Class 08 - client cancellation. Never written to the wire; used only
	// to tag the cancellation error kind internally (see errors.KindCancellation).
	ClientCancellation Code = 0x08000000

	// Uncategorized is used for errors that have not been explicitly
	// classified and is treated like InternalServerError by clients.
	Uncategorized Code = InternalServerError
)
