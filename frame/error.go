package frame

import (
	"errors"
	"fmt"
	"reflect"

	wireerrors "github.com/relaydb/wire/errors"
)

// ErrMissingNulTerminator is thrown when no NUL terminator is found while
// interpreting a message property as a string.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// NewMissingNulTerminator constructs an error wrapping
// ErrMissingNulTerminator with protocol-error metadata attached.
func NewMissingNulTerminator() error {
	return wireerrors.WithKind(
		wireerrors.WithSeverity(ErrMissingNulTerminator, wireerrors.LevelFatal),
		wireerrors.KindProtocol,
	)
}

// ErrInsufficientData is thrown when a message has fewer bytes remaining
// than a field decode requires.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData constructs an error wrapping ErrInsufficientData.
func NewInsufficientData(length int) error {
	err := fmt.Errorf("length: %d %w", length, ErrInsufficientData)
	return wireerrors.WithKind(
		wireerrors.WithSeverity(err, wireerrors.LevelFatal),
		wireerrors.KindProtocol,
	)
}

// ErrMessageSizeExceeded is thrown when a message's declared length
// exceeds the reader's configured maximum.
var ErrMessageSizeExceeded = MessageSizeExceeded{Message: "maximum message size exceeded"}

// MessageSizeExceeded carries the offending and maximum sizes alongside the
// error so callers can report both in diagnostics.
type MessageSizeExceeded struct {
	Message string
	Size    int
	Max     int
}

func (err MessageSizeExceeded) Error() string { return err.Message }

func (err MessageSizeExceeded) Is(target error) bool {
	return reflect.TypeOf(target) == reflect.TypeOf(err)
}

// NewMessageSizeExceeded constructs an error wrapping MessageSizeExceeded.
func NewMessageSizeExceeded(max, size int) error {
	err := MessageSizeExceeded{
		Message: fmt.Sprintf("message size %d, bigger than maximum allowed message size %d", size, max),
		Size:    size,
		Max:     max,
	}

	return wireerrors.WithKind(
		wireerrors.WithSeverity(err, wireerrors.LevelError),
		wireerrors.KindProtocol,
	)
}

// UnwrapMessageSizeExceeded attempts to unwrap err as MessageSizeExceeded.
func UnwrapMessageSizeExceeded(err error) (result MessageSizeExceeded, _ bool) {
	return result, errors.As(err, &result)
}

// NewUnexpectedMessage reports an out-of-order or unrecognized message
// tag as a KindProtocol error.
func NewUnexpectedMessage(got byte) error {
	err := fmt.Errorf("unexpected message type: %q", got)
	return wireerrors.WithKind(
		wireerrors.WithSeverity(err, wireerrors.LevelFatal),
		wireerrors.KindProtocol,
	)
}
