package wire

import (
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

// protocolError builds a KindProtocol error from a plain message, the
// shape most of the dispatcher's own framing/ordering checks need (as
// opposed to errors surfaced from a collaborator, which already carry
// their own Kind).
func protocolError(msg string) error {
	return errors.WithKind(errors.New(msg), errors.KindProtocol)
}

// severityByte encodes an errors.Severity string as the wire's single
// severity byte.
func severityByte(sev errors.Severity) byte {
	switch sev {
	case errors.LevelFatal:
		return 'F'
	case errors.LevelPanic:
		return 'P'
	default:
		return 'E'
	}
}

// ErrorCode writes an Error message for err: severity byte,
// 4-byte code, length-prefixed message, then the repeated field list
// (always including the traceback field). It does not write ReadyForQuery
// itself; callers drive the error-recovery-to-Sync loop
// and emit ReadyForQuery once a Sync is consumed.
func ErrorCode(writer *frame.Writer, err error) error {
	desc := errors.Flatten(err)

	writer.Start(protocol.ServerError)
	writer.AddByte(severityByte(desc.Severity))
	writer.AddUint32(uint32(desc.Code))
	writer.AddLenString(desc.Message)

	fields := desc.Fields
	writer.AddUint16(uint16(len(fields)))
	for _, f := range fields {
		writer.AddUint16(f.Code)
		writer.AddLenString(f.Value)
	}

	if werr := writer.End(); werr != nil {
		return werr
	}

	return writer.Flush()
}

// writeReadyForQuery emits ReadyForQuery with the given transaction
// status byte.
func writeReadyForQuery(writer *frame.Writer, status byte) error {
	writer.Start(protocol.ServerReadyForQuery)
	writer.AddByte(status)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

// txStatusFor derives the ReadyForQuery status byte from the view's current
// transaction state.
func txStatusFor(view interface {
	InTx() bool
	InTxError() bool
}) byte {
	switch {
	case view.InTxError():
		return protocol.TxStatusInTxErr
	case view.InTx():
		return protocol.TxStatusInTx
	default:
		return protocol.TxStatusIdle
	}
}
