package frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/relaydb/wire/protocol"
)

// FlushThreshold is the coalescing limit: writes are buffered until
// either an explicit Flush or this many bytes accumulate.
const FlushThreshold = 100 * 1024

// Writer builds and coalesces outgoing length-framed messages.
type Writer struct {
	io.Writer
	logger  *slog.Logger
	frame   bytes.Buffer
	pending bytes.Buffer
	putbuf  [64]byte
	err     error
}

// NewWriter constructs a Writer wrapping the given io.Writer.
func NewWriter(logger *slog.Logger, writer io.Writer) *Writer {
	return &Writer{
		logger: logger,
		Writer: writer,
	}
}

// Start resets the message-in-progress buffer and writes the message tag
// plus a placeholder length field.
func (writer *Writer) Start(t protocol.ServerMessage) {
	writer.frame.Reset()
	writer.err = nil
	writer.putbuf[0] = byte(t)
	writer.frame.Write(writer.putbuf[:5])
}

// AddByte appends a single byte to the message in progress.
func (writer *Writer) AddByte(b byte) {
	if writer.err != nil {
		return
	}

	writer.err = writer.frame.WriteByte(b)
}

// AddInt16 appends a big-endian int16.
func (writer *Writer) AddInt16(i int16) (size int) {
	if writer.err != nil {
		return 0
	}

	var x [2]byte
	binary.BigEndian.PutUint16(x[:], uint16(i))
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddUint16 appends a big-endian uint16.
func (writer *Writer) AddUint16(i uint16) (size int) {
	if writer.err != nil {
		return 0
	}

	var x [2]byte
	binary.BigEndian.PutUint16(x[:], i)
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddInt32 appends a big-endian int32.
func (writer *Writer) AddInt32(i int32) (size int) {
	if writer.err != nil {
		return 0
	}

	var x [4]byte
	binary.BigEndian.PutUint32(x[:], uint32(i))
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddUint32 appends a big-endian uint32.
func (writer *Writer) AddUint32(i uint32) (size int) {
	if writer.err != nil {
		return 0
	}

	var x [4]byte
	binary.BigEndian.PutUint32(x[:], i)
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddUint64 appends a big-endian uint64.
func (writer *Writer) AddUint64(i uint64) (size int) {
	if writer.err != nil {
		return 0
	}

	var x [8]byte
	binary.BigEndian.PutUint64(x[:], i)
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddBytes appends raw bytes.
func (writer *Writer) AddBytes(b []byte) (size int) {
	if writer.err != nil {
		return 0
	}

	size, writer.err = writer.frame.Write(b)
	return size
}

// AddString appends a raw (non-terminated) string.
func (writer *Writer) AddString(s string) (size int) {
	if writer.err != nil {
		return 0
	}

	size, writer.err = writer.frame.WriteString(s)
	return size
}

// AddLenString appends a length-prefixed UTF-8 string: a 4-byte big-endian
// length followed by the raw bytes, matching the "length-prefixed
// UTF-8" convention used for strings in this protocol.
func (writer *Writer) AddLenString(s string) {
	writer.AddInt32(int32(len(s)))
	writer.AddString(s)
}

// AddLenBytes appends a 4-byte big-endian length (-1 for nil) followed by
// the raw bytes, matching the NULL-capable value framing used throughout
// the argument/recoder wire layout.
func (writer *Writer) AddLenBytes(b []byte) {
	if b == nil {
		writer.AddInt32(-1)
		return
	}

	writer.AddInt32(int32(len(b)))
	writer.AddBytes(b)
}

func (writer *Writer) Error() error {
	return writer.err
}

// Bytes returns the bytes accumulated for the message in progress.
func (writer *Writer) Bytes() []byte {
	return writer.frame.Bytes()
}

// Reset discards the message in progress.
func (writer *Writer) Reset() {
	writer.frame.Reset()
	writer.err = nil
}

// End finalizes the in-progress message: it patches the length field and
// queues the message into the coalescing buffer, flushing immediately if
// FlushThreshold is exceeded.
func (writer *Writer) End() error {
	defer writer.Reset()
	if writer.err != nil {
		return writer.err
	}

	bytes := writer.frame.Bytes()
	length := uint32(writer.frame.Len() - 1)
	binary.BigEndian.PutUint32(bytes[1:5], length)

	if writer.logger != nil {
		writer.logger.Debug("-> writing message", slog.String("type", protocol.ServerMessage(bytes[0]).String()))
	}

	if _, err := writer.pending.Write(bytes); err != nil {
		return err
	}

	if writer.pending.Len() >= FlushThreshold {
		return writer.Flush()
	}

	return nil
}

// Flush drains any coalesced messages to the underlying transport. Callers
// must invoke Flush explicitly at response boundaries; End alone only
// flushes once the coalescing threshold is crossed.
func (writer *Writer) Flush() error {
	if writer.pending.Len() == 0 {
		return nil
	}

	defer writer.pending.Reset()
	_, err := writer.Write(writer.pending.Bytes())
	return err
}

// EncodeBoolean renders a boolean as the "on"/"off" text ServerStatus
// key/value pairs use.
func EncodeBoolean(value bool) string {
	if value {
		return "on"
	}

	return "off"
}
