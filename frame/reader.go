package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"unsafe"

	"github.com/relaydb/wire/protocol"
)

// DefaultBufferSize is the default reader buffer size, and the default
// per-message size ceiling, when neither is overridden.
const DefaultBufferSize = 1 << 24 // 16777216 bytes

// BufferedReader extends io.Reader with the convenience reads the codec
// needs.
type BufferedReader interface {
	io.Reader
	ReadString(delim byte) (string, error)
	ReadByte() (byte, error)
}

// Reader decodes length-framed, typed messages off a byte-oriented
// transport.
type Reader struct {
	logger         *slog.Logger
	Buffer         BufferedReader
	Msg            []byte
	MaxMessageSize int
	header         [4]byte
}

// NewReader constructs a Reader wrapping the given io.Reader in a
// buffered reader of bufferSize bytes.
func NewReader(logger *slog.Logger, reader io.Reader, bufferSize int) *Reader {
	if reader == nil {
		return nil
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Reader{
		logger:         logger,
		Buffer:         bufio.NewReaderSize(reader, bufferSize),
		MaxMessageSize: bufferSize,
	}
}

func (reader *Reader) reset(size int) {
	if reader.Msg != nil {
		reader.Msg = reader.Msg[len(reader.Msg):]
	}

	if cap(reader.Msg) >= size {
		reader.Msg = reader.Msg[:size]
		return
	}

	allocSize := size
	if allocSize < 4096 {
		allocSize = 4096
	}
	reader.Msg = make([]byte, size, allocSize)
}

// ReadType reads the next message's one-byte client tag.
func (reader *Reader) ReadType() (protocol.ClientMessage, error) {
	b, err := reader.Buffer.ReadByte()
	if err != nil {
		return 0, err
	}

	return protocol.ClientMessage(b), nil
}

// ReadTypedMsg reads a tag followed by a length-framed body, returning the
// tag and the number of bytes read after the tag: the 4-byte length
// prefix plus the body.
func (reader *Reader) ReadTypedMsg() (protocol.ClientMessage, int, error) {
	typed, err := reader.ReadType()
	if err != nil {
		return typed, 0, err
	}

	n, err := reader.ReadUntypedMsg()
	if err != nil {
		return 0, 0, err
	}

	return typed, n, nil
}

// Slurp discards the next size bytes, reading in MaxMessageSize chunks.
func (reader *Reader) Slurp(size int) error {
	remaining := size
	for remaining > 0 {
		reading := remaining
		if reading > reader.MaxMessageSize {
			reading = reader.MaxMessageSize
		}

		reader.reset(reading)

		n, err := io.ReadFull(reader.Buffer, reader.Msg)
		if err != nil {
			return err
		}

		remaining -= n
	}

	return nil
}

// ReadMsgSize reads the 4-byte big-endian frame length, excluding the
// length field itself from the returned value.
func (reader *Reader) ReadMsgSize() (int, error) {
	nread, err := io.ReadFull(reader.Buffer, reader.header[:])
	if err != nil {
		return nread, err
	}

	size := int(binary.BigEndian.Uint32(reader.header[:]))
	size -= 4 // size includes itself

	return size, nil
}

// ReadUntypedMsg reads a length-prefixed message body into Msg; any type
// tag must already have been consumed (ReadTypedMsg and Handshake call
// ReadType first). It returns the 4-byte length prefix plus the body
// bytes read.
func (reader *Reader) ReadUntypedMsg() (int, error) {
	size, err := reader.ReadMsgSize()
	if err != nil {
		return 0, err
	}

	if size > reader.MaxMessageSize || size < 0 {
		return size, NewMessageSizeExceeded(reader.MaxMessageSize, size)
	}

	reader.reset(size)
	n, err := io.ReadFull(reader.Buffer, reader.Msg)
	return len(reader.header) + n, err
}

// GetString reads a NUL-terminated string from the remaining message
// buffer without copying.
func (reader *Reader) GetString() (string, error) {
	pos := bytes.IndexByte(reader.Msg, 0)
	if pos == -1 {
		return "", NewMissingNulTerminator()
	}

	s := reader.Msg[:pos]
	reader.Msg = reader.Msg[pos+1:]
	return *((*string)(unsafe.Pointer(&s))), nil
}

// GetBytes consumes and returns the next n bytes of the message buffer.
// n == -1 represents a NULL value and returns (nil, nil).
func (reader *Reader) GetBytes(n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}
	if len(reader.Msg) < n {
		return nil, NewInsufficientData(len(reader.Msg))
	}

	v := reader.Msg[:n]
	reader.Msg = reader.Msg[n:]
	return v, nil
}

// GetUint16 consumes the next 2 bytes as a big-endian uint16.
func (reader *Reader) GetUint16() (uint16, error) {
	if len(reader.Msg) < 2 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint16(reader.Msg[:2])
	reader.Msg = reader.Msg[2:]
	return v, nil
}

// GetInt16 consumes the next 2 bytes as a big-endian int16.
func (reader *Reader) GetInt16() (int16, error) {
	v, err := reader.GetUint16()
	return int16(v), err
}

// GetUint32 consumes the next 4 bytes as a big-endian uint32.
func (reader *Reader) GetUint32() (uint32, error) {
	if len(reader.Msg) < 4 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint32(reader.Msg[:4])
	reader.Msg = reader.Msg[4:]
	return v, nil
}

// GetInt32 consumes the next 4 bytes as a big-endian int32.
func (reader *Reader) GetInt32() (int32, error) {
	v, err := reader.GetUint32()
	return int32(v), err
}

// GetUint64 consumes the next 8 bytes as a big-endian uint64.
func (reader *Reader) GetUint64() (uint64, error) {
	if len(reader.Msg) < 8 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint64(reader.Msg[:8])
	reader.Msg = reader.Msg[8:]
	return v, nil
}

// Remaining returns the number of bytes left unconsumed in the current
// message buffer.
func (reader *Reader) Remaining() int {
	return len(reader.Msg)
}

// GetLenString reads a 4-byte big-endian length followed by that many
// UTF-8 bytes, the length-prefixed string convention this protocol uses
// everywhere outside the legacy NUL-terminated fields.
func (reader *Reader) GetLenString() (string, error) {
	length, err := reader.GetInt32()
	if err != nil {
		return "", err
	}

	b, err := reader.GetBytes(int(length))
	if err != nil {
		return "", err
	}

	return string(b), nil
}
