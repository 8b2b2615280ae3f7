package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/wire/protocol"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var out bytes.Buffer
	writer := NewWriter(nil, &out)

	writer.Start(protocol.ServerCommandComplete)
	writer.AddUint64(42)
	writer.AddLenString("SELECT")
	writer.AddLenBytes([]byte{1, 2, 3})
	writer.AddLenBytes(nil)
	require.NoError(t, writer.End())
	require.NoError(t, writer.Flush())

	reader := NewReader(nil, &out, 0)
	tag, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerCommandComplete, tag)

	id, err := reader.GetUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	s, err := reader.GetLenString()
	require.NoError(t, err)
	assert.Equal(t, "SELECT", s)

	b, err := reader.GetBytes(4)
	require.NoError(t, err)
	assert.Equal(t, int32(3), int32(b[0])<<24|int32(b[1])<<16|int32(b[2])<<8|int32(b[3]))

	raw, err := reader.GetBytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)

	nullLen, err := reader.GetInt32()
	require.NoError(t, err)
	assert.EqualValues(t, -1, nullLen)

	assert.Zero(t, reader.Remaining())
}

func TestWriterCoalescesUntilFlush(t *testing.T) {
	var out bytes.Buffer
	writer := NewWriter(nil, &out)

	writer.Start(protocol.ServerReadyForQuery)
	writer.AddByte('I')
	require.NoError(t, writer.End())

	assert.Zero(t, out.Len(), "End alone must not write to the transport before Flush")

	require.NoError(t, writer.Flush())
	assert.NotZero(t, out.Len())
}

func TestReaderRejectsOversizedMessage(t *testing.T) {
	var out bytes.Buffer
	writer := NewWriter(nil, &out)
	writer.Start(protocol.ServerCommandComplete)
	writer.AddBytes(make([]byte, 128))
	require.NoError(t, writer.End())
	require.NoError(t, writer.Flush())

	reader := NewReader(nil, &out, 8)
	_, _, err := reader.ReadTypedMsg()
	require.Error(t, err)

	var sizeErr MessageSizeExceeded
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, 8, sizeErr.Max)
}

func TestGetStringMissingNulTerminator(t *testing.T) {
	reader := &Reader{Msg: []byte("no terminator here")}
	_, err := reader.GetString()
	require.ErrorIs(t, err, ErrMissingNulTerminator)
}

func TestGetBytesInsufficientData(t *testing.T) {
	reader := &Reader{Msg: []byte{1, 2}}
	_, err := reader.GetBytes(4)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestNewReaderNil(t *testing.T) {
	assert.Nil(t, NewReader(nil, nil, 0))
}
