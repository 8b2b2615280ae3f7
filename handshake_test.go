package wire

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

// handshakeBytes hand-assembles a complete ClientHandshake frame: the
// type byte and length prefix that frame.Writer.Start/End add, then the body.
func handshakeBytes(t *testing.T, major, minor uint16, params map[string]string) []byte {
	t.Helper()
	var out bytes.Buffer
	writer := frame.NewWriter(nil, &out)

	writer.Start(protocol.ServerMessage(protocol.ClientHandshake))
	writer.AddUint16(major)
	writer.AddUint16(minor)
	writer.AddUint16(uint16(len(params)))
	for k, v := range params {
		writer.AddLenString(k)
		writer.AddLenString(v)
	}
	writer.AddUint16(0) // reserved
	require.NoError(t, writer.End())
	require.NoError(t, writer.Flush())

	return out.Bytes()
}

func testServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(WithLogger(slog.Default()))
	require.NoError(t, err)
	return srv
}

type handshakeResult struct {
	version protocol.Version
	params  handshakeParams
	err     error
}

func runHandshake(srv *Server, serverSide net.Conn) <-chan handshakeResult {
	out := make(chan handshakeResult, 1)
	go func() {
		_, _, version, params, err := srv.Handshake(serverSide)
		out <- handshakeResult{version: version, params: params, err: err}
	}()
	return out
}

func TestHandshakeNegotiatesCurrentVersionWithoutReply(t *testing.T) {
	srv := testServer(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	results := runHandshake(srv, server)

	in := handshakeBytes(t, protocol.CurrentVersion.Major(), protocol.CurrentVersion.Minor(), map[string]string{"user": "alice", "database": "db"})
	_, err := client.Write(in)
	require.NoError(t, err)

	select {
	case res := <-results:
		require.NoError(t, res.err)
		assert.Equal(t, protocol.CurrentVersion, res.version)
		assert.Equal(t, "alice", res.params["user"])
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	var probe [1]byte
	_, err = client.Read(probe[:])
	assert.Error(t, err, "no clamping occurred, so no NegotiateProtocolVersion reply is expected")
}

func TestHandshakeClampsAndRepliesWithNegotiateVersion(t *testing.T) {
	srv := testServer(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	results := runHandshake(srv, server)

	in := handshakeBytes(t, 0, 1, map[string]string{"user": "alice"})
	_, err := client.Write(in)
	require.NoError(t, err)

	// The pipe is unbuffered: Handshake's NegotiateProtocolVersion flush
	// only completes once this side reads it.
	reader := frame.NewReader(nil, client, 0)
	tag, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerNegotiateVersion, tag)

	major, err := reader.GetUint16()
	require.NoError(t, err)
	minor, err := reader.GetUint16()
	require.NoError(t, err)
	assert.Equal(t, protocol.MinVersion, protocol.NewVersion(major, minor))

	var res handshakeResult
	select {
	case res = <-results:
		require.NoError(t, res.err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
	assert.Equal(t, protocol.MinVersion, res.version)
}

func TestHandshakeRejectsWrongLeadingMessageType(t *testing.T) {
	srv := testServer(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	results := runHandshake(srv, server)

	var out bytes.Buffer
	writer := frame.NewWriter(nil, &out)
	writer.Start(protocol.ServerMessage(protocol.ClientSync))
	require.NoError(t, writer.End())
	require.NoError(t, writer.Flush())

	_, err := client.Write(out.Bytes())
	require.NoError(t, err)

	select {
	case res := <-results:
		require.Error(t, res.err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestHandshakeBytesBigEndianEncoding(t *testing.T) {
	in := handshakeBytes(t, 3, 0, nil)
	// type(1) + length(4) + major(2) + minor(2) + paramCount(2) + reserved(2)
	require.Len(t, in, 1+4+2+2+2+2)
	assert.EqualValues(t, protocol.ClientHandshake, in[0])
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(in[5:7]))
}
