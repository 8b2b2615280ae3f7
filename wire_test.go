package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/wire/auth"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

func TestCloseIsIdempotent(t *testing.T) {
	srv, err := NewServer()
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(listener) }()

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close(), "closing an already-closed server must be a no-op, not a double-close panic")

	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServeEndToEndHandshakeAuthAndTerminate(t *testing.T) {
	roles := NewStaticRoles(map[string]auth.RoleCredentials{"alice": {}})
	srv, err := NewServer(WithRoles(roles))
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go srv.Serve(listener) //nolint:errcheck

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	writer := frame.NewWriter(nil, &out)
	writer.Start(protocol.ServerMessage(protocol.ClientHandshake))
	writer.AddUint16(protocol.CurrentVersion.Major())
	writer.AddUint16(protocol.CurrentVersion.Minor())
	writer.AddUint16(1)
	writer.AddLenString("user")
	writer.AddLenString("alice")
	writer.AddUint16(0)
	require.NoError(t, writer.End())
	require.NoError(t, writer.Flush())
	_, err = conn.Write(out.Bytes())
	require.NoError(t, err)

	reader := frame.NewReader(nil, conn, 0)

	tag, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerAuthentication, tag)
	code, err := reader.GetUint32()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.AuthOK, code)

	tag, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerKeyData, tag)

	tag, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerStateDataDescription, tag)

	tag, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerStatus, tag)

	tag, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerStatus, tag)

	tag, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerReadyForQuery, tag)

	var term bytes.Buffer
	termWriter := frame.NewWriter(nil, &term)
	termWriter.Start(protocol.ServerMessage(protocol.ClientTerminate))
	require.NoError(t, termWriter.End())
	require.NoError(t, termWriter.Flush())
	_, err = conn.Write(term.Bytes())
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var probe [1]byte
	_, err = conn.Read(probe[:])
	assert.Error(t, err, "the server closes the socket after Terminate")
}

func TestServeEndToEndRejectsUnknownUser(t *testing.T) {
	srv, err := NewServer()
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go srv.Serve(listener) //nolint:errcheck

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	writer := frame.NewWriter(nil, &out)
	writer.Start(protocol.ServerMessage(protocol.ClientHandshake))
	writer.AddUint16(protocol.CurrentVersion.Major())
	writer.AddUint16(protocol.CurrentVersion.Minor())
	writer.AddUint16(1)
	writer.AddLenString("user")
	writer.AddLenString("ghost")
	writer.AddUint16(0)
	require.NoError(t, writer.End())
	require.NoError(t, writer.Flush())
	_, err = conn.Write(out.Bytes())
	require.NoError(t, err)

	reader := frame.NewReader(nil, conn, 0)
	tag, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.EqualValues(t, protocol.ServerError, tag)
}
