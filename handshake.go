package wire

import (
	"log/slog"
	"net"

	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

// handshakeParams are the key/value pairs a client sends on its initial
// handshake.
type handshakeParams map[string]string

// Handshake reads and parses the ClientHandshake message and negotiates a
// protocol version. It returns the frame reader and writer bound to conn,
// the (possibly clamped) negotiated version, and the client's declared
// parameters; the username is the value under their "user" key.
func (srv *Server) Handshake(conn net.Conn) (reader *frame.Reader, writer *frame.Writer, version protocol.Version, params handshakeParams, err error) {
	reader = frame.NewReader(srv.logger, conn, srv.BufferedMsgSize)
	writer = frame.NewWriter(srv.logger, conn)

	tag, err := reader.ReadType()
	if err != nil {
		return reader, writer, version, params, err
	}

	if tag != protocol.ClientHandshake {
		return reader, writer, version, params, frame.NewUnexpectedMessage(byte(tag))
	}

	if _, err = reader.ReadUntypedMsg(); err != nil {
		return reader, writer, version, params, err
	}

	major, err := reader.GetUint16()
	if err != nil {
		return reader, writer, version, params, err
	}

	minor, err := reader.GetUint16()
	if err != nil {
		return reader, writer, version, params, err
	}

	requested := protocol.NewVersion(major, minor)

	nparams, err := reader.GetUint16()
	if err != nil {
		return reader, writer, version, params, err
	}

	params = make(handshakeParams, nparams)
	for i := uint16(0); i < nparams; i++ {
		key, err := reader.GetLenString()
		if err != nil {
			return reader, writer, version, params, err
		}

		value, err := reader.GetLenString()
		if err != nil {
			return reader, writer, version, params, err
		}

		params[key] = value
	}

	// reserved: u16 = 0.
	if _, err = reader.GetUint16(); err != nil {
		return reader, writer, version, params, err
	}

	negotiated, clamped := protocol.Negotiate(requested)
	version = negotiated

	if clamped {
		srv.logger.Debug("clamping protocol version", slog.String("requested", requested.String()), slog.String("negotiated", negotiated.String()))

		writer.Start(protocol.ServerNegotiateVersion)
		writer.AddUint16(negotiated.Major())
		writer.AddUint16(negotiated.Minor())
		writer.AddUint32(0) // extensions, always 0
		if err = writer.End(); err != nil {
			return reader, writer, version, params, err
		}
		if err = writer.Flush(); err != nil {
			return reader, writer, version, params, err
		}
	}

	return reader, writer, version, params, nil
}
