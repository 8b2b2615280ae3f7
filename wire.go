// Package wire implements a binary, length-framed frontend protocol
// engine: version negotiation, SASL/SCRAM and bearer-token authentication,
// a Parse/Execute/Sync request dispatcher, argument recoding, and the
// dump/restore streaming protocol.
package wire

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaydb/wire/auth"
	"github.com/relaydb/wire/backend"
	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/session"
)

// NewViewFn constructs the per-connection session.View once authentication
// succeeds, given the database name the client asked to connect to. The
// default produced by NewServer backs every connection with an in-memory
// session.State; a schema-aware deployment supplies its own factory via
// WithNewView.
type NewViewFn func(ctx context.Context, dbname string) (session.View, error)

// ListenAndServe opens a server on address using sensible defaults plus the
// given options, and serves until the listener or server is closed.
func ListenAndServe(address string, options ...OptionFn) error {
	srv, err := NewServer(options...)
	if err != nil {
		return err
	}

	return srv.ListenAndServe(address)
}

// NewServer constructs a Server from the given options. With no
// auth-related option, the server uses Trust over an empty role store,
// so every username is rejected until roles are registered.
func NewServer(options ...OptionFn) (*Server, error) {
	roles := NewStaticRoles(nil)

	srv := &Server{
		logger:          slog.Default(),
		BufferedMsgSize: frame.DefaultBufferSize,
		Roles:           roles,
		Auth:            auth.Trust(roles),
		Version:         protocol.CurrentVersion.String(),
		NewView: func(ctx context.Context, dbname string) (session.View, error) {
			return session.NewState(dbname, uuid.Nil), nil
		},
		closer: make(chan struct{}),
	}

	for _, option := range options {
		if err := option(srv); err != nil {
			return nil, fmt.Errorf("unexpected error while configuring server: %w", err)
		}
	}

	return srv, nil
}

// Server holds the configuration and accept loop for one listening wire
// endpoint: authentication, dispatch, and backend collaborators.
type Server struct {
	closing atomic.Bool
	wg      sync.WaitGroup
	closer  chan struct{}

	logger          *slog.Logger
	BufferedMsgSize int

	// Roles backs the default Trust strategy and is exposed so callers can
	// register/replace credentials without reconstructing Auth.
	Roles *StaticRoles
	Auth  auth.Strategy

	NewView NewViewFn

	Backend  backend.Pool
	Compiler compiler.Compiler

	Version        string
	CatalogVersion uint64
	IncludeSecrets bool
}

// ListenAndServe opens a TCP listener on address and serves it.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// Serve accepts and serves connections from listener until the server is
// closed connection-per-goroutine model.
func (srv *Server) Serve(listener net.Listener) error {
	defer srv.logger.Info("closing server")
	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		<-srv.closer
		if err := listener.Close(); err != nil {
			srv.logger.Error("unexpected error closing listener", "err", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		go func() {
			if err := srv.serve(context.Background(), conn); err != nil {
				srv.logger.Error("connection terminated with an error", "err", err)
			}
		}()
	}
}

// serve drives one accepted connection through handshake, authentication,
// and the ready/command loop.
func (srv *Server) serve(ctx context.Context, transport net.Conn) error {
	defer transport.Close()

	srv.logger.Debug("serving a new client connection")

	reader, writer, version, params, err := srv.Handshake(transport)
	if err != nil {
		return err
	}

	conn := newConnection(transport, reader, writer)
	conn.Version = version
	conn.setStatus(statusAuth)

	username := params["user"]
	dbname := params["database"]
	if dbname == "" {
		dbname = username
	}

	if err := srv.Auth(ctx, username, reader, writer); err != nil {
		ErrorCode(writer, err) //nolint:errcheck
		writer.Flush()         //nolint:errcheck
		return err
	}
	conn.authenticated.Store(true)

	if err := writeKeyData(writer, conn.ID); err != nil {
		return err
	}

	view, err := srv.NewView(ctx, dbname)
	if err != nil {
		return err
	}
	conn.View = view

	typeID, data := view.DescribeState()
	if err := writeStateDataDescription(writer, typeID, data); err != nil {
		return err
	}
	conn.noteAdvertisedState(typeID, data)

	if err := writeServerStatus(writer, "server_version", srv.Version); err != nil {
		return err
	}
	if err := writeServerStatus(writer, "dbname", dbname); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	srv.logger.Debug("connection authenticated, entering command loop", slog.String("conn", conn.ID.String()))

	return srv.consumeCommands(ctx, conn)
}

// writeKeyData emits the KeyData message: the connection id followed by 8
// random bytes. Nothing in this engine reads the key back; there is no
// out-of-band cancellation listener.
func writeKeyData(writer *frame.Writer, connID uuid.UUID) error {
	var secret [8]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return err
	}

	writer.Start(protocol.ServerKeyData)
	idBytes := connID
	writer.AddBytes(idBytes[:])
	writer.AddBytes(secret[:])
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

func writeServerStatus(writer *frame.Writer, key, value string) error {
	writer.Start(protocol.ServerStatus)
	writer.AddLenString(key)
	writer.AddLenString(value)
	return writer.End()
}

// Close gracefully closes the server, waiting for its accept loop to exit.
func (srv *Server) Close() error {
	if srv.closing.Load() {
		return nil
	}

	srv.closing.Store(true)
	close(srv.closer)
	srv.wg.Wait()
	return nil
}
