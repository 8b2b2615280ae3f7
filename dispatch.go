package wire

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/dump"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/recoder"
	"github.com/relaydb/wire/restore"
)

// consumeCommands drives the Parse/Execute/Sync request cycle for one
// connection until Terminate or a fatal error.
func (srv *Server) consumeCommands(ctx context.Context, conn *Connection) error {
	if err := writeReadyForQuery(conn.Writer, txStatusFor(conn.View)); err != nil {
		return err
	}
	conn.setStatus(statusReady)

	for {
		conn.markIdle()

		tag, _, err := conn.Reader.ReadTypedMsg()
		if errors.Is(err, io.EOF) {
			return nil
		}

		var sizeErr frame.MessageSizeExceeded
		if errors.As(err, &sizeErr) {
			if slurpErr := conn.Reader.Slurp(sizeErr.Size); slurpErr != nil {
				return slurpErr
			}
			if werr := ErrorCode(conn.Writer, err); werr != nil {
				return werr
			}
			continue
		}

		if err != nil {
			return err
		}

		if conn.cancelled.Load() {
			return nil
		}

		if srv.logger != nil {
			srv.logger.Debug("<- incoming command", slog.String("type", tag.String()))
		}

		if protocol.IsLegacyMessage(tag) {
			if werr := srv.errorRecovery(ctx, conn, protocolError("legacy message type refused on this protocol version: "+tag.String())); werr != nil {
				return werr
			}
			continue
		}

		switch tag {
		case protocol.ClientParse:
			if herr := srv.handleParse(ctx, conn); herr != nil {
				if werr := srv.errorRecovery(ctx, conn, herr); werr != nil {
					return werr
				}
			}
		case protocol.ClientExecute:
			if herr := srv.handleExecute(ctx, conn); herr != nil {
				if werr := srv.errorRecovery(ctx, conn, herr); werr != nil {
					return werr
				}
			}
		case protocol.ClientSync:
			if werr := writeReadyForQuery(conn.Writer, txStatusFor(conn.View)); werr != nil {
				return werr
			}
		case protocol.ClientFlush:
			if werr := conn.Writer.Flush(); werr != nil {
				return werr
			}
		case protocol.ClientDump:
			if herr := srv.handleDump(ctx, conn); herr != nil {
				if werr := srv.errorRecovery(ctx, conn, herr); werr != nil {
					return werr
				}
			}
		case protocol.ClientRestore:
			if herr := srv.handleRestore(ctx, conn); herr != nil {
				if werr := srv.errorRecovery(ctx, conn, herr); werr != nil {
					return werr
				}
			}
		case protocol.ClientTerminate:
			conn.setStatus(statusClosing)
			return nil
		default:
			if werr := srv.errorRecovery(ctx, conn, protocolError("unexpected message type: "+tag.String())); werr != nil {
				return werr
			}
		}
	}
}

// errorRecovery implements the error-recovery-to-Sync loop: it
// marks the view in_tx_error, writes the error message, flushes, then
// discards every message until a Sync is reached, at which point it
// replies with ReadyForQuery reflecting the post-error state.
func (srv *Server) errorRecovery(ctx context.Context, conn *Connection, cause error) error {
	conn.View.RaiseInTxError()

	if err := ErrorCode(conn.Writer, cause); err != nil {
		return err
	}

	for {
		tag, _, err := conn.Reader.ReadTypedMsg()
		if err != nil {
			return err
		}

		if tag == protocol.ClientSync {
			return writeReadyForQuery(conn.Writer, txStatusFor(conn.View))
		}
		// Every other framed message is discarded without interpretation:
		// this is a small sub-state-machine that only recognizes Sync.
	}
}

func (srv *Server) handleParse(ctx context.Context, conn *Connection) error {
	header, err := readRequestHeader(conn.Reader, conn.Writer, conn.View)
	if err != nil {
		return err
	}

	compiled, err := conn.View.Parse(ctx, header.req, header.allowCapabilities)
	if err != nil {
		return err
	}

	if len(compiled.Units) == 0 {
		return protocolError("compiler returned an empty unit group")
	}

	unit := compiled.Units[0]
	if err := writeCommandDataDescription(conn.Writer, unit, nil); err != nil {
		return err
	}

	conn.lastAnon.set(header.req.Hash(), unit.InputTypeID, unit.OutputTypeID, compiler.QueryUnitGroup{Units: compiled.Units})
	return nil
}

func (srv *Server) handleExecute(ctx context.Context, conn *Connection) error {
	header, err := readRequestHeader(conn.Reader, conn.Writer, conn.View)
	if err != nil {
		return err
	}

	inIDBytes, err := conn.Reader.GetBytes(16)
	if err != nil {
		return err
	}
	inID, err := uuid.FromBytes(inIDBytes)
	if err != nil {
		return protocolError("malformed input type id")
	}

	outIDBytes, err := conn.Reader.GetBytes(16)
	if err != nil {
		return err
	}
	outID, err := uuid.FromBytes(outIDBytes)
	if err != nil {
		return protocolError("malformed output type id")
	}

	argsLen, err := conn.Reader.GetInt32()
	if err != nil {
		return err
	}
	args, err := conn.Reader.GetBytes(int(argsLen))
	if err != nil {
		return err
	}

	group, ok := conn.lastAnon.get(header.req.Hash(), inID, outID)
	if !ok {
		group, ok = conn.View.LookupCompiledQuery(header.req)
	}
	if !ok {
		compiled, cerr := conn.View.Parse(ctx, header.req, header.allowCapabilities)
		if cerr != nil {
			return cerr
		}
		group = compiler.QueryUnitGroup{Units: compiled.Units}
	}

	if len(group.Units) == 0 {
		return protocolError("compiler returned an empty unit group")
	}

	unit := group.Units[0]

	if unit.InputTypeID != inID {
		if werr := writeCommandDataDescription(conn.Writer, unit, nil); werr != nil {
			return werr
		}
		return protocolError("parameter type mismatch")
	}

	if unit.OutputTypeID != outID {
		if werr := writeCommandDataDescription(conn.Writer, unit, nil); werr != nil {
			return werr
		}
	}

	recoded, err := recoder.Recode(unit, conn.View, inID, args)
	if err != nil {
		return err
	}

	if err := srv.executeUnits(ctx, conn, group.Units, recoded); err != nil {
		return err
	}

	stateID, stateData := conn.View.EncodeState()
	if !conn.stateAdvertised(stateID, stateData) {
		if err := writeStateDataDescription(conn.Writer, stateID, stateData); err != nil {
			return err
		}
		conn.noteAdvertisedState(stateID, stateData)
	}

	return writeCommandComplete(conn.Writer, unit, stateID, stateData)
}

// executeUnits runs a compiled unit group against the backend pool. Each
// unit is sent to the backend as its own statement, in order; a
// multi-unit group is not batched into one script and is not wrapped in
// an implicit transaction. Savepoint-rollback and abort-migration units
// roll the view back to the named savepoint, and a rollback unit issued
// while the view is in_tx_error aborts the view's transaction; neither
// reaches the backend.
func (srv *Server) executeUnits(ctx context.Context, conn *Connection, units []compiler.Unit, args []byte) error {
	if srv.Backend == nil {
		return protocolError("no backend configured")
	}

	backendConn, err := srv.Backend.Acquire(ctx, conn.View.DBName())
	if err != nil {
		return err
	}

	conn.pinBackend(backendConn)
	defer func() {
		if leased := conn.unpinBackend(); leased != nil {
			leased.Release()
		}
	}()

	for i, unit := range units {
		unitArgs := args
		if i > 0 {
			// Subsequent units in a script carry their own recoded
			// argument stream produced by read-backs; this engine has no
			// read-back collaborator wired, so only the
			// first unit's arguments are honored.
			unitArgs = nil
		}

		switch {
		case unit.TxAbortMigration, unit.TxSavepointRollback:
			if err := conn.View.RollbackTxToSavepoint(unit.TxSavepointName); err != nil {
				return err
			}
			continue
		case unit.TxRollback && conn.View.InTxError():
			if err := conn.View.AbortTx(); err != nil {
				return err
			}
			conn.View.ClearTxError()
			continue
		}

		rows, _, err := backendConn.Execute(ctx, unit, unitArgs)
		if err != nil {
			return err
		}
		if err := srv.streamRows(conn, rows); err != nil {
			return err
		}
	}

	return nil
}

// streamRows emits a Data message per row, followed by the caller's
// CommandComplete. Columns are forwarded as the raw wire-format bytes the
// backend already produced; this engine never decodes or re-encodes
// result values itself.
func (srv *Server) streamRows(conn *Connection, rows pgx.Rows) error {
	if rows == nil {
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		if err := writeDataRow(conn.Writer, rows.RawValues()); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (srv *Server) handleDump(ctx context.Context, conn *Connection) error {
	if srv.Backend == nil || srv.Compiler == nil {
		return protocolError("dump requires a configured backend and compiler")
	}

	backendConn, err := srv.Backend.Acquire(ctx, conn.View.DBName())
	if err != nil {
		return err
	}
	conn.pinBackend(backendConn)
	defer func() {
		if leased := conn.unpinBackend(); leased != nil {
			leased.Release()
		}
	}()

	conn.setStatus(statusDumping)
	defer conn.setStatus(statusReady)

	return dump.Run(ctx, conn.View, srv.Compiler, backendConn, conn.Writer, dump.Config{
		ServerVersion:  srv.Version,
		CatalogVersion: srv.CatalogVersion,
		IncludeSecrets: srv.IncludeSecrets,
	})
}

func (srv *Server) handleRestore(ctx context.Context, conn *Connection) error {
	if srv.Backend == nil || srv.Compiler == nil {
		return protocolError("restore requires a configured backend and compiler")
	}

	header, err := dump.ReadHeader(conn.Reader)
	if err != nil {
		return err
	}

	backendConn, err := srv.Backend.Acquire(ctx, conn.View.DBName())
	if err != nil {
		return err
	}
	conn.pinBackend(backendConn)
	defer func() {
		if leased := conn.unpinBackend(); leased != nil {
			leased.Release()
		}
	}()

	conn.setStatus(statusRestoring)
	defer conn.setStatus(statusReady)

	rsession, err := restore.Run(ctx, conn.View, srv.Compiler, backendConn, header)
	if err != nil {
		return err
	}

	if err := restore.WriteReady(conn.Writer); err != nil {
		return err
	}

	for {
		tag, _, err := conn.Reader.ReadTypedMsg()
		if err != nil {
			rsession.Abort(ctx) //nolint:errcheck
			return err
		}

		if tag == protocol.ClientRestoreEOF {
			break
		}

		if tag != protocol.ClientRestoreBlock {
			rsession.Abort(ctx) //nolint:errcheck
			return protocolError("expected RestoreBlock or RestoreEof")
		}

		block, err := dump.ReadBlock(conn.Reader)
		if err != nil {
			rsession.Abort(ctx) //nolint:errcheck
			return err
		}

		if err := rsession.Feed(ctx, block); err != nil {
			rsession.Abort(ctx) //nolint:errcheck
			return err
		}
	}

	if err := rsession.Finish(ctx); err != nil {
		return err
	}

	stateID, stateData := conn.View.EncodeState()
	if !conn.stateAdvertised(stateID, stateData) {
		if err := writeStateDataDescription(conn.Writer, stateID, stateData); err != nil {
			return err
		}
		conn.noteAdvertisedState(stateID, stateData)
	}

	writer := conn.Writer
	writer.Start(protocol.ServerCommandComplete)
	writer.AddUint64(0)
	writer.AddLenString(string(frame.StatusRestore))
	idBytes := stateID
	writer.AddBytes(idBytes[:])
	writer.AddLenBytes(stateData)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

