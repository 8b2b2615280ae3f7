// Package restore implements the restore streamer: it
// consumes dump blocks, disables triggers, applies schema and data, and
// commits atomically.
package restore

import (
	"context"

	"github.com/relaydb/wire/backend"
	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/dump"
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/session"
)

// Run executes the restore protocol. header must already
// be parsed (dump.ReadHeader); the caller owns reading the subsequent
// RestoreBlock/RestoreEof messages and feeding them to Feed.
func Run(ctx context.Context, view session.View, comp compiler.Compiler, conn backend.Conn, header dump.Header) (*Session, error) {
	if view.InTx() {
		return nil, errors.WithKind(errors.New("restore called while in a transaction"), errors.KindQuery)
	}

	if !protocolVersionInRange(header.ProtocolMajor, header.ProtocolMinor) {
		return nil, errors.WithKind(errors.New("dump protocol version out of range"), errors.KindProtocol)
	}

	if err := conn.BeginSerializable(ctx); err != nil {
		return nil, errors.WithKind(err, errors.KindBackend)
	}

	if err := conn.SetStatementTimeout(ctx, 0); err != nil {
		return nil, errors.WithKind(err, errors.KindBackend)
	}
	if err := conn.SetIdleInTransactionTimeout(ctx, 0); err != nil {
		return nil, errors.WithKind(err, errors.KindBackend)
	}

	desc, err := comp.DescribeRestore(ctx, compiler.DescribeRestoreInput{
		SchemaDDL: header.SchemaDDL,
		TypeIDs:   header.TypeIDs,
		Blocks:    header.Blocks,
	})
	if err != nil {
		conn.Rollback(ctx) //nolint:errcheck
		return nil, errors.WithKind(err, errors.KindBackend)
	}

	for _, unit := range desc.SchemaSQLUnits {
		if unit.IsConfigureInstance {
			conn.Rollback(ctx) //nolint:errcheck
			return nil, errors.WithKind(errors.New("restore may not rewrite system config"), errors.KindQuery)
		}

		if unit.DDLStatementID != nil {
			if _, err := conn.ExecDDL(ctx, unit.SQL); err != nil {
				conn.Rollback(ctx) //nolint:errcheck
				return nil, errors.WithKind(err, errors.KindBackend)
			}
			continue
		}

		if _, _, err := conn.Execute(ctx, compiler.Unit{SQL: unit.SQL}, nil); err != nil {
			conn.Rollback(ctx) //nolint:errcheck
			return nil, errors.WithKind(err, errors.KindBackend)
		}
	}

	if err := conn.DisableTriggers(ctx, desc.TablesNeedingTriggerDisable); err != nil {
		conn.Rollback(ctx) //nolint:errcheck
		return nil, errors.WithKind(err, errors.KindBackend)
	}

	return &Session{conn: conn, comp: comp, desc: desc}, nil
}

// Session tracks an in-progress restore across the block loop, since the
// engine's cooperative model suspends between each RestoreBlock message
// rather than blocking inside Run.
type Session struct {
	conn backend.Conn
	comp compiler.Compiler
	desc compiler.RestoreDescription
}

// WriteReady emits RestoreReady.
func WriteReady(writer *frame.Writer) error {
	writer.Start(protocol.ServerRestoreReady)
	writer.AddLenString("j1")
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

// Feed applies one RestoreBlock. The caller is
// responsible for pausing its transport reader before calling Feed and
// resuming after it returns, to implement the documented backpressure.
func (s *Session) Feed(ctx context.Context, block dump.Block) error {
	_, _, err := s.conn.Execute(ctx, compiler.Unit{}, block.Data)
	if err != nil {
		return errors.WithKind(err, errors.KindBackend)
	}

	return nil
}

// Finish executes the repopulate units, re-enables triggers, and commits.
// On any failure the transaction is rolled back and the error returned.
func (s *Session) Finish(ctx context.Context) error {
	for _, sql := range s.desc.RepopulateUnits {
		if _, _, err := s.conn.Execute(ctx, compiler.Unit{SQL: sql}, nil); err != nil {
			s.conn.Rollback(ctx) //nolint:errcheck
			return errors.WithKind(err, errors.KindBackend)
		}
	}

	var tables []string
	for _, t := range s.desc.TablesNeedingTriggerDisable {
		tables = append(tables, t)
	}

	if err := s.conn.EnableTriggers(ctx, tables); err != nil {
		s.conn.Rollback(ctx) //nolint:errcheck
		return errors.WithKind(err, errors.KindBackend)
	}

	if err := s.conn.Commit(ctx); err != nil {
		s.conn.Rollback(ctx) //nolint:errcheck
		return errors.WithKind(err, errors.KindBackend)
	}

	return nil
}

// Abort rolls back an in-progress restore, used when the client
// disappears or a step outside Feed/Finish fails.
func (s *Session) Abort(ctx context.Context) error {
	return s.conn.Rollback(ctx)
}

func protocolVersionInRange(major, minor uint16) bool {
	v := protocol.NewVersion(major, minor)
	return protocol.InDumpRange(v)
}
