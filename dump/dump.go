package dump

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq/oid"
	"golang.org/x/sync/errgroup"

	"github.com/relaydb/wire/backend"
	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/session"
)

// Config carries the static fields the dump header's preamble needs that
// don't come from the compiler.
type Config struct {
	ServerVersion  string
	CatalogVersion uint64
	IncludeSecrets bool
}

// Run executes the dump protocol against one dedicated backend
// connection. It must not be called while view.InTx().
func Run(ctx context.Context, view session.View, comp compiler.Compiler, conn backend.Conn, writer *frame.Writer, cfg Config) error {
	if view.InTx() {
		return errors.WithKind(errors.New("dump called while in a transaction"), errors.KindQuery)
	}

	if err := conn.BeginReadOnlySerializableDeferrable(ctx); err != nil {
		return errors.WithKind(err, errors.KindBackend)
	}
	defer conn.Rollback(ctx) //nolint:errcheck

	if err := conn.SetStatementTimeout(ctx, 0); err != nil {
		return errors.WithKind(err, errors.KindBackend)
	}
	if err := conn.SetIdleInTransactionTimeout(ctx, 0); err != nil {
		return errors.WithKind(err, errors.KindBackend)
	}

	desc, err := comp.DescribeDump(ctx, compiler.DescribeDumpInput{
		IncludeSecrets: cfg.IncludeSecrets,
	})
	if err != nil {
		return errors.WithKind(err, errors.KindBackend)
	}

	schemaDDL := desc.SchemaDDL
	for _, q := range desc.DynamicDDL {
		mappings, err := conn.ExecDDL(ctx, q.SQL)
		if err != nil {
			return errors.WithKind(err, errors.KindBackend)
		}
		schemaDDL += renderDDLResult(mappings)
	}

	header := Header{
		ServerVersion:  cfg.ServerVersion,
		CatalogVersion: cfg.CatalogVersion,
		ServerTime:     time.Now(),
		ProtocolMajor:  protocol.CurrentVersion.Major(),
		ProtocolMinor:  protocol.CurrentVersion.Minor(),
		SchemaDDL:      schemaDDL,
		TypeIDs:        desc.TypeIDs,
		Blocks:         desc.Blocks,
	}

	if err := WriteHeader(writer, header); err != nil {
		return err
	}

	if err := streamBlocks(ctx, conn, desc.Blocks, writer); err != nil {
		return err
	}

	writer.Start(protocol.ServerCommandComplete)
	writer.AddLenString(string(frame.StatusDump))
	if err := writer.End(); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	return nil
}

// streamBlocks spawns the producer/consumer pair: the producer fetches
// each schema object's row data from conn and pushes it onto the bounded
// queue, the consumer drains it in order onto writer. The pair is
// coordinated through golang.org/x/sync/errgroup so the first error from
// either side cancels the other and is propagated to the caller.
func streamBlocks(ctx context.Context, conn backend.Conn, blocks []compiler.SchemaBlock, writer *frame.Writer) error {
	queue := newBlockQueue()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)

		for i, b := range blocks {
			data, err := fetchBlockData(gctx, conn, b)
			if err != nil {
				return errors.WithKind(err, errors.KindBackend)
			}

			select {
			case <-gctx.Done():
				return gctx.Err()
			case queue <- queuedBlock{block: Block{SchemaObjectID: b.ObjectID, BlockNum: i, Data: data}}:
			}
		}

		return nil
	})

	g.Go(func() error {
		for qb := range queue {
			if err := WriteBlock(writer, qb.block); err != nil {
				return err
			}

			// Apply backpressure by draining the write buffer before
			// pulling the next queue item.
			if err := writer.Flush(); err != nil {
				return err
			}
		}

		return nil
	})

	return g.Wait()
}

// fetchBlockData runs one schema object's fetch query and encodes its
// rows into the opaque payload a DumpBlock carries. A block with no
// fetch query (e.g. an object with no row data of its own) carries no
// payload.
func fetchBlockData(ctx context.Context, conn backend.Conn, b compiler.SchemaBlock) ([]byte, error) {
	if b.FetchSQL == "" {
		return nil, nil
	}

	rows, err := conn.FetchBlockData(ctx, b.FetchSQL)
	if err != nil {
		return nil, err
	}
	return encodeBlockRows(rows)
}

// encodeBlockRows renders pgx rows into this protocol's row-data
// encoding: a row count, then per row a column count followed by each
// column's length-prefixed (NULL-capable) raw bytes, the same framing
// writeDataRow uses for client-facing Data messages. Columns are
// forwarded as the raw wire-format bytes the backend already produced,
// never decoded or re-encoded.
func encodeBlockRows(rows pgx.Rows) ([]byte, error) {
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var body bytes.Buffer
	var rowCount uint32

	for rows.Next() {
		values := rows.RawValues()
		writeUint32(&body, uint32(len(values)))

		for _, v := range values {
			if v == nil {
				writeUint32(&body, 0xFFFFFFFF)
				continue
			}
			writeUint32(&body, uint32(len(v)))
			body.Write(v)
		}

		rowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	writeUint32(&out, rowCount)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// renderDDLResult folds a DDL statement's resulting type mappings into
// text appended to the schema DDL.
func renderDDLResult(mappings map[string]oid.Oid) string {
	if len(mappings) == 0 {
		return ""
	}

	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	out := "\n-- type mappings\n"
	for _, name := range names {
		out += fmt.Sprintf("-- %s: %d\n", name, mappings[name])
	}

	return out
}
