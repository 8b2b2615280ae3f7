// Package backend declares the external SQL backend interfaces this
// engine pins and releases leases against, but never implements itself:
// the SQL backend connection is an external collaborator.
package backend

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq/oid"

	"github.com/relaydb/wire/compiler"
)

// Pool hands out backend connections, pinned for the duration of a
// transaction or a single in-flight request: at most one is pinned per
// connection at a time, and reentrant pin calls are forbidden.
type Pool interface {
	Acquire(ctx context.Context, dbname string) (Conn, error)
}

// Conn is a single leased backend connection. It wraps pgx.Conn/pgx.Tx
// (jackc/pgx/v5), adapted to the operations this protocol engine drives
// directly: parse/execute, fetch, DDL execution with type-mapping
// feedback, trigger control, and timeout management.
type Conn interface {
	// Release returns the connection to the pool. Discard, instead of
	// Release, marks the connection unusable after a cancellation.
	Release()
	Discard()

	BeginReadOnlySerializableDeferrable(ctx context.Context) error

	// BeginSerializable opens a plain (read-write) serializable
	// transaction, the isolation restore applies its DDL and data under.
	// Unlike BeginReadOnlySerializableDeferrable, this transaction may
	// issue writes.
	BeginSerializable(ctx context.Context) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	SetIdleInTransactionTimeout(ctx context.Context, d time.Duration) error
	SetStatementTimeout(ctx context.Context, d time.Duration) error

	// Execute runs one compiled unit and returns its rows, if any.
	Execute(ctx context.Context, unit compiler.Unit, args []byte) (pgx.Rows, string, error)

	// FetchBlockData runs the fetch query for one schema-object block and
	// streams back its rows, for the dump streamer to encode into that
	// block's payload.
	FetchBlockData(ctx context.Context, sql string) (pgx.Rows, error)

	// ExecDDL runs a DDL statement and returns the type mappings the
	// view must apply.
	ExecDDL(ctx context.Context, sql string) (typeMappings map[string]oid.Oid, err error)

	// DisableTriggers and EnableTriggers implement the trigger-control
	// requirement for restore.
	DisableTriggers(ctx context.Context, tables []string) error
	EnableTriggers(ctx context.Context, tables []string) error

	// Cancel issues a best-effort out-of-band cancellation for whatever
	// is currently executing on this connection.
	Cancel(ctx context.Context) error
}
