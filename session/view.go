// Package session models the per-connection database view: transaction
// status, savepoints, session configuration, and the globals map, plus
// the state-descriptor encoding exchanged with clients so they can
// resume a session across reconnects.
package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"

	"github.com/relaydb/wire/compiler"
)

// Global is one session global's value and presence.
type Global struct {
	Value   []byte
	Present bool
}

// View is the external per-connection collaborator the engine drives but
// does not own the lifetime of. The default
// in-memory State type below implements it directly; a real deployment
// may back it with a schema-aware service instead.
type View interface {
	InTx() bool
	InTxError() bool
	TxID() *uuid.UUID
	DBName() string
	SchemaVersion() uuid.UUID

	Parse(ctx context.Context, req compiler.CompilationRequest, allowCapabilities uint64) (compiler.CompiledQuery, error)
	LookupCompiledQuery(req compiler.CompilationRequest) (compiler.QueryUnitGroup, bool)
	AsCompiled(req compiler.CompilationRequest, group compiler.QueryUnitGroup) compiler.CompiledQuery

	DescribeState() (typeID uuid.UUID, data []byte)
	EncodeState() (typeID uuid.UUID, data []byte)
	DecodeState(typeID uuid.UUID, data []byte) error

	ResolveBackendTypeID(id uuid.UUID) (oid.Oid, error)

	RollbackTxToSavepoint(name string) error
	AbortTx() error
	ClearTxError()
	RaiseInTxError()

	GetGlobals() map[string]Global
}
