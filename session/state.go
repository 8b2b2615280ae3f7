package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/errors"
)

// StateTypeID identifies the encoding this package's State.EncodeState /
// DecodeState speak. A real deployment with a schema-aware view would
// version this per schema change; this default implementation has a
// single fixed encoding.
var StateTypeID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// State is the default in-memory View implementation. It tracks exactly
// the fields that make up session state: transaction id, in-tx-error
// flag, savepoint stack, session config, session aliases, and globals.
type State struct {
	mu sync.Mutex

	dbname        string
	schemaVersion uuid.UUID

	txID      *uuid.UUID
	inTxError bool
	savepoints []string

	config  map[string]string
	aliases map[string]string
	globals map[string]Global

	compileCache map[string]compiler.QueryUnitGroup
}

// NewState constructs an empty State for a freshly authenticated
// connection against the named database.
func NewState(dbname string, schemaVersion uuid.UUID) *State {
	return &State{
		dbname:        dbname,
		schemaVersion: schemaVersion,
		config:        make(map[string]string),
		aliases:       make(map[string]string),
		globals:       make(map[string]Global),
		compileCache:  make(map[string]compiler.QueryUnitGroup),
	}
}

func (s *State) InTx() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID != nil
}

func (s *State) InTxError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTxError
}

func (s *State) TxID() *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID
}

func (s *State) DBName() string { return s.dbname }

func (s *State) SchemaVersion() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaVersion
}

// BeginTx records that a unit's tx_id flag opened a transaction.
func (s *State) BeginTx(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txID = &id
	s.savepoints = nil
}

// CommitTx clears the open transaction, per the unit tx_commit flag.
func (s *State) CommitTx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txID = nil
	s.inTxError = false
	s.savepoints = nil
}

func (s *State) AbortTx() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txID = nil
	s.inTxError = false
	s.savepoints = nil
	return nil
}

func (s *State) ClearTxError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTxError = false
}

func (s *State) RaiseInTxError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTxError = true
}

// PushSavepoint records a named savepoint, per the unit tx_savepoint_*
// flags.
func (s *State) PushSavepoint(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savepoints = append(s.savepoints, name)
}

func (s *State) RollbackTxToSavepoint(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.savepoints) - 1; i >= 0; i-- {
		if s.savepoints[i] == name {
			s.savepoints = s.savepoints[:i+1]
			s.inTxError = false
			return nil
		}
	}

	return errors.WithKind(errors.New("savepoint not found: "+name), errors.KindQuery)
}

func (s *State) GetGlobals() map[string]Global {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Global, len(s.globals))
	for k, v := range s.globals {
		out[k] = v
	}
	return out
}

// SetGlobal sets or clears a session global, used by the external
// collaborator that applies `set global` style state changes.
func (s *State) SetGlobal(name string, value []byte, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[name] = Global{Value: value, Present: present}
}

func (s *State) ResolveBackendTypeID(id uuid.UUID) (oid.Oid, error) {
	// The default in-memory view has no schema to consult; a real
	// deployment backs this with a catalog lookup. Returning an error
	// here means recoding an array parameter requires a schema-aware
	// View implementation.
	return 0, errors.WithKind(errors.New("no backend type catalog configured"), errors.KindBackend)
}

func (s *State) Parse(ctx context.Context, req compiler.CompilationRequest, allowCapabilities uint64) (compiler.CompiledQuery, error) {
	return compiler.CompiledQuery{}, errors.WithKind(errors.New("no compiler configured"), errors.KindQuery)
}

func (s *State) LookupCompiledQuery(req compiler.CompilationRequest) (compiler.QueryUnitGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.compileCache[req.Hash()]
	return group, ok
}

func (s *State) AsCompiled(req compiler.CompilationRequest, group compiler.QueryUnitGroup) compiler.CompiledQuery {
	return compiler.CompiledQuery{Request: req, Units: group.Units}
}

// StoreCompiled records a freshly compiled unit group under its request
// hash, where LookupCompiledQuery finds it. It is not part of View, and
// the dispatcher does not call it.
func (s *State) StoreCompiled(req compiler.CompilationRequest, group compiler.QueryUnitGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compileCache[req.Hash()] = group
}

// InvalidateCompileCache discards every cached compile and records
// newVersion as the schema version. The dispatcher does not call it.
func (s *State) InvalidateCompileCache(newVersion uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compileCache = make(map[string]compiler.QueryUnitGroup)
	s.schemaVersion = newVersion
}
