package compiler

import (
	"context"

	"github.com/google/uuid"
)

// Compiler is the external collaborator that turns a CompilationRequest
// into a CompiledQuery. The engine never parses or plans queries itself;
// it only drives this interface.
type Compiler interface {
	Compile(ctx context.Context, req CompilationRequest, allowCapabilities uint64) (CompiledQuery, error)

	// DescribeDump returns the pieces needed to emit a DumpHeader and
	// stream blocks.
	DescribeDump(ctx context.Context, in DescribeDumpInput) (DumpDescription, error)

	// DescribeRestore returns the pieces needed to apply a dump.
	DescribeRestore(ctx context.Context, in DescribeRestoreInput) (RestoreDescription, error)
}

// DescribeDumpInput carries the schema/config snapshot the dump compiler
// operation needs.
type DescribeDumpInput struct {
	UserSchema     []byte
	GlobalSchema   []byte
	DatabaseConfig map[string]string
	ProtocolMajor  uint16
	ProtocolMinor  uint16
	IncludeSecrets bool
}

// TypeIDTriple is one (typename, descriptor, id) entry in a dump header's
// type-id section.
type TypeIDTriple struct {
	TypeName   string
	Descriptor []byte
	ID         uuid.UUID
}

// SchemaBlock describes one schema-object block in a dump header.
// Descriptor is the object's type descriptor, carried in the header; the
// block's own payload is fetched separately, by running FetchSQL against
// the backend.
type SchemaBlock struct {
	ObjectID     uuid.UUID
	Descriptor   []byte
	Dependencies []uuid.UUID

	// FetchSQL selects this object's row data, run through
	// backend.Conn.FetchBlockData while streaming the corresponding
	// DumpBlock.
	FetchSQL string
}

// DynamicDDLQuery is a DDL query the server must execute against the
// backend and fold the result back into the schema DDL text.
type DynamicDDLQuery struct {
	SQL string
}

// DumpDescription is the result of DescribeDump.
type DumpDescription struct {
	SchemaDDL   string
	DynamicDDL  []DynamicDDLQuery
	TypeIDs     []TypeIDTriple
	Blocks      []SchemaBlock
}

// DescribeRestoreInput carries the parsed dump header.
type DescribeRestoreInput struct {
	SchemaDDL string
	TypeIDs   []TypeIDTriple
	Blocks    []SchemaBlock
}

// SchemaSQLUnit is one schema-application step.
// DDLStatementID is non-nil when the unit must run through the backend's
// DDL execution mode (which returns type mappings) rather than as plain
// SQL.
type SchemaSQLUnit struct {
	SQL             string
	DDLStatementID  *uuid.UUID
	IsConfigureInstance bool
}

// RestoreDescription is the result of DescribeRestore.
type RestoreDescription struct {
	SchemaSQLUnits          []SchemaSQLUnit
	RestoreBlocks           []SchemaBlock
	TablesNeedingTriggerDisable []string
	RepopulateUnits         []string
}
