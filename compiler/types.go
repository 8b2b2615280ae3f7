// Package compiler declares the value types and the external compiler
// interface this engine drives but never implements itself: query
// compilation and planning is an external collaborator.
package compiler

import "github.com/google/uuid"

// NullTypeID is the all-zero sentinel input type id meaning "no
// arguments".
var NullTypeID uuid.UUID

// Language is the input language tag carried on a CompilationRequest.
type Language string

const (
	LanguageEdgeQL Language = "EDGEQL"
	LanguageSQL    Language = "SQL"
)

// OutputFormat is the requested output encoding for a compiled unit.
type OutputFormat byte

const (
	OutputBinary      OutputFormat = 'b'
	OutputJSON        OutputFormat = 'j'
	OutputJSONElements OutputFormat = 'J'
	OutputNone        OutputFormat = 'n'
)

// Cardinality is the expected/declared result cardinality of a unit.
type Cardinality byte

const (
	CardinalityNoResult  Cardinality = 'n'
	CardinalityAtMostOne Cardinality = 'o'
	CardinalityMany      Cardinality = 'm'
)

// InlineFlags controls which identifiers the compiler inlines into result
// descriptors.
type InlineFlags struct {
	TypeIDs   bool
	TypeNames bool
	ObjectIDs bool
}

// CompilationRequest is a value-typed description of a query, sufficient
// to key the compile cache.
type CompilationRequest struct {
	NormalizedText   string
	ExtractedLiterals []string
	ProtocolMajor    uint16
	ProtocolMinor    uint16
	SchemaVersion    uuid.UUID
	Language         Language
	OutputFormat     OutputFormat
	Cardinality      Cardinality
	ImplicitLimit    int64
	Inline           InlineFlags
	ModAliases       map[string]string
	SessionConfig    map[string]string
	DatabaseConfig   map[string]string
	SystemConfig     map[string]string
}

// Hash returns the stable cache key for this request. The compile cache in
// session.State and the dispatcher's last-anonymous-compile shortcut both
// compare requests by this value rather than deep-equality.
func (r CompilationRequest) Hash() string {
	return hashRequest(r)
}

// Param describes one declared input parameter of a compiled unit.
type Param struct {
	Name         string
	Required     bool
	ArrayTypeID  *uuid.UUID
	SubParams    *SubParamsDescriptor
}

// SubParamsDescriptor describes a tuple- or array-typed parameter's
// nested shape for the fan-out decoder.
type SubParamsDescriptor struct {
	Kind     SubParamsKind
	Elements []SubParamsDescriptor
}

// SubParamsKind tags a SubParamsDescriptor node.
type SubParamsKind byte

const (
	SubParamsScalar SubParamsKind = 's'
	SubParamsTuple  SubParamsKind = 't'
	SubParamsArray  SubParamsKind = 'a'
)

// Global describes one declared global referenced by a compiled unit.
// ArrayTypeID and SubParams mirror their Param counterparts: SubParams
// describes a tuple/array-typed global's nested shape for the fan-out
// decoder, and ArrayTypeID (set only alongside a SubParamsArray kind)
// carries the element type id backend OID resolution needs once the
// array's own placeholder OID has been decoded.
type Global struct {
	Name           string
	HasPresentArg  bool
	ArrayTypeID    *uuid.UUID
	SubParams      *SubParamsDescriptor
}

// Unit is one atomic compiled step.
type Unit struct {
	InputTypeID    uuid.UUID
	OutputTypeID   uuid.UUID
	InputDescriptor  []byte
	OutputDescriptor []byte
	SQL              string
	SQLHash          string
	Cardinality      Cardinality
	Capabilities     uint64
	StatusToken      string
	Params           []Param
	Globals          []Global

	// Extras holds the compiler's extracted-literal values, appended
	// after the declared parameters by the recoder as the
	// compiler-provided extras blob. A nil entry is NULL.
	Extras [][]byte

	// Transaction-control flags.
	TxID             *uuid.UUID
	TxCommit         bool
	TxRollback       bool
	TxSavepointName  string
	TxSavepointRollback bool
	TxAbortMigration bool
}

// CompiledQuery is a CompilationRequest paired with its resulting unit
// group.
type CompiledQuery struct {
	Request CompilationRequest
	Units   []Unit
}

// QueryUnitGroup is the cached payload the view's compile cache stores,
// independent of the request that produced it (so a fresh request with
// matching type ids can reuse it directly).
type QueryUnitGroup struct {
	Units []Unit
}
