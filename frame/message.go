package frame

import "math"

// MaxPreparedStatementArgs bounds the argument count the recoder will
// accept: the combined-raw-args path hard-caps the count
// at 32767 even though the wire count field is an unsigned i16.
const MaxPreparedStatementArgs = math.MaxInt16

// DumpHeaderKey numbers the DumpHeader/DumpBlock header keys. The dump
// package's WriteHeader, WriteBlock, ReadHeader and ReadBlock neither
// emit nor read these keys: both messages are a fixed sequence of
// positional fields, opened by a single marker byte, BlockTypeInfo ('I')
// on the DumpHeader preamble and BlockTypeData ('D') on a DumpBlock.
type DumpHeaderKey uint16

const (
	KeyBlockType            DumpHeaderKey = 101
	KeyServerTime           DumpHeaderKey = 102
	KeyServerVersion        DumpHeaderKey = 103
	KeyBlocksInfo           DumpHeaderKey = 104
	KeyServerCatalogVersion DumpHeaderKey = 105

	KeyBlockID   DumpHeaderKey = 110
	KeyBlockNum  DumpHeaderKey = 111
	KeyBlockData DumpHeaderKey = 112
)

// BlockTypeInfo and BlockTypeData are the single-byte markers that open a
// DumpHeader and a DumpBlock body.
const (
	BlockTypeInfo byte = 'I'
	BlockTypeData byte = 'D'
)

// CommandStatus is the short status token attached to CommandComplete.
type CommandStatus string

const (
	StatusSelect  CommandStatus = "SELECT"
	StatusDump    CommandStatus = "DUMP"
	StatusRestore CommandStatus = "RESTORE"
)
