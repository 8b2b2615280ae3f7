package wire

import (
	"github.com/google/uuid"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/session"
)

// requestHeader is the shared request descriptor read by both the Parse
// and Execute paths.
type requestHeader struct {
	req           compiler.CompilationRequest
	allowCapabilities uint64
}

// readAnnotations discards the leading annotation map every request
// carries.
func readAnnotations(reader *frame.Reader) error {
	count, err := reader.GetUint16()
	if err != nil {
		return err
	}

	for i := uint16(0); i < count; i++ {
		if _, err := reader.GetLenString(); err != nil {
			return err
		}
		if _, err := reader.GetLenString(); err != nil {
			return err
		}
	}

	return nil
}

// readRequestHeader reads the request descriptor common to Parse and
// Execute: capabilities mask, compilation flags, implicit
// limit, language/output/cardinality tags, query text, and the trailing
// state type id + state data, which it decodes into view. On a state
// mismatch it first emits a fresh StateDataDescription (so the client can
// retry with the current id) before returning the error.
func readRequestHeader(reader *frame.Reader, writer *frame.Writer, view session.View) (requestHeader, error) {
	var h requestHeader

	if err := readAnnotations(reader); err != nil {
		return h, err
	}

	allow, err := reader.GetUint64()
	if err != nil {
		return h, err
	}
	h.allowCapabilities = allow

	flags, err := reader.GetBytes(1)
	if err != nil {
		return h, err
	}
	h.req.Inline = compiler.InlineFlags{
		TypeIDs:   flags[0]&0x01 != 0,
		TypeNames: flags[0]&0x02 != 0,
		ObjectIDs: flags[0]&0x04 != 0,
	}

	limit, err := reader.GetUint64()
	if err != nil {
		return h, err
	}
	h.req.ImplicitLimit = int64(limit)
	if h.req.ImplicitLimit < 0 {
		return h, protocolError("implicit limit must be non-negative")
	}

	langByte, err := reader.GetBytes(1)
	if err != nil {
		return h, err
	}
	h.req.Language = compiler.Language(langByte[0])

	outByte, err := reader.GetBytes(1)
	if err != nil {
		return h, err
	}
	h.req.OutputFormat = compiler.OutputFormat(outByte[0])

	cardByte, err := reader.GetBytes(1)
	if err != nil {
		return h, err
	}
	h.req.Cardinality = compiler.Cardinality(cardByte[0])
	if h.req.Cardinality == compiler.CardinalityNoResult {
		return h, protocolError("NO_RESULT cardinality may not be requested")
	}
	switch h.req.Cardinality {
	case compiler.CardinalityAtMostOne, compiler.CardinalityMany:
	default:
		return h, protocolError("unknown cardinality tag")
	}

	query, err := reader.GetLenString()
	if err != nil {
		return h, err
	}
	h.req.NormalizedText = query
	h.req.SchemaVersion = view.SchemaVersion()

	idBytes, err := reader.GetBytes(16)
	if err != nil {
		return h, err
	}
	stateTypeID, err := uuid.FromBytes(idBytes)
	if err != nil {
		return h, err
	}

	stateLen, err := reader.GetInt32()
	if err != nil {
		return h, err
	}
	stateData, err := reader.GetBytes(int(stateLen))
	if err != nil {
		return h, err
	}

	if err := view.DecodeState(stateTypeID, stateData); err != nil {
		freshID, freshData := view.DescribeState()
		if werr := writeStateDataDescription(writer, freshID, freshData); werr != nil {
			return h, werr
		}
		return h, err
	}

	return h, nil
}

func writeStateDataDescription(writer *frame.Writer, typeID uuid.UUID, data []byte) error {
	writer.Start(protocol.ServerStateDataDescription)
	idBytes := typeID
	writer.AddBytes(idBytes[:])
	writer.AddLenBytes(data)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

// writeCommandDataDescription emits the CommandDataDescription message for
// a single compiled unit: capabilities, cardinality, input
// type id + descriptor, output type id + descriptor, and an optional
// warnings JSON annotation.
func writeCommandDataDescription(writer *frame.Writer, unit compiler.Unit, warnings []byte) error {
	writer.Start(protocol.ServerCommandDataDescription)
	writer.AddLenBytes(warnings)
	writer.AddUint64(unit.Capabilities)
	writer.AddByte(byte(unit.Cardinality))

	inID := unit.InputTypeID
	writer.AddBytes(inID[:])
	writer.AddLenBytes(unit.InputDescriptor)

	outID := unit.OutputTypeID
	writer.AddBytes(outID[:])
	writer.AddLenBytes(unit.OutputDescriptor)

	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

// writeDataRow emits one Data message: a column count followed by each
// column's length-prefixed (NULL-capable) value example
// row `00 00 00 01  00 00 00 04  00 00 00 01`.
func writeDataRow(writer *frame.Writer, values [][]byte) error {
	writer.Start(protocol.ServerData)
	writer.AddInt32(int32(len(values)))
	for _, v := range values {
		writer.AddLenBytes(v)
	}
	return writer.End()
}

// writeCommandComplete emits CommandComplete: capabilities,
// status token, then the current state type id + data.
func writeCommandComplete(writer *frame.Writer, unit compiler.Unit, stateTypeID uuid.UUID, stateData []byte) error {
	writer.Start(protocol.ServerCommandComplete)
	writer.AddUint64(unit.Capabilities)
	writer.AddLenString(unit.StatusToken)
	idBytes := stateTypeID
	writer.AddBytes(idBytes[:])
	writer.AddLenBytes(stateData)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}
