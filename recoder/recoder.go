// Package recoder translates a client-supplied parameter stream into the
// exact shape the backend expects: injecting backend type
// ids into array values, rejecting NULL array elements, rewriting tuple
// parameters into parallel arrays, and appending server-resolved globals.
package recoder

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/session"
)

// resultFormatAllBinary is the trailing result-format word.
const resultFormatAllBinary uint32 = 0x00010001

// Recode rewrites the client-provided parameter stream for the given
// compiled unit into the backend's expected Bind-style layout.
func Recode(unit compiler.Unit, view session.View, inputTypeID uuid.UUID, input []byte) ([]byte, error) {
	values := make([][]byte, 0, len(unit.Params)+len(unit.Extras)+len(unit.Globals))

	switch {
	case inputTypeID == compiler.NullTypeID:
		// A NULL_TYPE_ID parameter stream carries no argument-count
		// prefix at all: the client omits it entirely, so the unit is
		// required to declare zero parameters.
		if len(input) != 0 {
			return nil, errors.WithKind(errors.New("non-empty input for NULL_TYPE_ID"), errors.KindInputData)
		}
		if len(unit.Params) != 0 {
			return nil, errors.WithKind(errors.New("parameter count mismatch"), errors.KindInputData)
		}

	case len(input) == 0:
		return nil, errors.WithKind(errors.New("empty input for non-NULL type id"), errors.KindInputData)

	default:
		reader := &frame.Reader{Msg: input, MaxMessageSize: len(input) + 4}

		recvArgs, err := reader.GetInt32()
		if err != nil {
			return nil, errors.WithKind(err, errors.KindInputData)
		}

		if int(recvArgs) != len(unit.Params) {
			return nil, errors.WithKind(errors.New("parameter count mismatch"), errors.KindInputData)
		}

		if recvArgs > frame.MaxPreparedStatementArgs {
			return nil, errors.WithKind(errors.New("too many parameters"), errors.KindInputData)
		}

		for _, param := range unit.Params {
			v, err := recodeParam(param, view, reader)
			if err != nil {
				return nil, err
			}
			values = append(values, v...)
		}

		if reader.Remaining() != 0 {
			return nil, errors.WithKind(errors.New("trailing bytes in parameter stream"), errors.KindInputData)
		}
	}

	values = append(values, unit.Extras...)

	globalValues, err := injectGlobals(unit.Globals, view)
	if err != nil {
		return nil, err
	}
	values = append(values, globalValues...)

	var out bytes.Buffer
	writeFormatCodes(&out, len(unit.Params), len(unit.Extras), len(unit.Globals))
	writeUint16(&out, uint16(len(values)))

	for _, v := range values {
		writeLenBytes(&out, v)
	}

	writeUint32(&out, resultFormatAllBinary)

	return out.Bytes(), nil
}

// recodeParam handles one declared parameter, returning one or more
// backend positional values (more than one only for tuple fan-out).
func recodeParam(param compiler.Param, view session.View, reader *frame.Reader) ([][]byte, error) {
	if _, err := reader.GetUint32(); err != nil { // reserved, opaque to the recoder
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	length, err := reader.GetInt32()
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	if length < 0 {
		if param.Required {
			return nil, errors.WithKind(errors.New("parameter $"+param.Name+" is required"), errors.KindQuery)
		}

		return [][]byte{nil}, nil
	}

	value, err := reader.GetBytes(int(length))
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	if param.SubParams != nil {
		subReader := &frame.Reader{Msg: value, MaxMessageSize: len(value) + 4}
		return decodeSubParams(*param.SubParams, view, subReader)
	}

	if param.ArrayTypeID != nil {
		backendOID, err := view.ResolveBackendTypeID(*param.ArrayTypeID)
		if err != nil {
			return nil, errors.WithKind(err, errors.KindInputData)
		}

		rewritten, err := rewriteArray(value, uint32(backendOID))
		if err != nil {
			return nil, err
		}

		return [][]byte{rewritten}, nil
	}

	return [][]byte{value}, nil
}

// rewriteArray rewrites an array value's header, overwriting the element
// OID and validating ndims/bound.
func rewriteArray(value []byte, backendOID uint32) ([]byte, error) {
	if len(value) < 20 {
		return nil, errors.WithKind(errors.New("array value too short"), errors.KindInputData)
	}

	ndims := binary.BigEndian.Uint32(value[0:4])
	if ndims > 1 {
		return nil, errors.WithKind(errors.New("unsupported array ndims"), errors.KindInputData)
	}

	flags := value[4:8]
	count := binary.BigEndian.Uint32(value[12:16])
	bound := binary.BigEndian.Uint32(value[16:20])
	if bound != 1 {
		return nil, errors.WithKind(errors.New("unsupported array bound"), errors.KindInputData)
	}

	out := make([]byte, 0, len(value))
	var ndimsBytes, oidBytes, countBytes, boundBytes [4]byte
	binary.BigEndian.PutUint32(ndimsBytes[:], ndims)
	binary.BigEndian.PutUint32(oidBytes[:], backendOID)
	binary.BigEndian.PutUint32(countBytes[:], count)
	binary.BigEndian.PutUint32(boundBytes[:], bound)

	out = append(out, ndimsBytes[:]...)
	out = append(out, flags...)
	out = append(out, oidBytes[:]...)
	out = append(out, countBytes[:]...)
	out = append(out, boundBytes[:]...)

	pos := 20
	for i := uint32(0); i < count; i++ {
		if len(value) < pos+4 {
			return nil, errors.WithKind(errors.New("truncated array element"), errors.KindInputData)
		}

		elemLen := int32(binary.BigEndian.Uint32(value[pos : pos+4]))
		if elemLen < 0 {
			return nil, errors.WithKind(errors.New("NULL array element not allowed"), errors.KindInputData)
		}

		pos += 4
		if len(value) < pos+int(elemLen) {
			return nil, errors.WithKind(errors.New("truncated array element data"), errors.KindInputData)
		}

		var lenBytes [4]byte
		binary.BigEndian.PutUint32(lenBytes[:], uint32(elemLen))
		out = append(out, lenBytes[:]...)
		out = append(out, value[pos:pos+int(elemLen)]...)
		pos += int(elemLen)
	}

	return out, nil
}

// writeFormatCodes implements the policy-dependent format-code
// prefix.
func writeFormatCodes(out *bytes.Buffer, realArgs, extras, globals int) {
	switch {
	case extras == 0:
		writeUint32(out, 0x00010001)
	case realArgs == 0 && globals == 0:
		writeUint16(out, 0)
	default:
		total := realArgs + extras + globals
		writeUint16(out, uint16(total))

		for i := 0; i < realArgs; i++ {
			writeUint16(out, 1)
		}
		for i := 0; i < extras; i++ {
			writeUint16(out, 0)
		}
		for i := 0; i < globals; i++ {
			writeUint16(out, 1)
		}
	}
}

func writeUint16(out *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	out.Write(b[:])
}

func writeUint32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

func writeLenBytes(out *bytes.Buffer, v []byte) {
	if v == nil {
		writeUint32(out, 0xFFFFFFFF) // -1 as i32
		return
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(v)))
	out.Write(b[:])
	out.Write(v)
}
