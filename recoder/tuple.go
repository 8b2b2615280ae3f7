package recoder

import (
	"bytes"
	"encoding/binary"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/session"
)

// decodeSubParams fans a single client-supplied encoded tuple-or-array
// value out into one-or-more backend positional sub-parameters. Each
// returned entry is one bare backend value; Recode adds the (len, bytes)
// value framing when it appends it to the output value list.
func decodeSubParams(desc compiler.SubParamsDescriptor, view session.View, reader *frame.Reader) ([][]byte, error) {
	switch desc.Kind {
	case compiler.SubParamsScalar:
		v, err := readLenBytes(reader)
		if err != nil {
			return nil, err
		}
		return [][]byte{v}, nil

	case compiler.SubParamsTuple:
		return decodeTuple(desc, view, reader)

	case compiler.SubParamsArray:
		return decodeArraySubParam(desc, view, reader)

	default:
		return nil, errors.WithKind(errors.New("unknown sub-parameter descriptor kind"), errors.KindInputData)
	}
}

// decodeTuple recurses into each declared element, each contributing its
// own backend positional sub-parameter(s).
func decodeTuple(desc compiler.SubParamsDescriptor, view session.View, reader *frame.Reader) ([][]byte, error) {
	count, err := reader.GetUint32()
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	if int(count) != len(desc.Elements) {
		return nil, errors.WithKind(errors.New("tuple element count mismatch"), errors.KindInputData)
	}

	var out [][]byte
	for _, el := range desc.Elements {
		sub, err := decodeSubParams(el, view, reader)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}

	return out, nil
}

// decodeArraySubParam accumulates an array's elements into a single
// backend array positional sub-parameter. Scalar elements are copied
// verbatim; nested arrays additionally track the rolling offsets.
// Tuple-typed elements inside an array have no representation in this
// accumulator's flat element-offset layout, so they are rejected rather
// than silently read as a scalar (a tuple's element-count prefix is not
// a value length).
func decodeArraySubParam(desc compiler.SubParamsDescriptor, view session.View, reader *frame.Reader) ([][]byte, error) {
	ndims, err := reader.GetUint32()
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}
	if ndims > 1 {
		return nil, errors.WithKind(errors.New("unsupported array ndims"), errors.KindInputData)
	}

	// Skip the flags and element-OID words; the framing below writes its own.
	if _, err := reader.GetBytes(8); err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	count, err := reader.GetUint32()
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	bound, err := reader.GetUint32()
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}
	if bound != 1 {
		return nil, errors.WithKind(errors.New("unsupported array bound"), errors.KindInputData)
	}

	var elemDesc *compiler.SubParamsDescriptor
	if len(desc.Elements) == 1 {
		elemDesc = &desc.Elements[0]
	}

	var data bytes.Buffer
	var offsets []int32
	running := int32(0)

	for i := uint32(0); i < count; i++ {
		if elemDesc != nil && elemDesc.Kind == compiler.SubParamsArray {
			nested, err := decodeArraySubParam(*elemDesc, view, reader)
			if err != nil {
				return nil, err
			}
			for _, n := range nested {
				data.Write(n)
				running += int32(len(n))
			}
			offsets = append(offsets, running)
			continue
		}

		if elemDesc != nil && elemDesc.Kind == compiler.SubParamsTuple {
			return nil, errors.WithKind(errors.New("tuple-typed array elements are not supported"), errors.KindInputData)
		}

		v, err := readLenBytes(reader)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, errors.WithKind(errors.New("NULL array element not allowed"), errors.KindInputData)
		}

		writeLenBytes(&data, v)
	}

	for _, off := range offsets {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(off))
		data.Write(b[:])
	}

	var framed bytes.Buffer
	writeUint32(&framed, 1) // ndims=1
	writeUint32(&framed, 0) // flags=0
	writeUint32(&framed, 0) // element-OID placeholder, resolved by the caller for array globals
	writeUint32(&framed, count)
	writeUint32(&framed, 1) // bound=1
	framed.Write(data.Bytes())

	return [][]byte{framed.Bytes()}, nil
}

func readLenBytes(reader *frame.Reader) ([]byte, error) {
	length, err := reader.GetInt32()
	if err != nil {
		return nil, errors.WithKind(err, errors.KindInputData)
	}

	if length < 0 {
		return nil, nil
	}

	return reader.GetBytes(int(length))
}
