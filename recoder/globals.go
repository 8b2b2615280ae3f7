package recoder

import (
	"bytes"
	"encoding/binary"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/session"
)

// injectGlobals looks up each declared global's session value and emits
// it (or NULL if undefined), followed by an optional presence marker. A
// global declared with SubParams recurses through the same tuple/array
// fan-out decodeSubParams applies to declared parameters, since a
// composite global's stored value carries the same wire shape.
func injectGlobals(globals []compiler.Global, view session.View) ([][]byte, error) {
	sessionGlobals := view.GetGlobals()

	var out [][]byte
	for _, g := range globals {
		entry, ok := sessionGlobals[g.Name]
		present := ok && entry.Present

		values, err := recodeGlobalValue(g, entry.Value, present, view)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)

		if g.HasPresentArg {
			marker := []byte{0x00}
			if present {
				marker = []byte{0x01}
			}

			var framed bytes.Buffer
			writeLenBytes(&framed, marker)
			out = append(out, framed.Bytes())
		}
	}

	return out, nil
}

// recodeGlobalValue returns the one-or-more backend positional values a
// single global contributes.
func recodeGlobalValue(g compiler.Global, value []byte, present bool, view session.View) ([][]byte, error) {
	if g.SubParams == nil {
		if !present {
			return [][]byte{nil}, nil
		}
		return [][]byte{value}, nil
	}

	if !present {
		return nil, errors.WithKind(errors.New("global $"+g.Name+" has a composite type and has no value set"), errors.KindInputData)
	}

	reader := &frame.Reader{Msg: value, MaxMessageSize: len(value) + 4}
	values, err := decodeSubParams(*g.SubParams, view, reader)
	if err != nil {
		return nil, err
	}

	if g.SubParams.Kind == compiler.SubParamsArray && g.ArrayTypeID != nil {
		backendOID, err := view.ResolveBackendTypeID(*g.ArrayTypeID)
		if err != nil {
			return nil, errors.WithKind(err, errors.KindInputData)
		}
		for i, v := range values {
			values[i] = patchArrayElementOID(v, uint32(backendOID))
		}
	}

	return values, nil
}

// patchArrayElementOID overwrites the element-OID field decodeArraySubParam
// leaves as a placeholder, at byte offset 8 of its framed array value
// (ndims, flags, oid, count, bound, ...data).
func patchArrayElementOID(value []byte, oid uint32) []byte {
	if len(value) < 12 {
		return value
	}
	binary.BigEndian.PutUint32(value[8:12], oid)
	return value
}
