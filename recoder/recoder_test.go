package recoder

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/session"
)

// fixedOIDView resolves every backend type id to a fixed oid, letting
// array-recoding tests exercise rewriteArray without a real catalog.
type fixedOIDView struct {
	*session.State
	oid oid.Oid
}

func (v fixedOIDView) ResolveBackendTypeID(id uuid.UUID) (oid.Oid, error) {
	return v.oid, nil
}

func newView() *session.State {
	return session.NewState("db", uuid.Nil)
}

func paramStream(t *testing.T, values [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(values)))
	buf.Write(count[:])

	for _, v := range values {
		var reserved [4]byte
		buf.Write(reserved[:])

		if v == nil {
			var l [4]byte
			binary.BigEndian.PutUint32(l[:], 0xFFFFFFFF)
			buf.Write(l[:])
			continue
		}

		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(v)))
		buf.Write(l[:])
		buf.Write(v)
	}

	return buf.Bytes()
}

func TestRecodeScalarParam(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a"}},
	}

	input := paramStream(t, [][]byte{[]byte("hello")})
	out, err := Recode(unit, newView(), uuid.New(), input)
	require.NoError(t, err)

	// format-codes prefix (extras==0 branch): uint32 0x00010001
	assert.Equal(t, []byte{0, 1, 0, 1}, out[:4])

	valueCount := binary.BigEndian.Uint16(out[4:6])
	assert.EqualValues(t, 1, valueCount)

	length := binary.BigEndian.Uint32(out[6:10])
	assert.EqualValues(t, 5, length)
	assert.Equal(t, "hello", string(out[10:15]))
}

func TestRecodeNullTypeIDRejectsNonEmptyInput(t *testing.T) {
	unit := compiler.Unit{}
	_, err := Recode(unit, newView(), compiler.NullTypeID, []byte{1})
	require.Error(t, err)
}

func TestRecodeNullTypeIDWithNoParamsSucceeds(t *testing.T) {
	unit := compiler.Unit{}
	out, err := Recode(unit, newView(), compiler.NullTypeID, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestRecodeNullTypeIDRejectsDeclaredParams(t *testing.T) {
	unit := compiler.Unit{Params: []compiler.Param{{Name: "a"}}}
	_, err := Recode(unit, newView(), compiler.NullTypeID, nil)
	require.Error(t, err)
}

func TestRecodeNonNullTypeIDRejectsEmptyInput(t *testing.T) {
	unit := compiler.Unit{Params: []compiler.Param{{Name: "a"}}}
	_, err := Recode(unit, newView(), uuid.New(), nil)
	require.Error(t, err)
}

func TestRecodeRequiredParamRejectsNull(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a", Required: true}},
	}

	input := paramStream(t, [][]byte{nil})
	_, err := Recode(unit, newView(), uuid.New(), input)
	require.Error(t, err)
}

func TestRecodeOptionalParamAllowsNull(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a"}},
	}

	input := paramStream(t, [][]byte{nil})
	out, err := Recode(unit, newView(), uuid.New(), input)
	require.NoError(t, err)

	length := binary.BigEndian.Uint32(out[6:10])
	assert.EqualValues(t, 0xFFFFFFFF, length)
}

func TestRecodeParamCountMismatch(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a"}, {Name: "b"}},
	}

	input := paramStream(t, [][]byte{[]byte("only-one")})
	_, err := Recode(unit, newView(), uuid.New(), input)
	require.Error(t, err)
}

func TestRecodeTrailingBytesRejected(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a"}},
	}

	input := paramStream(t, [][]byte{[]byte("x")})
	input = append(input, 0xFF) // trailing garbage
	_, err := Recode(unit, newView(), uuid.New(), input)
	require.Error(t, err)
}

func pgArray(elements [][]byte) []byte {
	var buf bytes.Buffer
	var ndims, flags, arrOID, count, bound [4]byte
	binary.BigEndian.PutUint32(ndims[:], 1)
	binary.BigEndian.PutUint32(flags[:], 0)
	binary.BigEndian.PutUint32(arrOID[:], 0)
	binary.BigEndian.PutUint32(count[:], uint32(len(elements)))
	binary.BigEndian.PutUint32(bound[:], 1)
	buf.Write(ndims[:])
	buf.Write(flags[:])
	buf.Write(arrOID[:])
	buf.Write(count[:])
	buf.Write(bound[:])

	for _, e := range elements {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(e)))
		buf.Write(l[:])
		buf.Write(e)
	}

	return buf.Bytes()
}

func TestRecodeArrayParamRewritesElementOID(t *testing.T) {
	arrayType := uuid.New()
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a", ArrayTypeID: &arrayType}},
	}

	view := fixedOIDView{State: newView(), oid: oid.Oid(1043)}

	arr := pgArray([][]byte{[]byte("x"), []byte("y")})
	input := paramStream(t, [][]byte{arr})

	out, err := Recode(unit, view, uuid.New(), input)
	require.NoError(t, err)

	length := binary.BigEndian.Uint32(out[6:10])
	rewritten := out[10 : 10+length]

	gotOID := binary.BigEndian.Uint32(rewritten[8:12])
	assert.EqualValues(t, 1043, gotOID)

	count := binary.BigEndian.Uint32(rewritten[12:16])
	assert.EqualValues(t, 2, count)
}

func TestRecodeArrayRejectsNullElement(t *testing.T) {
	arrayType := uuid.New()
	unit := compiler.Unit{
		Params: []compiler.Param{{Name: "a", ArrayTypeID: &arrayType}},
	}

	view := fixedOIDView{State: newView(), oid: oid.Oid(1043)}
	arr := pgArray([][]byte{nil})
	// hand-roll a NULL element: length -1
	var buf bytes.Buffer
	buf.Write(arr[:20])
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], 0xFFFFFFFF)
	buf.Write(l[:])

	input := paramStream(t, [][]byte{buf.Bytes()})
	_, err := Recode(unit, view, uuid.New(), input)
	require.Error(t, err)
}

func TestRecodeTupleFanOut(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{
			{
				Name: "t",
				SubParams: &compiler.SubParamsDescriptor{
					Kind: compiler.SubParamsTuple,
					Elements: []compiler.SubParamsDescriptor{
						{Kind: compiler.SubParamsScalar},
						{Kind: compiler.SubParamsScalar},
					},
				},
			},
		},
	}

	var tuple bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], 2)
	tuple.Write(count[:])

	for _, v := range [][]byte{[]byte("a"), []byte("bb")} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(v)))
		tuple.Write(l[:])
		tuple.Write(v)
	}

	input := paramStream(t, [][]byte{tuple.Bytes()})
	out, err := Recode(unit, newView(), uuid.New(), input)
	require.NoError(t, err)

	valueCount := binary.BigEndian.Uint16(out[4:6])
	assert.EqualValues(t, 2, valueCount, "a tuple fans out into one backend positional value per element")
}

func TestRecodeGlobalsInjected(t *testing.T) {
	unit := compiler.Unit{
		Globals: []compiler.Global{{Name: "current_user", HasPresentArg: true}},
	}

	view := newView()
	view.SetGlobal("current_user", []byte("alice"), true)

	out, err := Recode(unit, view, compiler.NullTypeID, nil)
	require.NoError(t, err)

	valueCount := binary.BigEndian.Uint16(out[4:6])
	assert.EqualValues(t, 2, valueCount, "a HasPresentArg global contributes value + presence marker")
}

func TestRecodeCompositeTupleGlobalFansOut(t *testing.T) {
	unit := compiler.Unit{
		Globals: []compiler.Global{
			{
				Name: "current_scope",
				SubParams: &compiler.SubParamsDescriptor{
					Kind: compiler.SubParamsTuple,
					Elements: []compiler.SubParamsDescriptor{
						{Kind: compiler.SubParamsScalar},
						{Kind: compiler.SubParamsScalar},
					},
				},
			},
		},
	}

	var tuple bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], 2)
	tuple.Write(count[:])
	for _, v := range [][]byte{[]byte("a"), []byte("bb")} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(v)))
		tuple.Write(l[:])
		tuple.Write(v)
	}

	view := newView()
	view.SetGlobal("current_scope", tuple.Bytes(), true)

	out, err := Recode(unit, view, compiler.NullTypeID, nil)
	require.NoError(t, err)

	valueCount := binary.BigEndian.Uint16(out[4:6])
	assert.EqualValues(t, 2, valueCount, "a tuple-typed global fans out into one backend positional value per element")
}

func TestRecodeCompositeArrayGlobalResolvesElementOID(t *testing.T) {
	arrayType := uuid.New()
	unit := compiler.Unit{
		Globals: []compiler.Global{
			{
				Name:        "current_tags",
				ArrayTypeID: &arrayType,
				SubParams:   &compiler.SubParamsDescriptor{Kind: compiler.SubParamsArray},
			},
		},
	}

	view := fixedOIDView{State: newView(), oid: oid.Oid(1043)}
	view.SetGlobal("current_tags", pgArray([][]byte{[]byte("x"), []byte("y")}), true)

	out, err := Recode(unit, view, compiler.NullTypeID, nil)
	require.NoError(t, err)

	length := binary.BigEndian.Uint32(out[6:10])
	rewritten := out[10 : 10+length]

	gotOID := binary.BigEndian.Uint32(rewritten[8:12])
	assert.EqualValues(t, 1043, gotOID)
}

func TestRecodeCompositeGlobalRejectsUnset(t *testing.T) {
	unit := compiler.Unit{
		Globals: []compiler.Global{
			{
				Name:      "current_scope",
				SubParams: &compiler.SubParamsDescriptor{Kind: compiler.SubParamsTuple, Elements: []compiler.SubParamsDescriptor{{Kind: compiler.SubParamsScalar}}},
			},
		},
	}

	_, err := Recode(unit, newView(), compiler.NullTypeID, nil)
	require.Error(t, err)
}

func TestRecodeArrayRejectsTupleElement(t *testing.T) {
	unit := compiler.Unit{
		Params: []compiler.Param{
			{
				Name: "arr",
				SubParams: &compiler.SubParamsDescriptor{
					Kind: compiler.SubParamsArray,
					Elements: []compiler.SubParamsDescriptor{
						{Kind: compiler.SubParamsTuple, Elements: []compiler.SubParamsDescriptor{{Kind: compiler.SubParamsScalar}}},
					},
				},
			},
		},
	}

	var arr bytes.Buffer
	var ndims, flags, arrOID, count, bound [4]byte
	binary.BigEndian.PutUint32(ndims[:], 1)
	binary.BigEndian.PutUint32(count[:], 1)
	binary.BigEndian.PutUint32(bound[:], 1)
	arr.Write(ndims[:])
	arr.Write(flags[:])
	arr.Write(arrOID[:])
	arr.Write(count[:])
	arr.Write(bound[:])

	// One nested tuple element: a count prefix the scalar decoder would
	// otherwise misread as a value length.
	var tupleCount [4]byte
	binary.BigEndian.PutUint32(tupleCount[:], 1)
	arr.Write(tupleCount[:])

	input := paramStream(t, [][]byte{arr.Bytes()})
	_, err := Recode(unit, newView(), uuid.New(), input)
	require.Error(t, err)
}
