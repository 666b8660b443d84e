package record

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/ibkv-project/ibkv/common"
	"github.com/stretchr/testify/require"
)

func testColumns() []*Column {
	return []*Column{
		{Name: "id", Type: TypeInt, Len: 8},
		{Name: "amount", Type: TypeBig, Len: 16},
		{Name: "code", Type: TypeChar, Len: 4},
		{Name: "name", Type: TypeVarChar, Len: 64, Nullable: true},
		{Name: "score", Type: TypeDouble},
		{Name: "payload", Type: TypeBlob, Nullable: true},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	require.NoError(t, tup.SetInt(0, -42))
	require.NoError(t, tup.SetBig(1, uint256.NewInt(123456789)))
	require.NoError(t, tup.SetBytes(2, []byte("ab"), ' '))
	require.NoError(t, tup.SetBytes(3, []byte("hello"), 0))
	require.NoError(t, tup.SetDouble(4, -3.25))
	require.NoError(t, tup.SetBytes(5, []byte("blobdata"), 0))

	rec := Encode(tup)
	out, err := ReadTuple(rec, cols, FlavorRow)
	require.NoError(t, err)

	v, null, err := out.Int(0)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, int64(-42), v)

	b, null, err := out.Big(1)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, uint256.NewInt(123456789), b)

	code, null, err := out.Bytes(2)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, []byte("ab  "), code)

	name, null, err := out.Bytes(3)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, []byte("hello"), name)

	score, null, err := out.Double(4)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, -3.25, score)

	payload, null, err := out.Bytes(5)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, []byte("blobdata"), payload)
}

func TestEncodeDecodeNullFields(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	require.NoError(t, tup.SetInt(0, 7))
	require.NoError(t, tup.SetBig(1, uint256.NewInt(1)))
	require.NoError(t, tup.SetBytes(2, []byte("zz"), ' '))
	require.NoError(t, tup.SetNull(3))
	require.NoError(t, tup.SetDouble(4, 1.5))
	require.NoError(t, tup.SetNull(5))

	rec := Encode(tup)
	out, err := ReadTuple(rec, cols, FlavorRow)
	require.NoError(t, err)

	_, null, err := out.Bytes(3)
	require.NoError(t, err)
	require.True(t, null)

	_, null, err = out.Bytes(5)
	require.NoError(t, err)
	require.True(t, null)
}

func TestSetNullRejectsNonNullable(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	err := tup.SetNull(0)
	require.Error(t, err)
	require.Equal(t, common.ErrDataMismatch, common.CodeOf(err))
}

func TestCharPaddingTruncationRejected(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	err := tup.SetBytes(2, []byte("toolong"), ' ')
	require.Error(t, err)
}

func TestVarCharTooLongRejected(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	big := make([]byte, 100)
	err := tup.SetBytes(3, big, 0)
	require.Error(t, err)
}

type stubResolver struct {
	data map[uint32][]byte
}

func (s *stubResolver) ReadExternal(ref ExternalRef) ([]byte, error) {
	return s.data[ref.Page], nil
}

func TestExternalFieldMarkingAndMaterialization(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	require.NoError(t, tup.SetInt(0, 1))
	require.NoError(t, tup.SetBig(1, uint256.NewInt(1)))
	require.NoError(t, tup.SetBytes(2, []byte("xx"), ' '))
	require.NoError(t, tup.SetNull(3))
	require.NoError(t, tup.SetDouble(4, 0))

	full := make([]byte, 2000)
	for i := range full {
		full[i] = byte(i)
	}
	ref := ExternalRef{Space: 1, Page: 55, Length: uint64(len(full))}
	prefix := full[:256]
	require.NoError(t, tup.MarkExternal(5, prefix, ref))

	rec := Encode(tup)
	out, err := ReadTuple(rec, cols, FlavorRow)
	require.NoError(t, err)

	onPage, null, err := out.Bytes(5)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, prefix, onPage)
	require.True(t, out.Fields[5].External)
	require.Equal(t, ref, out.Fields[5].ExtRef)

	resolver := &stubResolver{data: map[uint32][]byte{55: full}}
	materialized, err := MaterializeExternal(resolver, out.Fields[5].ExtRef)
	require.NoError(t, err)
	require.Equal(t, full, materialized)
}

func TestDecodeOffsetsRejectsTruncatedRecord(t *testing.T) {
	cols := testColumns()
	tup := NewRowTuple(cols)
	require.NoError(t, tup.SetInt(0, 1))
	require.NoError(t, tup.SetBig(1, uint256.NewInt(1)))
	require.NoError(t, tup.SetBytes(2, []byte("xx"), ' '))
	require.NoError(t, tup.SetNull(3))
	require.NoError(t, tup.SetDouble(4, 0))
	require.NoError(t, tup.SetNull(5))

	rec := Encode(tup)
	_, err := DecodeOffsets(rec[:len(rec)-3], cols)
	require.Error(t, err)
}

func TestKeyTupleUsesLeadingColumns(t *testing.T) {
	cols := testColumns()
	key := NewKeyTuple(cols, 2)
	require.Len(t, key.Fields, 2)
	require.Equal(t, 2, key.NColsToCompare)
	require.NoError(t, key.SetInt(0, 9))
}

func TestMachIntRoundTripOrderPreserving(t *testing.T) {
	lo := machWriteIntType(-100, 8, false)
	hi := machWriteIntType(100, 8, false)
	require.Equal(t, int64(-100), machReadIntType(lo, false))
	require.Equal(t, int64(100), machReadIntType(hi, false))
	require.True(t, lessBytes(lo, hi))
}

func TestMachDoubleRoundTripOrderPreserving(t *testing.T) {
	neg := machDoublePtrWrite(-1.5)
	pos := machDoublePtrWrite(2.5)
	require.Equal(t, -1.5, machDoublePtrRead(neg))
	require.Equal(t, 2.5, machDoublePtrRead(pos))
	require.True(t, lessBytes(neg, pos))
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
