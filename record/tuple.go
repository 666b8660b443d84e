package record

import (
	"github.com/holiman/uint256"
	"github.com/ibkv-project/ibkv/common"
)

// Flavor distinguishes a full-row tuple from a leading-columns index key.
type Flavor uint8

const (
	FlavorRow Flavor = iota
	FlavorKey
)

// Field is one tuple slot: either NULL or a canonicalized byte encoding
// ready to be written into a physical record.
type Field struct {
	Col      *Column
	Null     bool
	Data     []byte
	External bool // Data is an on-page prefix; the full value lives off-page
	ExtRef   ExternalRef
}

// Tuple is an ordered, typed field vector: a ROW tuple covers every
// column of a table, a KEY tuple the leading columns of an index, with
// NColsToCompare marking how many of those participate in comparisons.
type Tuple struct {
	Flavor         Flavor
	Fields         []Field
	NColsToCompare int
}

// NewRowTuple allocates a ROW tuple over cols, every field starting
// SQL_NULL.
func NewRowTuple(cols []*Column) *Tuple {
	return newTuple(FlavorRow, cols, len(cols))
}

// NewKeyTuple allocates a KEY tuple over idx's leading nCols columns.
func NewKeyTuple(cols []*Column, nCols int) *Tuple {
	return newTuple(FlavorKey, cols[:nCols], nCols)
}

func newTuple(flavor Flavor, cols []*Column, nColsToCompare int) *Tuple {
	fields := make([]Field, len(cols))
	for i, c := range cols {
		fields[i] = Field{Col: c, Null: true}
	}
	return &Tuple{Flavor: flavor, Fields: fields, NColsToCompare: nColsToCompare}
}

func (t *Tuple) checkIndex(i int) error {
	if i < 0 || i >= len(t.Fields) {
		return common.NewError(common.ErrInvalidInput, "record: field index %d out of range (%d fields)", i, len(t.Fields))
	}
	if t.Fields[i].Col.IsSysColumn {
		return common.NewError(common.ErrDataMismatch, "record: cannot write system column %q directly", t.Fields[i].Col.Name)
	}
	return nil
}

// SetNull marks field i SQL_NULL; fails for a non-nullable column.
func (t *Tuple) SetNull(i int) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	f := &t.Fields[i]
	if !f.Col.Nullable {
		return common.NewError(common.ErrDataMismatch, "record: column %q is not nullable", f.Col.Name)
	}
	f.Null = true
	f.Data = nil
	f.External = false
	return nil
}

// SetInt canonicalizes and stores a signed integer for a TypeInt column.
func (t *Tuple) SetInt(i int, val int64) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	f := &t.Fields[i]
	if f.Col.Type != TypeInt {
		return common.NewError(common.ErrDataMismatch, "record: column %q is not an integer column", f.Col.Name)
	}
	f.Data = machWriteIntType(val, int(f.Col.Len), f.Col.Unsigned)
	f.Null, f.External = false, false
	return nil
}

// Int reads back a TypeInt field written by SetInt.
func (t *Tuple) Int(i int) (int64, bool, error) {
	if err := t.checkIndex(i); err != nil {
		return 0, false, err
	}
	f := &t.Fields[i]
	if f.Null {
		return 0, true, nil
	}
	return machReadIntType(f.Data, f.Col.Unsigned), false, nil
}

// SetBig canonicalizes and stores a uint256-backed DECIMAL/big-integer
// value for a TypeBig column.
func (t *Tuple) SetBig(i int, val *uint256.Int) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	f := &t.Fields[i]
	if f.Col.Type != TypeBig {
		return common.NewError(common.ErrDataMismatch, "record: column %q is not a big-integer column", f.Col.Name)
	}
	f.Data = machWriteBig(val, int(f.Col.Len))
	f.Null, f.External = false, false
	return nil
}

func (t *Tuple) Big(i int) (*uint256.Int, bool, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, false, err
	}
	f := &t.Fields[i]
	if f.Null {
		return nil, true, nil
	}
	return machReadBig(f.Data), false, nil
}

// SetDouble canonicalizes and stores a float64 for a TypeDouble column.
func (t *Tuple) SetDouble(i int, val float64) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	f := &t.Fields[i]
	if f.Col.Type != TypeDouble {
		return common.NewError(common.ErrDataMismatch, "record: column %q is not a double column", f.Col.Name)
	}
	f.Data = machDoublePtrWrite(val)
	f.Null, f.External = false, false
	return nil
}

func (t *Tuple) Double(i int) (float64, bool, error) {
	if err := t.checkIndex(i); err != nil {
		return 0, false, err
	}
	f := &t.Fields[i]
	if f.Null {
		return 0, true, nil
	}
	return machDoublePtrRead(f.Data), false, nil
}

// SetBytes stores raw bytes for a CHAR/VARCHAR/BLOB column: CHAR is
// space-padded to its declared width, VARCHAR/BLOB stored as given
// (BLOB past externThreshold is flagged External by the caller once the
// off-page chain has been written — see MarkExternal).
func (t *Tuple) SetBytes(i int, b []byte, padChar byte) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	f := &t.Fields[i]
	switch f.Col.Type {
	case TypeChar:
		if len(b) > int(f.Col.Len) {
			return common.NewError(common.ErrTooBigRecord, "record: value longer than CHAR(%d) column %q", f.Col.Len, f.Col.Name)
		}
		padded := make([]byte, f.Col.Len)
		copy(padded, b)
		for i := len(b); i < len(padded); i++ {
			padded[i] = padChar
		}
		f.Data = padded
	case TypeVarChar:
		if len(b) > int(f.Col.Len) {
			return common.NewError(common.ErrTooBigRecord, "record: value longer than VARCHAR(%d) column %q", f.Col.Len, f.Col.Name)
		}
		f.Data = append([]byte(nil), b...)
	case TypeBlob:
		f.Data = append([]byte(nil), b...)
	default:
		return common.NewError(common.ErrDataMismatch, "record: column %q does not accept raw bytes", f.Col.Name)
	}
	f.Null, f.External = false, false
	return nil
}

// MarkExternal replaces a BLOB field's on-page data with the externally
// stored prefix and reference, called once the caller has written the
// full value to an off-page chain (see ExternalRef).
func (t *Tuple) MarkExternal(i int, prefix []byte, ref ExternalRef) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	f := &t.Fields[i]
	if f.Col.Type != TypeBlob {
		return common.NewError(common.ErrDataMismatch, "record: only BLOB columns can be externally stored")
	}
	f.Data = append([]byte(nil), prefix...)
	f.External = true
	f.ExtRef = ref
	return nil
}

// Bytes returns a field's raw stored bytes (the on-page prefix for an
// external field — use MaterializeExternal for the full value).
func (t *Tuple) Bytes(i int) ([]byte, bool, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, false, err
	}
	f := &t.Fields[i]
	return f.Data, f.Null, nil
}
