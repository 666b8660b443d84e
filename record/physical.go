package record

import (
	"encoding/binary"

	"github.com/ibkv-project/ibkv/common"
)

// FieldOffset is one entry of a record's lazily computed offsets array:
// where a field's stored bytes begin and end within the record, and
// whether it is externally stored (rec_offs_nth_extern's Go shape).
type FieldOffset struct {
	Start  uint32
	End    uint32
	Extern bool
}

const varLenHeaderSize = 2
const externFlag = uint16(1) << 15
const varLenMask = externFlag - 1

func isFixedWidth(col *Column) bool {
	switch col.Type {
	case TypeInt, TypeBig, TypeChar, TypeDouble:
		return true
	default:
		return false
	}
}

// Encode packs a tuple's fields into a physical record: a leading
// null-bitmap, then each non-null field's bytes in column order —
// fixed-width fields back to back, variable-width fields behind a
// 2-byte length header whose top bit is the extern flag, an externally
// stored field's 16-byte ExternalRef immediately following its prefix.
func Encode(t *Tuple) []byte {
	nullBytes := (len(t.Fields) + 7) / 8
	rec := make([]byte, nullBytes)
	for i, f := range t.Fields {
		if f.Null {
			rec[i/8] |= 1 << uint(i%8)
		}
	}
	for _, f := range t.Fields {
		if f.Null {
			continue
		}
		if isFixedWidth(f.Col) {
			rec = append(rec, f.Data...)
			continue
		}
		header := uint16(len(f.Data)) & varLenMask
		if f.External {
			header |= externFlag
		}
		var hb [varLenHeaderSize]byte
		binary.BigEndian.PutUint16(hb[:], header)
		rec = append(rec, hb[:]...)
		rec = append(rec, f.Data...)
		if f.External {
			rec = append(rec, f.ExtRef.Encode()...)
		}
	}
	return rec
}

// DecodeOffsets walks a physical record's null-bitmap and variable-
// length headers to locate every field without copying payload bytes,
// mirroring rec_get_offsets's one-pass derivation.
func DecodeOffsets(rec []byte, cols []*Column) ([]FieldOffset, error) {
	nullBytes := (len(cols) + 7) / 8
	if len(rec) < nullBytes {
		return nil, common.NewError(common.ErrCorruption, "record: truncated null bitmap")
	}
	offsets := make([]FieldOffset, len(cols))
	pos := uint32(nullBytes)
	for i, col := range cols {
		isNull := rec[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			offsets[i] = FieldOffset{Start: pos, End: pos}
			continue
		}
		if isFixedWidth(col) {
			start := pos
			width := uint32(col.Len)
			if col.Type == TypeDouble {
				width = 8 // machDoublePtrWrite always writes 8 bytes; Len is unused
			}
			pos += width
			if pos > uint32(len(rec)) {
				return nil, common.NewError(common.ErrCorruption, "record: fixed field %q overruns record", col.Name)
			}
			offsets[i] = FieldOffset{Start: start, End: pos}
			continue
		}
		if pos+varLenHeaderSize > uint32(len(rec)) {
			return nil, common.NewError(common.ErrCorruption, "record: truncated length header for %q", col.Name)
		}
		header := binary.BigEndian.Uint16(rec[pos : pos+varLenHeaderSize])
		extern := header&externFlag != 0
		length := header & varLenMask
		pos += varLenHeaderSize
		start := pos
		pos += uint32(length)
		if extern {
			pos += ExternalRefSize
		}
		if pos > uint32(len(rec)) {
			return nil, common.NewError(common.ErrCorruption, "record: variable field %q overruns record", col.Name)
		}
		end := start + uint32(length)
		offsets[i] = FieldOffset{Start: start, End: end, Extern: extern}
	}
	return offsets, nil
}

// FieldSlice returns field i's on-page bytes (the stored prefix for an
// externally stored field, the whole value otherwise).
func FieldSlice(rec []byte, offsets []FieldOffset, i int) []byte {
	o := offsets[i]
	return rec[o.Start:o.End]
}

// FieldExternalRef reads field i's off-page reference, valid only when
// offsets[i].Extern is true.
func FieldExternalRef(rec []byte, offsets []FieldOffset, i int) ExternalRef {
	o := offsets[i]
	return ParseExternalRef(rec[o.End : o.End+ExternalRefSize])
}

// ReadTuple decodes rec into a fresh tuple over cols, the Go analogue of
// ib_read_tuple: every field is copied out (tuples "own their memory"
// per the source contract) rather than aliasing the page buffer, since
// the record may be evicted or overwritten once the caller's latch on
// its frame is released.
func ReadTuple(rec []byte, cols []*Column, flavor Flavor) (*Tuple, error) {
	offsets, err := DecodeOffsets(rec, cols)
	if err != nil {
		return nil, err
	}
	t := newTuple(flavor, cols, len(cols))
	for i := range cols {
		nullByte := rec[i/8]
		if nullByte&(1<<uint(i%8)) != 0 {
			continue // already Null: true from newTuple
		}
		o := offsets[i]
		f := &t.Fields[i]
		f.Null = false
		f.Data = append([]byte(nil), rec[o.Start:o.End]...)
		f.External = o.Extern
		if o.Extern {
			f.ExtRef = FieldExternalRef(rec, offsets, i)
		}
	}
	return t, nil
}
