package record

import "encoding/binary"

// ExternalRef points at a BLOB field's off-page storage: the chain
// starts at (Space, Page) and holds Length bytes in total, the way the
// source engine's 20-byte BTR_EXTERN_FIELD_REF does (simplified here to
// a fixed 16 bytes since this model doesn't track a separate "bytes
// already freed" counter).
type ExternalRef struct {
	Space  uint32
	Page   uint32
	Length uint64
}

const ExternalRefSize = 16

func (r ExternalRef) Encode() []byte {
	buf := make([]byte, ExternalRefSize)
	binary.BigEndian.PutUint32(buf[0:], r.Space)
	binary.BigEndian.PutUint32(buf[4:], r.Page)
	binary.BigEndian.PutUint64(buf[8:], r.Length)
	return buf
}

func ParseExternalRef(buf []byte) ExternalRef {
	return ExternalRef{
		Space:  binary.BigEndian.Uint32(buf[0:]),
		Page:   binary.BigEndian.Uint32(buf[4:]),
		Length: binary.BigEndian.Uint64(buf[8:]),
	}
}

// ExternalResolver materializes the full value behind an ExternalRef,
// walking whatever off-page chain format the btree/row layer built it
// with.
type ExternalResolver interface {
	ReadExternal(ref ExternalRef) ([]byte, error)
}

// MaterializeExternal is btr_rec_copy_externally_stored_field's Go
// equivalent: it asks the resolver for the full value and returns it,
// independent of the on-page prefix already visible in the tuple.
func MaterializeExternal(resolver ExternalResolver, ref ExternalRef) ([]byte, error) {
	return resolver.ReadExternal(ref)
}
