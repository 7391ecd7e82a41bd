package record

import (
	"encoding/binary"
	"io"
)

// AppendEntry appends the length-prefixed encoding of e to dst.
// Format: [4 bytes KeyLen][4 bytes ValueLen][Key][Value]
func AppendEntry(dst []byte, e Entry) []byte {
	var prefix [PrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:LengthSize], uint32(len(e.Key)))
	binary.BigEndian.PutUint32(prefix[LengthSize:], uint32(len(e.Value)))

	dst = append(dst, prefix[:]...)
	dst = append(dst, e.Key...)
	return append(dst, e.Value...)
}

// SerializeEntry converts an Entry to a byte slice
func SerializeEntry(e Entry) []byte {
	return AppendEntry(make([]byte, 0, e.Size()), e)
}

// DecodeEntry parses an entry from a byte slice.
// Returns the parsed entry and the number of bytes consumed.
// The returned key and value alias buf.
func DecodeEntry(buf []byte) (Entry, int, error) {
	if len(buf) < PrefixSize {
		return Entry{}, 0, io.ErrUnexpectedEOF
	}

	keyLen := int(binary.BigEndian.Uint32(buf[:LengthSize]))
	valLen := int(binary.BigEndian.Uint32(buf[LengthSize:PrefixSize]))
	totalLen := PrefixSize + keyLen + valLen

	if keyLen < 0 || valLen < 0 || len(buf) < totalLen {
		return Entry{}, 0, io.ErrUnexpectedEOF
	}

	return Entry{
		Key:   buf[PrefixSize : PrefixSize+keyLen : PrefixSize+keyLen],
		Value: buf[PrefixSize+keyLen : totalLen : totalLen],
	}, totalLen, nil
}

// Clone returns a deep copy of e that does not alias any decode buffer.
func Clone(e Entry) Entry {
	out := Entry{Key: make([]byte, len(e.Key)), Value: make([]byte, len(e.Value))}
	copy(out.Key, e.Key)
	copy(out.Value, e.Value)
	return out
}
