package record

import "bytes"

// Entry is an immutable key/value record. An entry whose value is the
// tombstone is a deletion marker.
type Entry struct {
	Key   []byte
	Value []byte
}

// NewTombstone returns a deletion marker for key.
func NewTombstone(key []byte) Entry {
	return Entry{Key: key, Value: Tombstone()}
}

// Tombstone returns a fresh copy of the tombstone value.
func Tombstone() []byte {
	return []byte(tombstone)
}

// IsTombstone reports whether value is the tombstone sentinel.
func IsTombstone(value []byte) bool {
	return string(value) == tombstone
}

// IsTombstone reports whether the entry marks a deletion.
func (e Entry) IsTombstone() bool {
	return IsTombstone(e.Value)
}

// Size returns the encoded size of the entry in bytes.
func (e Entry) Size() int {
	return PrefixSize + len(e.Key) + len(e.Value)
}

// Compare compares keys lexicographically.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// InRange reports whether key lies in [start, end). A nil end is unbounded.
func InRange(key, start, end []byte) bool {
	if bytes.Compare(key, start) < 0 {
		return false
	}
	return end == nil || bytes.Compare(key, end) < 0
}
