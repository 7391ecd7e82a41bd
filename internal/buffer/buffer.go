// Package buffer implements the in-memory write buffer that absorbs writes
// before they are flushed into a level 0 run.
package buffer

import (
	"bytes"

	"github.com/godlixe/skiplist"

	"github.com/MikhailWahib/stratadb/internal/record"
)

// Buffer is a capacity-bounded sorted store of the most recent writes.
// It is not safe for concurrent use; the tree serialises access with its
// buffer lock.
type Buffer struct {
	store    skiplist.SkipList[record.Entry]
	capacity int
}

func cmpEntry(a, b record.Entry) int {
	return bytes.Compare(a.Key, b.Key)
}

// New creates an empty buffer holding at most capacity distinct keys.
func New(capacity int) *Buffer {
	return &Buffer{
		store:    skiplist.NewDefault[record.Entry](cmpEntry),
		capacity: capacity,
	}
}

// Put inserts or overwrites e.Key. Overwriting a resident key does not
// consume capacity.
func (b *Buffer) Put(e record.Entry) {
	if _, err := b.store.Search(record.Entry{Key: e.Key}); err == nil {
		b.store.Delete(record.Entry{Key: e.Key})
	}
	b.store.Set(record.Clone(e))
}

// Get returns the buffered value for key, tombstones included.
func (b *Buffer) Get(key []byte) ([]byte, bool) {
	e, err := b.store.Search(record.Entry{Key: key})
	if err != nil {
		return nil, false
	}
	return e.Value, true
}

// Contains reports whether key is resident.
func (b *Buffer) Contains(key []byte) bool {
	_, ok := b.Get(key)
	return ok
}

// Range returns the buffered entries with keys in [start, end), tombstones
// included, in ascending key order. A nil end is unbounded.
func (b *Buffer) Range(start, end []byte) []record.Entry {
	var out []record.Entry
	for it := b.store.Iterate(); it.Valid(); it.Next() {
		e := it.Data()
		if end != nil && bytes.Compare(e.Key, end) >= 0 {
			break
		}
		if bytes.Compare(e.Key, start) >= 0 {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of resident keys.
func (b *Buffer) Len() int {
	return b.store.Len()
}

// Capacity returns the maximum number of resident keys.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Full reports whether a new key would exceed capacity.
func (b *Buffer) Full() bool {
	return b.store.Len() >= b.capacity
}

// Entries returns the contents in ascending key order without clearing them.
func (b *Buffer) Entries() []record.Entry {
	out := make([]record.Entry, 0, b.store.Len())
	for it := b.store.Iterate(); it.Valid(); it.Next() {
		out = append(out, it.Data())
	}
	return out
}

// Drain returns the contents in ascending key order and empties the buffer.
func (b *Buffer) Drain() []record.Entry {
	out := b.Entries()
	b.store = skiplist.NewDefault[record.Entry](cmpEntry)
	return out
}
