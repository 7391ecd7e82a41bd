package run

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/MikhailWahib/stratadb/internal/bloom"
	"github.com/MikhailWahib/stratadb/internal/diskmanager"
	"github.com/MikhailWahib/stratadb/internal/record"
)

// reader serves lookups from a finished, mapped run file.
// It is immutable after open and safe for concurrent use.
type reader struct {
	data   diskmanager.Mapping
	index  []blockHandle
	filter *bloom.Filter
	count  int
	codec  Codec
}

func openReader(dm diskmanager.DiskManager, path string) (*reader, error) {
	data, err := dm.Map(path)
	if err != nil {
		return nil, fmt.Errorf("run: map %s: %w", path, err)
	}

	r, err := parse(data)
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func parse(data diskmanager.Mapping) (*reader, error) {
	size := data.Size()
	if size < FooterSize {
		return nil, fmt.Errorf("%w: file shorter than footer", ErrCorrupt)
	}

	buf := make([]byte, FooterSize)
	if _, err := data.ReadAt(buf, size-FooterSize); err != nil {
		return nil, fmt.Errorf("%w: read footer: %v", ErrCorrupt, err)
	}
	ft, err := decodeFooter(buf)
	if err != nil {
		return nil, err
	}

	body := uint64(size - FooterSize)
	if ft.indexOffset+ft.indexLen > ft.bloomOffset || ft.bloomOffset+ft.bloomLen != body {
		return nil, fmt.Errorf("%w: footer offsets out of bounds", ErrCorrupt)
	}

	indexBuf := make([]byte, ft.indexLen)
	if _, err := data.ReadAt(indexBuf, int64(ft.indexOffset)); err != nil && ft.indexLen > 0 {
		return nil, fmt.Errorf("%w: read index: %v", ErrCorrupt, err)
	}
	var index []blockHandle
	for pos := 0; pos < len(indexBuf); {
		e, n, err := record.DecodeEntry(indexBuf[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: index entry: %v", ErrCorrupt, err)
		}
		h, err := decodeHandle(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		if uint64(h.offset)+uint64(h.length) > ft.indexOffset {
			return nil, fmt.Errorf("%w: block beyond data section", ErrCorrupt)
		}
		index = append(index, h)
		pos += n
	}

	bloomBuf := make([]byte, ft.bloomLen)
	if _, err := data.ReadAt(bloomBuf, int64(ft.bloomOffset)); err != nil {
		return nil, fmt.Errorf("%w: read bloom: %v", ErrCorrupt, err)
	}
	filter, err := bloom.Unmarshal(bloomBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &reader{
		data:   data,
		index:  index,
		filter: filter,
		count:  int(ft.count),
		codec:  ft.codec,
	}, nil
}

// block reads, verifies and decodes data block i.
func (r *reader) block(i int) ([]byte, error) {
	h := r.index[i]
	stored := make([]byte, h.length)
	if _, err := r.data.ReadAt(stored, h.offset); err != nil {
		return nil, fmt.Errorf("%w: read block %d: %v", ErrCorrupt, i, err)
	}
	if checksum(stored) != h.crc {
		return nil, fmt.Errorf("%w: checksum mismatch in block %d", ErrCorrupt, i)
	}
	return decodeBlock(stored)
}

// seek returns the index of the block that may contain key, or -1 when key
// sorts before the first block.
func (r *reader) seek(key []byte) int {
	return sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].firstKey, key) > 0
	}) - 1
}

func (r *reader) get(key []byte) ([]byte, bool, error) {
	if !r.filter.MayContain(key) {
		return nil, false, nil
	}
	i := r.seek(key)
	if i < 0 {
		return nil, false, nil
	}

	raw, err := r.block(i)
	if err != nil {
		return nil, false, err
	}
	for pos := 0; pos < len(raw); {
		e, n, err := record.DecodeEntry(raw[pos:])
		if err != nil {
			return nil, false, fmt.Errorf("%w: block %d: %v", ErrCorrupt, i, err)
		}
		switch c := bytes.Compare(e.Key, key); {
		case c == 0:
			return append([]byte(nil), e.Value...), true, nil
		case c > 0:
			return nil, false, nil
		}
		pos += n
	}
	return nil, false, nil
}

func (r *reader) scan(start, end []byte) ([]record.Entry, error) {
	if end != nil && bytes.Compare(end, start) <= 0 {
		return nil, nil
	}

	it := r.iterator(max(r.seek(start), 0))
	var out []record.Entry
	for it.Next() {
		e := it.Entry()
		if bytes.Compare(e.Key, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(e.Key, end) >= 0 {
			break
		}
		out = append(out, e)
	}
	return out, it.Err()
}

func (r *reader) iterator(fromBlock int) *Iterator {
	return &Iterator{r: r, next: fromBlock}
}

func (r *reader) close() error {
	return r.data.Close()
}

// Iterator walks a run in ascending key order. It satisfies merge.Source.
type Iterator struct {
	r     *reader
	next  int
	raw   []byte
	pos   int
	entry record.Entry
	err   error
}

// Next advances to the next entry.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.pos >= len(it.raw) {
		if it.next >= len(it.r.index) {
			return false
		}
		raw, err := it.r.block(it.next)
		if err != nil {
			it.err = err
			return false
		}
		it.raw, it.pos = raw, 0
		it.next++
	}

	e, n, err := record.DecodeEntry(it.raw[it.pos:])
	if err != nil {
		it.err = fmt.Errorf("%w: %v", ErrCorrupt, err)
		return false
	}
	it.pos += n
	it.entry = record.Clone(e)
	return true
}

// Entry returns the current entry.
func (it *Iterator) Entry() record.Entry { return it.entry }

// Err returns the error that stopped iteration.
func (it *Iterator) Err() error { return it.err }
