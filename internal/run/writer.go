package run

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/MikhailWahib/stratadb/internal/bloom"
	"github.com/MikhailWahib/stratadb/internal/diskmanager"
	"github.com/MikhailWahib/stratadb/internal/record"
)

// writer streams sorted entries into data blocks and finalizes the file
// with its index, bloom filter and footer.
type writer struct {
	dm   diskmanager.DiskManager
	path string
	file diskmanager.FileHandle

	codec     Codec
	blockSize int
	capacity  int

	offset     int64
	block      []byte
	blockFirst []byte
	index      []blockHandle
	filter     *bloom.Filter
	count      int
	lastKey    []byte
}

func newWriter(dm diskmanager.DiskManager, path string, capacity int, bitsPerEntry float64, codec Codec, blockSize int) (*writer, error) {
	file, err := dm.Create(path)
	if err != nil {
		return nil, fmt.Errorf("run: create %s: %w", path, err)
	}

	return &writer{
		dm:        dm,
		path:      path,
		file:      file,
		codec:     codec,
		blockSize: blockSize,
		capacity:  capacity,
		filter:    bloom.New(capacity, bitsPerEntry),
	}, nil
}

func (w *writer) put(key, value []byte) error {
	if w.count >= w.capacity {
		return ErrRunFull
	}
	if w.count > 0 && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, w.lastKey)
	}

	if len(w.block) == 0 {
		w.blockFirst = append([]byte(nil), key...)
	}
	w.block = record.AppendEntry(w.block, record.Entry{Key: key, Value: value})
	w.filter.Add(key)
	w.lastKey = append(w.lastKey[:0], key...)
	w.count++

	if len(w.block) >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *writer) flushBlock() error {
	if len(w.block) == 0 {
		return nil
	}

	stored, err := encodeBlock(w.codec, w.block)
	if err != nil {
		return err
	}
	if err := w.write(stored); err != nil {
		return err
	}

	w.index = append(w.index, blockHandle{
		firstKey: w.blockFirst,
		offset:   w.offset - int64(len(stored)),
		length:   uint32(len(stored)),
		crc:      checksum(stored),
	})
	w.block = w.block[:0]
	w.blockFirst = nil
	return nil
}

func (w *writer) write(b []byte) error {
	n, err := w.file.WriteAt(b, w.offset)
	if err != nil {
		return fmt.Errorf("run: write %s: %w", w.path, err)
	}
	w.offset += int64(n)
	return nil
}

// finish writes the index, bloom filter and footer, then syncs and releases
// the write handle.
func (w *writer) finish() (int, error) {
	if err := w.flushBlock(); err != nil {
		return 0, err
	}

	var index []byte
	for _, h := range w.index {
		index = record.AppendEntry(index, record.Entry{Key: h.firstKey, Value: h.encodeValue()})
	}
	ft := footer{
		indexOffset: uint64(w.offset),
		indexLen:    uint64(len(index)),
		count:       uint64(w.count),
		codec:       w.codec,
	}
	if err := w.write(index); err != nil {
		return 0, err
	}

	filter, err := w.filter.MarshalBinary()
	if err != nil {
		return 0, err
	}
	ft.bloomOffset = uint64(w.offset)
	ft.bloomLen = uint64(len(filter))
	if err := w.write(filter); err != nil {
		return 0, err
	}

	if err := w.write(ft.encode()); err != nil {
		return 0, err
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("run: sync %s: %w", w.path, err)
	}
	// The run must be findable after a crash once the manifest names it.
	if err := w.dm.SyncDir(filepath.Dir(w.path)); err != nil {
		return 0, fmt.Errorf("run: sync dir of %s: %w", w.path, err)
	}
	if err := w.dm.Close(w.path); err != nil {
		return 0, fmt.Errorf("run: close %s: %w", w.path, err)
	}
	return w.count, nil
}

// abort releases the write handle without finalizing the file.
func (w *writer) abort() error {
	return w.dm.Close(w.path)
}
