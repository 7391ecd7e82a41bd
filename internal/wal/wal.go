// Package wal implements Write-Ahead Logging for durability
//
// The log holds exactly the writes that are in the buffer and not yet in
// any run. It is reset after every flush.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MikhailWahib/stratadb/internal/record"
)

// headerSize is [4 bytes crc32c][4 bytes payload length]
const headerSize = 8

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("wal: closed")

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Options controls durability of appends.
type Options struct {
	// Sync fsyncs after every append.
	Sync   bool
	Logger *slog.Logger
}

// WAL manages the write-ahead log file
type WAL struct {
	mu sync.Mutex

	path        string
	file        *os.File
	writeOffset int64
	opts        Options
}

// Open opens or creates the log at path. New appends go after any records
// already present.
func Open(path string, opts Options) (*WAL, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	// Get current file size to set initial write offset
	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &WAL{
		path:        path,
		file:        file,
		writeOffset: fileInfo.Size(),
		opts:        opts,
	}, nil
}

// Append writes e as one framed record.
// Format: [4 bytes crc32c][4 bytes PayloadLen][4 bytes KeyLen][4 bytes ValueLen][Key][Value]
func (w *WAL) Append(e record.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}

	payload := record.SerializeEntry(e)
	buf := make([]byte, headerSize, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], crc32.Checksum(payload, crcTable))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	buf = append(buf, payload...)

	n, err := w.file.WriteAt(buf, w.writeOffset)
	if err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	w.writeOffset += int64(n)

	if w.opts.Sync {
		return w.sync()
	}
	return nil
}

// Replay reads every intact record from the beginning. A torn or corrupt
// tail, as left by a crash mid-append, ends the log and is truncated away.
func (w *WAL) Replay() ([]record.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil, ErrClosed
	}

	var (
		offset  int64
		entries []record.Entry
		header  = make([]byte, headerSize)
	)
	for offset < w.writeOffset {
		if _, err := w.file.ReadAt(header, offset); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("wal: read header: %w", err)
		}
		sum := binary.BigEndian.Uint32(header[0:4])
		size := int64(binary.BigEndian.Uint32(header[4:8]))
		if offset+headerSize+size > w.writeOffset {
			break
		}

		payload := make([]byte, size)
		if _, err := w.file.ReadAt(payload, offset+headerSize); err != nil {
			return nil, fmt.Errorf("wal: read record: %w", err)
		}
		if crc32.Checksum(payload, crcTable) != sum {
			break
		}
		e, _, err := record.DecodeEntry(payload)
		if err != nil {
			break
		}

		entries = append(entries, e)
		offset += headerSize + size
	}

	if offset < w.writeOffset {
		w.opts.Logger.Warn("truncating torn wal tail", "path", w.path, "valid", offset, "size", w.writeOffset)
		if err := w.file.Truncate(offset); err != nil {
			return nil, fmt.Errorf("wal: truncate: %w", err)
		}
		w.writeOffset = offset
	}
	return entries, nil
}

// Reset discards every record.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: reset: %w", err)
	}
	w.writeOffset = 0
	return w.sync()
}

// Size returns the log length in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeOffset
}

// Sync ensures all data is persisted to disk
func (w *WAL) sync() error {
	return w.file.Sync()
}

// Close closes the WAL file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}

	err := w.sync()
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
