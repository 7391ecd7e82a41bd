// Package run implements the immutable sorted files that make up each level.
//
// A run is written once in ascending key order and then closed, after which it
// is memory-mapped and serves point lookups, range scans and merge iteration
// concurrently. The on-disk layout is:
//
//	[data blocks][index][bloom filter][footer]
//
// Each data block holds length-prefixed entries and may be compressed. The
// index records the first key, offset, length and crc32c of every block.
package run

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MikhailWahib/stratadb/internal/diskmanager"
	"github.com/MikhailWahib/stratadb/internal/merge"
	"github.com/MikhailWahib/stratadb/internal/record"
)

// Ext is the file extension of run files.
const Ext = ".run"

// Run is a sorted, immutable set of entries backed by a single file.
type Run struct {
	id   string
	path string
	dm   diskmanager.DiskManager

	mu     sync.RWMutex
	writer *writer
	reader *reader
	count  int
}

// Open reopens a finished run file for reading.
func Open(dm diskmanager.DiskManager, path string) (*Run, error) {
	r, err := openReader(dm, path)
	if err != nil {
		return nil, err
	}
	return &Run{
		id:     strings.TrimSuffix(filepath.Base(path), Ext),
		path:   path,
		dm:     dm,
		reader: r,
		count:  r.count,
	}, nil
}

// ID returns the run's identifier, the file name without extension.
func (r *Run) ID() string { return r.id }

// Path returns the run's file path.
func (r *Run) Path() string { return r.path }

// Len returns the number of entries in the run.
func (r *Run) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.writer != nil {
		return r.writer.count
	}
	return r.count
}

// Put appends an entry. Keys must be strictly ascending.
func (r *Run) Put(key, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return ErrNotWritable
	}
	return r.writer.put(key, value)
}

// Close finalizes a run being written and maps it for reading.
// Closing a run that is already readable is a no-op. A run whose Close
// failed, or that was released, reports ErrNotReadable.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		if r.reader == nil {
			return ErrNotReadable
		}
		return nil
	}

	count, err := r.writer.finish()
	if err != nil {
		_ = r.writer.abort()
		r.writer = nil
		return err
	}
	r.writer = nil

	rd, err := openReader(r.dm, r.path)
	if err != nil {
		return err
	}
	r.reader = rd
	r.count = count
	return nil
}

func (r *Run) readable() (*reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return nil, ErrNotReadable
	}
	return r.reader, nil
}

// Get returns the value stored for key. A tombstone is returned as stored.
func (r *Run) Get(key []byte) ([]byte, bool, error) {
	rd, err := r.readable()
	if err != nil {
		return nil, false, err
	}
	return rd.get(key)
}

// Range returns entries with keys in [start, end) in ascending order.
// A nil end is unbounded.
func (r *Run) Range(start, end []byte) ([]record.Entry, error) {
	rd, err := r.readable()
	if err != nil {
		return nil, err
	}
	return rd.scan(start, end)
}

// Iterator returns a sequential source over the whole run.
func (r *Run) Iterator() (merge.Source, error) {
	rd, err := r.readable()
	if err != nil {
		return nil, err
	}
	return rd.iterator(0), nil
}

// Destroy unmaps the run and deletes its file. The run is unusable afterwards.
func (r *Run) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.releaseLocked()
	if derr := r.dm.Remove(r.path); derr != nil && err == nil {
		err = fmt.Errorf("run: delete %s: %w", r.path, derr)
	}
	return err
}

// Release unmaps the run but keeps its file for a later Open.
func (r *Run) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked()
}

func (r *Run) releaseLocked() error {
	var err error
	if r.writer != nil {
		err = r.writer.abort()
		r.writer = nil
	}
	if r.reader != nil {
		if cerr := r.reader.close(); cerr != nil && err == nil {
			err = cerr
		}
		r.reader = nil
	}
	return err
}

// Options configures how a Factory lays out new runs.
type Options struct {
	Codec     Codec
	BlockSize int
}

// Factory creates and reopens runs under a data directory.
type Factory struct {
	dm   diskmanager.DiskManager
	dir  string
	opts Options
}

// NewFactory returns a factory rooted at dir.
func NewFactory(dm diskmanager.DiskManager, dir string, opts Options) *Factory {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	return &Factory{dm: dm, dir: dir, opts: opts}
}

// LevelDir returns the directory holding runs of the given level.
func (f *Factory) LevelDir(level int) string {
	return filepath.Join(f.dir, fmt.Sprintf("L%d", level))
}

// Path returns the file path of run id at level.
func (f *Factory) Path(level int, id string) string {
	return filepath.Join(f.LevelDir(level), id+Ext)
}

// NewRun opens a fresh run for writing at level. The run accepts at most
// capacity entries and sizes its bloom filter at bitsPerEntry.
func (f *Factory) NewRun(level, capacity int, bitsPerEntry float64) (*Run, error) {
	id := uuid.NewString()
	path := f.Path(level, id)
	w, err := newWriter(f.dm, path, capacity, bitsPerEntry, f.opts.Codec, f.opts.BlockSize)
	if err != nil {
		return nil, err
	}
	return &Run{id: id, path: path, dm: f.dm, writer: w}, nil
}

// Open reopens the finished run id at level.
func (f *Factory) Open(level int, id string) (*Run, error) {
	return Open(f.dm, f.Path(level, id))
}
