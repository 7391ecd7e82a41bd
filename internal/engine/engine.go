// Package engine wires the tree to durable storage: run files, the manifest
// and the write-ahead log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MikhailWahib/stratadb/internal/config"
	"github.com/MikhailWahib/stratadb/internal/diskmanager"
	"github.com/MikhailWahib/stratadb/internal/lsm"
	"github.com/MikhailWahib/stratadb/internal/manifest"
	"github.com/MikhailWahib/stratadb/internal/record"
	"github.com/MikhailWahib/stratadb/internal/run"
	"github.com/MikhailWahib/stratadb/internal/wal"
)

// WALFileName is the write-ahead log inside the data directory.
const WALFileName = "wal.log"

var (
	// ErrEmptyKey is returned for writes with an empty key.
	ErrEmptyKey = errors.New("engine: empty key")
	// ErrReservedValue is returned when a value equals the deletion marker.
	ErrReservedValue = errors.New("engine: value is reserved")
)

// Engine is a durable key-value store over an LSM tree.
type Engine struct {
	dataDir string
	cfg     *config.Config
	logger  *slog.Logger

	dm       diskmanager.DiskManager
	runs     *run.Factory
	manifest *manifest.Store
	wal      *wal.WAL
	tree     *lsm.Tree

	// writeMu orders tree updates with their log appends.
	writeMu sync.Mutex
	// persistMu serializes manifest writes.
	persistMu sync.Mutex
	closed    bool
	// replaying is set while restore applies the log. Guarded by writeMu.
	replaying bool
}

// NewEngine opens or creates a store in dataDir. A nil cfg uses defaults.
func NewEngine(dataDir string, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := run.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dm := diskmanager.NewDiskManager()
	e := &Engine{
		dataDir:  dataDir,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "engine"),
		dm:       dm,
		runs:     run.NewFactory(dm, dataDir, run.Options{Codec: codec, BlockSize: cfg.BlockSize}),
		manifest: manifest.NewStore(dataDir),
	}

	e.tree, err = lsm.New(runFactory{e.runs}, lsm.Options{
		BufferEntries:         cfg.BufferEntries,
		Levels:                levelSpecs(cfg),
		BloomBitsPerEntry:     cfg.BloomBitsPerEntry,
		ProbeWorkers:          cfg.ProbeWorkers,
		CompactionBytesPerSec: cfg.CompactionBytesPerSec,
		Logger:                cfg.Logger.With("component", "lsm"),
		Listener:              listener{e},
	})
	if err != nil {
		return nil, err
	}

	if err := e.restore(); err != nil {
		_ = e.tree.Close()
		if e.wal != nil {
			_ = e.wal.Close()
		}
		return nil, err
	}
	return e, nil
}

func levelSpecs(cfg *config.Config) []lsm.LevelSpec {
	specs := make([]lsm.LevelSpec, cfg.Depth)
	for i := range specs {
		specs[i] = lsm.LevelSpec{MaxRuns: cfg.Fanout, MaxRunSize: cfg.LevelRunSize(i)}
	}
	return specs
}

// Put stores value under key.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if record.IsTombstone(value) {
		return ErrReservedValue
	}
	return e.write(record.Entry{Key: key, Value: value})
}

// Delete removes key.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return e.write(record.NewTombstone(key))
}

func (e *Engine) write(entry record.Entry) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed {
		return lsm.ErrClosed
	}
	return e.apply(entry)
}

// apply inserts entry into the tree and then logs it. A flush triggered by
// the insert resets the log first, so the log always mirrors the buffer.
// Callers hold writeMu.
func (e *Engine) apply(entry record.Entry) error {
	if err := e.tree.Put(entry); err != nil {
		return err
	}
	if err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("engine: log write: %w", err)
	}
	return nil
}

// Get returns the value stored for key.
func (e *Engine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}
	return e.tree.Get(ctx, key)
}

// Range returns the values of keys in [start, end) in key order.
func (e *Engine) Range(ctx context.Context, start, end []byte) ([][]byte, error) {
	return e.tree.Range(ctx, start, end)
}

// Scan returns the entries with keys in [start, end) in key order.
func (e *Engine) Scan(ctx context.Context, start, end []byte) ([]record.Entry, error) {
	return e.tree.Scan(ctx, start, end)
}

// Flush writes buffered entries into a level 0 run.
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed {
		return lsm.ErrClosed
	}
	return e.tree.Flush()
}

// Stats returns the shape of the tree.
func (e *Engine) Stats() lsm.Stats {
	return e.tree.Stats()
}

// DataDir returns the directory the engine stores its files in.
func (e *Engine) DataDir() string {
	return e.dataDir
}

// Close stops the engine. Buffered entries stay in the log and are replayed
// by the next open.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.tree.Close()
	if werr := e.wal.Close(); werr != nil && err == nil {
		err = werr
	}
	e.logger.Info("engine closed", "dir", e.dataDir)
	return err
}

// persist records the current level layout in the manifest.
func (e *Engine) persist() error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	return e.manifest.Save(e.tree.Layout())
}

// listener makes tree structure changes durable.
type listener struct{ e *Engine }

// Flushed runs with the buffer still intact: once the new run is in the
// manifest, the log records it held are redundant. A failed reset is not
// fatal since the manifest already lists the run and replaying the stale
// records in order yields the same state.
func (l listener) Flushed() error {
	if err := l.e.persist(); err != nil {
		return err
	}
	if l.e.replaying {
		return nil
	}
	if err := l.e.wal.Reset(); err != nil {
		l.e.logger.Error("reset wal after flush", "error", err)
	}
	return nil
}

func (l listener) Compacted() error {
	return l.e.persist()
}

// runFactory adapts run.Factory to the tree's interface.
type runFactory struct{ *run.Factory }

func (f runFactory) NewRun(level, capacity int, bitsPerEntry float64) (lsm.Run, error) {
	r, err := f.Factory.NewRun(level, capacity, bitsPerEntry)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) walPath() string {
	return filepath.Join(e.dataDir, WALFileName)
}
