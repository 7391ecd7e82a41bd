// Package config provides configuration structures and defaults for StrataDB.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
)

const (
	defaultBufferEntries     = 1024
	defaultDepth             = 5
	defaultFanout            = 4
	defaultBloomBitsPerEntry = 10
	defaultBlockSize         = 4 * 1024
)

// Supported run block codecs.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all tunable parameters for StrataDB's tree shape and durability.
type Config struct {
	// BufferEntries is the number of entries the in-memory buffer holds
	// before it is flushed into a level 0 run.
	BufferEntries int
	// Depth is the number of levels in the tree.
	Depth int
	// Fanout is the maximum number of runs per level and the size ratio
	// between the runs of adjacent levels.
	Fanout int
	// BloomBitsPerEntry sizes the membership filter of every new run.
	BloomBitsPerEntry float64
	// BlockSize is the target uncompressed size of a run data block.
	BlockSize int
	// Compression selects the run block codec: none, zstd or lz4.
	Compression string
	// ProbeWorkers bounds the number of concurrent run probes.
	ProbeWorkers int
	// CompactionBytesPerSec throttles merge-down writes. Zero disables throttling.
	CompactionBytesPerSec int
	// SyncWAL fsyncs the write-ahead log after every append.
	SyncWAL bool
	// Logger receives structured engine logs.
	Logger *slog.Logger
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		BufferEntries:     defaultBufferEntries,
		Depth:             defaultDepth,
		Fanout:            defaultFanout,
		BloomBitsPerEntry: defaultBloomBitsPerEntry,
		BlockSize:         defaultBlockSize,
		Compression:       CompressionNone,
		ProbeWorkers:      runtime.GOMAXPROCS(0),
		SyncWAL:           true,
		Logger:            defaultLogger(),
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
// SyncWAL is left untouched since false is a meaningful choice.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.BufferEntries == 0 {
		c.BufferEntries = def.BufferEntries
	}
	if c.Depth == 0 {
		c.Depth = def.Depth
	}
	if c.Fanout == 0 {
		c.Fanout = def.Fanout
	}
	if c.BloomBitsPerEntry == 0 {
		c.BloomBitsPerEntry = def.BloomBitsPerEntry
	}
	if c.BlockSize == 0 {
		c.BlockSize = def.BlockSize
	}
	if c.Compression == "" {
		c.Compression = def.Compression
	}
	if c.ProbeWorkers == 0 {
		c.ProbeWorkers = def.ProbeWorkers
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
}

// Validate reports the first setting that cannot produce a working tree.
func (c *Config) Validate() error {
	switch {
	case c.BufferEntries < 1:
		return fmt.Errorf("%w: BufferEntries must be positive, got %d", ErrInvalidConfig, c.BufferEntries)
	case c.Depth < 1:
		return fmt.Errorf("%w: Depth must be at least 1, got %d", ErrInvalidConfig, c.Depth)
	case c.Fanout < 2:
		return fmt.Errorf("%w: Fanout must be at least 2, got %d", ErrInvalidConfig, c.Fanout)
	case c.BloomBitsPerEntry < 0:
		return fmt.Errorf("%w: BloomBitsPerEntry must not be negative", ErrInvalidConfig)
	case c.BlockSize < 1:
		return fmt.Errorf("%w: BlockSize must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	case c.ProbeWorkers < 1:
		return fmt.Errorf("%w: ProbeWorkers must be positive, got %d", ErrInvalidConfig, c.ProbeWorkers)
	case c.CompactionBytesPerSec < 0:
		return fmt.Errorf("%w: CompactionBytesPerSec must not be negative", ErrInvalidConfig)
	}

	switch c.Compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}

	size := c.BufferEntries
	for level := 1; level < c.Depth; level++ {
		if size > math.MaxInt/c.Fanout {
			return fmt.Errorf("%w: run size at level %d overflows with Depth %d and Fanout %d",
				ErrInvalidConfig, level, c.Depth, c.Fanout)
		}
		size *= c.Fanout
	}
	return nil
}

// LevelRunSize returns the maximum number of entries in a run at level i.
func (c *Config) LevelRunSize(level int) int {
	size := c.BufferEntries
	for range level {
		size *= c.Fanout
	}
	return size
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
