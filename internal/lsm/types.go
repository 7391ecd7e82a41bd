// Package lsm implements the leveled tree at the heart of StrataDB.
//
// Writes land in a bounded in-memory buffer. A full buffer is flushed into a
// new run at the front of level 0, and a full level is merged down into a
// single run at the front of the next level. Reads resolve recency in the
// order
//
//	buffer > L0 run 0 > L0 run 1 > ... > L1 run 0 > ...
//
// and the first copy of a key in that order wins, tombstone or not.
package lsm

import (
	"errors"

	"github.com/MikhailWahib/stratadb/internal/merge"
	"github.com/MikhailWahib/stratadb/internal/record"
)

var (
	// ErrCapacityExhausted is returned when the deepest level is full and
	// a write needs room there. The tree is left unchanged.
	ErrCapacityExhausted = errors.New("lsm: capacity exhausted")
	// ErrDegradedRead is returned when a run probe failed at a rank that
	// could have shadowed the returned result.
	ErrDegradedRead = errors.New("lsm: degraded read")
	// ErrClosed is returned by operations on a closed tree.
	ErrClosed = errors.New("lsm: tree closed")
	// ErrInvariantViolation is the panic value for internal bugs.
	ErrInvariantViolation = errors.New("lsm: invariant violation")
)

// Run is an immutable sorted segment as the tree sees it. A run is written
// once with ascending keys, closed, and then only read until it is destroyed.
type Run interface {
	ID() string
	Len() int
	Put(key, value []byte) error
	Close() error
	Get(key []byte) ([]byte, bool, error)
	Range(start, end []byte) ([]record.Entry, error)
	Iterator() (merge.Source, error)
	// Release frees in-memory resources and keeps the backing storage.
	Release() error
	// Destroy frees resources and reclaims the backing storage.
	Destroy() error
}

// RunFactory allocates runs open for writing.
type RunFactory interface {
	NewRun(level, capacity int, bitsPerEntry float64) (Run, error)
}

// Listener is told about structural changes so they can be made durable.
// Calls are serialized with every other structural change.
type Listener interface {
	// Flushed is called once the buffer has been copied into a new level 0
	// run and before the buffer is drained. An error undoes the flush.
	Flushed() error
	// Compacted is called after a merge-down swapped in its new run and
	// before the source runs are destroyed. On error the source runs are
	// released without being destroyed.
	Compacted() error
}

type nopListener struct{}

func (nopListener) Flushed() error   { return nil }
func (nopListener) Compacted() error { return nil }

// LevelSpec sizes one level.
type LevelSpec struct {
	MaxRuns    int
	MaxRunSize int
}

// Geometry returns the level sizes of a tree with the given depth where level
// i holds fanout runs of bufferEntries*fanout^i entries each.
func Geometry(bufferEntries, depth, fanout int) []LevelSpec {
	specs := make([]LevelSpec, depth)
	size := bufferEntries
	for i := range specs {
		specs[i] = LevelSpec{MaxRuns: fanout, MaxRunSize: size}
		size *= fanout
	}
	return specs
}

// LevelStats describes one level.
type LevelStats struct {
	Runs       int
	MaxRuns    int
	MaxRunSize int
	Entries    int
}

// Stats is a point-in-time view of the tree's shape.
type Stats struct {
	BufferEntries int
	Levels        []LevelStats
}
