// Package stratadb is an embedded key-value store built on a leveled LSM tree.
//
// Writes go to a bounded in-memory buffer backed by a write-ahead log. A full
// buffer is flushed into an immutable sorted run at level 0, and full levels
// are merged down into the next one. Point lookups probe runs concurrently
// and always return the most recent version of a key.
//
// Example usage:
//
//	db, err := stratadb.Open("/path/to/database", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//		log.Printf("Put failed: %v", err)
//	}
//
//	value, exists, err := db.Get([]byte("key"))
//	if err != nil {
//		log.Printf("Get failed: %v", err)
//	}
//	if exists {
//		fmt.Printf("Value: %s\n", value)
//	}
package stratadb

import (
	"context"

	"github.com/MikhailWahib/stratadb/internal/config"
	"github.com/MikhailWahib/stratadb/internal/engine"
	"github.com/MikhailWahib/stratadb/internal/lsm"
	"github.com/MikhailWahib/stratadb/internal/record"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config struct populated with default values. Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

// Entry is a key/value pair returned by Scan.
type Entry = record.Entry

// Stats describes the shape of the tree.
type Stats = lsm.Stats

// Errors returned by DB methods.
var (
	// ErrCapacityExhausted means the deepest level is full. The write was
	// rejected and the database is unchanged.
	ErrCapacityExhausted = lsm.ErrCapacityExhausted
	// ErrDegradedRead means a run could not be read while answering a
	// lookup. The returned value is the best one found.
	ErrDegradedRead = lsm.ErrDegradedRead
	// ErrClosed is returned after Close.
	ErrClosed = lsm.ErrClosed
	// ErrEmptyKey is returned for an empty key.
	ErrEmptyKey = engine.ErrEmptyKey
	// ErrReservedValue is returned for a value that collides with the
	// internal deletion marker.
	ErrReservedValue = engine.ErrReservedValue
	// ErrInvalidConfig is returned by Open for unusable settings.
	ErrInvalidConfig = config.ErrInvalidConfig
)

// DB represents a thread-safe StrataDB instance.
type DB struct {
	engine *engine.Engine
}

// Open opens or creates a database at the specified path.
//
// The directory will be created if it doesn't exist. If the database exists,
// its runs are reopened and unflushed writes are replayed from the log. A nil
// cfg uses DefaultConfig.
func Open(path string, cfg *Config) (*DB, error) {
	e, err := engine.NewEngine(path, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Put writes a key-value pair to the database.
// Overwrites the value if the key already exists.
func (db *DB) Put(key, value []byte) error {
	return db.engine.Put(key, value)
}

// Get retrieves the value for a given key.
// Returns the value and true if found, or nil and false if the key doesn't exist.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	return db.engine.Get(context.Background(), key)
}

// GetContext is Get with a context bounding the run probes.
func (db *DB) GetContext(ctx context.Context, key []byte) ([]byte, bool, error) {
	return db.engine.Get(ctx, key)
}

// Delete removes the key and its value from the database.
func (db *DB) Delete(key []byte) error {
	return db.engine.Delete(key)
}

// Range returns the values of all keys in [start, end) in key order.
// A nil end scans to the end of the keyspace.
func (db *DB) Range(start, end []byte) ([][]byte, error) {
	return db.engine.Range(context.Background(), start, end)
}

// Scan is Range returning keys alongside values.
func (db *DB) Scan(start, end []byte) ([]Entry, error) {
	return db.engine.Scan(context.Background(), start, end)
}

// Flush writes buffered entries to disk as a new run.
func (db *DB) Flush() error {
	return db.engine.Flush()
}

// Stats returns the number of runs and entries per level.
func (db *DB) Stats() Stats {
	return db.engine.Stats()
}

// Close shuts down the database and closes all open files. Buffered writes
// remain in the write-ahead log and are recovered by the next Open.
//
// It's recommended to call Close when you're done with the database,
// typically using defer:
//
//	db, err := stratadb.Open("/path/to/database", nil)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
func (db *DB) Close() error {
	return db.engine.Close()
}
