// Package manifest persists the catalog of runs in every level.
//
// The catalog is rewritten as a whole after each flush and merge-down. A new
// version is written to a temporary file, synced, and renamed over the old
// one, so a crash leaves either the previous or the new catalog in place.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	// FileName is the catalog file inside the data directory.
	FileName = "MANIFEST"
	// CurrentVersion is the catalog format version.
	CurrentVersion = 1
)

var (
	// ErrNotFound is returned by Load when no catalog has been written yet.
	ErrNotFound = errors.New("manifest: not found")
	// ErrUnsupportedVersion is returned for catalogs of an unknown format.
	ErrUnsupportedVersion = errors.New("manifest: unsupported version")
)

// Manifest is one version of the catalog.
type Manifest struct {
	Version   int       `json:"version"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
	// Levels lists run IDs per level, most recent first.
	Levels [][]string `json:"levels"`
}

// Runs returns the number of runs recorded across all levels.
func (m *Manifest) Runs() int {
	n := 0
	for _, l := range m.Levels {
		n += len(l)
	}
	return n
}

// Store reads and atomically replaces the catalog file.
type Store struct {
	dir string
	mu  sync.Mutex
	seq uint64
}

// NewStore returns a store for the catalog in dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the current catalog.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}

	if m.Seq > s.seq {
		s.seq = m.Seq
	}
	return m, nil
}

// Save writes levels as the new catalog version.
func (s *Store) Save(levels [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &Manifest{
		Version:   CurrentVersion,
		Seq:       s.seq + 1,
		UpdatedAt: time.Now().UTC(),
		Levels:    levels,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("manifest: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("manifest: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("manifest: close: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("manifest: rename: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("manifest: sync dir: %w", err)
	}

	s.seq = m.Seq
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
