// Package diskmanager owns the files of a data directory.
// Runs are written through a FileHandle and read back through a read-only Mapping.
package diskmanager

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MikhailWahib/stratadb/internal/mmap"
)

// FileHandle is a writable file with random access.
type FileHandle interface {
	io.ReaderAt
	io.WriterAt
	// Sync commits the current contents of the file to stable storage.
	Sync() error
	Stat() (os.FileInfo, error)
	Close() error
}

// Mapping is a read-only view of a finished file.
type Mapping interface {
	io.ReaderAt
	// Size returns the mapped length in bytes.
	Size() int64
	Close() error
}

// DiskManager creates, maps, lists and removes files.
type DiskManager interface {
	// Create creates or truncates the file at path, creating missing parent
	// directories. A directory it creates is made durable in its parent.
	// The handle is cached until Close or Remove.
	Create(path string) (FileHandle, error)
	// SyncDir commits the entries of dir to stable storage.
	SyncDir(dir string) error
	// Map maps a finished file read-only.
	Map(path string) (Mapping, error)
	// Remove deletes the file, closing its cached handle if any.
	Remove(path string) error
	// List returns the names of the regular files in dir ending in ext.
	// An empty ext matches every file.
	List(dir, ext string) ([]string, error)
	// Close closes the cached handle for path. It is a no-op when none is open.
	Close(path string) error
}

type fileHandle struct {
	*os.File
}

type diskManager struct {
	mu      sync.Mutex
	handles map[string]FileHandle
}

// NewDiskManager returns a DiskManager backed by the operating system.
func NewDiskManager() DiskManager {
	return &diskManager{handles: make(map[string]FileHandle)}
}

func (dm *diskManager) Create(path string) (FileHandle, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if h, ok := dm.handles[path]; ok {
		_ = h.Close()
		delete(dm.handles, path)
	}
	dir := filepath.Dir(path)
	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		if err := dm.SyncDir(filepath.Dir(dir)); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	h := fileHandle{f}
	dm.handles[path] = h
	return h, nil
}

func (dm *diskManager) SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (dm *diskManager) Map(path string) (Mapping, error) {
	return mmap.Open(path)
}

func (dm *diskManager) Remove(path string) error {
	dm.mu.Lock()
	if h, ok := dm.handles[path]; ok {
		_ = h.Close()
		delete(dm.handles, path)
	}
	dm.mu.Unlock()
	return os.Remove(path)
}

func (dm *diskManager) List(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (dm *diskManager) Close(path string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	h, ok := dm.handles[path]
	if !ok {
		return nil
	}
	delete(dm.handles, path)
	return h.Close()
}
