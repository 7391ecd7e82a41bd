// Package mockdm provides an in-memory disk manager for tests.
package mockdm

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MikhailWahib/stratadb/internal/diskmanager"
)

// File is an in-memory file. It serves as both the write handle and the
// read-only mapping of a path.
type File struct {
	mu   sync.RWMutex
	data []byte
	name string
}

func (f *File) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if end := int(off) + len(b); end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}
	return copy(f.data[off:], b), nil
}

func (f *File) ReadAt(b []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(b, f.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the current length.
func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.data))
}

func (f *File) Sync() error  { return nil }
func (f *File) Close() error { return nil }

func (f *File) Stat() (os.FileInfo, error) {
	return fileInfo{name: filepath.Base(f.name), size: f.Size()}, nil
}

type fileInfo struct {
	name string
	size int64
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0644 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }

// DiskManager implements diskmanager.DiskManager over a map of paths.
type DiskManager struct {
	mu      sync.Mutex
	files   map[string]*File
	synced  []string
	syncErr error
	closes  map[string]int
}

var _ diskmanager.DiskManager = (*DiskManager)(nil)

// NewMockDiskManager returns an empty in-memory disk manager.
func NewMockDiskManager() *DiskManager {
	return &DiskManager{files: make(map[string]*File), closes: make(map[string]int)}
}

// Create replaces any file at path with an empty one.
func (dm *DiskManager) Create(path string) (diskmanager.FileHandle, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	f := &File{name: path}
	dm.files[path] = f
	return f, nil
}

// Map returns the file itself as its read-only view.
func (dm *DiskManager) Map(path string) (diskmanager.Mapping, error) {
	if f := dm.File(path); f != nil {
		return f, nil
	}
	return nil, &os.PathError{Op: "mmap", Path: path, Err: os.ErrNotExist}
}

func (dm *DiskManager) Remove(path string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if _, ok := dm.files[path]; !ok {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}
	delete(dm.files, path)
	return nil
}

func (dm *DiskManager) List(dir, ext string) ([]string, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var names []string
	for path := range dm.files {
		if filepath.Dir(path) == filepath.Clean(dir) && strings.HasSuffix(path, ext) {
			names = append(names, filepath.Base(path))
		}
	}
	return names, nil
}

// Close counts releases of the write handle for path.
func (dm *DiskManager) Close(path string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.closes[path]++
	return nil
}

// Closes returns how many times Close was called for path.
func (dm *DiskManager) Closes(path string) int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closes[path]
}

// SyncDir records dir so tests can check which directories were synced.
// It fails with the error set by FailSyncDir.
func (dm *DiskManager) SyncDir(dir string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.syncErr != nil {
		return dm.syncErr
	}
	dm.synced = append(dm.synced, filepath.Clean(dir))
	return nil
}

// FailSyncDir makes every later SyncDir return err. A nil err clears it.
func (dm *DiskManager) FailSyncDir(err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.syncErr = err
}

// SyncedDirs returns the directories passed to SyncDir, in call order.
func (dm *DiskManager) SyncedDirs() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return append([]string(nil), dm.synced...)
}

// File returns the file stored at path, or nil. Tests use it to corrupt
// finished files in place.
func (dm *DiskManager) File(path string) *File {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.files[path]
}

// Exists reports whether a file is stored at path.
func (dm *DiskManager) Exists(path string) bool {
	return dm.File(path) != nil
}
