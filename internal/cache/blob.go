package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Blob is the byte source/sink a Store persists to.
type Blob interface {
	// Read returns the whole blob. A missing blob reads as empty.
	Read() ([]byte, error)
	// Write replaces the blob. Implementations must not leave a partially
	// written blob behind on failure.
	Write(data []byte) error
	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove() error
}

// FileBlob stores the blob in a single file.
type FileBlob struct {
	Path string
}

func (f FileBlob) Read() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Write replaces the file atomically: temp file in the same directory,
// fsync, chmod 0600, rename over the target.
func (f FileBlob) Write(data []byte) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".richter-cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, f.Path)
}

func (f FileBlob) Remove() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryBlob keeps the blob in memory.
type MemoryBlob struct {
	mu      sync.Mutex
	data    []byte
	present bool

	// Removals counts successful Remove calls.
	Removals int
}

// NewMemoryBlob returns a MemoryBlob holding a copy of data.
func NewMemoryBlob(data []byte) *MemoryBlob {
	return &MemoryBlob{data: append([]byte(nil), data...), present: true}
}

func (m *MemoryBlob) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBlob) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.present = true
	return nil
}

func (m *MemoryBlob) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.present = false
	m.Removals++
	return nil
}

// Exists reports whether the blob is currently present.
func (m *MemoryBlob) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}
