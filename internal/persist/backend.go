// Package persist implements the snapshot format and the pluggable
// storage backends it is written through.
package persist

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Backend abstracts the byte store a snapshot lives in. Implementations
// must make WriteAll atomic: a reader sees either the previous snapshot
// or the new one, never a torn mix.
type Backend interface {
	// Read returns length bytes starting at offset.
	Read(offset, length int64) ([]byte, error)
	// WriteAll atomically replaces the full contents.
	WriteAll(data []byte) error
	// Size returns the current content length in bytes.
	Size() (int64, error)
	// Sync flushes to stable storage.
	Sync() error
}

// FileBackend stores the snapshot in a single file, replaced by
// temp-file-then-rename.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the target file path.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Read(offset, length int64) ([]byte, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", f.path, err)
	}
	defer file.Close()

	buf := make([]byte, length)
	if _, err := file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("persist: read %s at %d: %w", f.path, offset, err)
	}
	return buf, nil
}

func (f *FileBackend) WriteAll(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("persist: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("persist: rename: %w", err)
	}
	return nil
}

func (f *FileBackend) Size() (int64, error) {
	stat, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("persist: stat %s: %w", f.path, err)
	}
	return stat.Size(), nil
}

func (f *FileBackend) Sync() error {
	dir, err := os.Open(filepath.Dir(f.path))
	if err != nil {
		return nil // directory sync is best-effort
	}
	defer dir.Close()
	_ = dir.Sync()
	return nil
}
