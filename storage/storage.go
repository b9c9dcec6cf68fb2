// Package storage abstracts the byte store backing maestro's on-disk cache
// (see the cache package): local filesystem by default, or an S3 bucket
// when a team wants one shared metadata/dist cache instead of one per
// developer.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage is the minimal read/write/exists surface the cache needs. Writes
// replace a file wholesale; there is no append and no locking, matching the
// cache's "full-file replacement, readers revalidate via parse" contract.
type Storage interface {
	// Exists reports whether filename is present, without reading it.
	Exists(ctx context.Context, filename string) (bool, error)
	// Read opens filename for reading. ok is false if it does not exist.
	Read(ctx context.Context, filename string) (r io.ReadCloser, ok bool, err error)
	// Write creates or overwrites filename with the contents of data.
	Write(ctx context.Context, filename string, data io.Reader) error
}

// FileSystem implements Storage rooted at a local directory.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a filesystem-backed store rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

func (fs *FileSystem) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := os.Stat(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (fs *FileSystem) Read(ctx context.Context, filename string) (io.ReadCloser, bool, error) {
	file, err := os.Open(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return file, true, nil
}

func (fs *FileSystem) Write(ctx context.Context, filename string, data io.Reader) error {
	fullPath := filepath.Join(fs.basePath, filename)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
