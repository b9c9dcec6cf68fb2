// Package cache computes the on-disk layout for maestro's metadata and
// dist caches and reads/writes through a storage.Storage backend, so the
// cache can live on the local filesystem or in a shared S3 bucket without
// the rest of the codebase noticing.
package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-h/maestro/storage"
)

// Cache exposes the metadata and dist path computations and the
// read/write operations that use them. It performs no
// locking: writes are full-file replacements and readers revalidate
// content by parsing it, so racing writers of the same file are tolerated.
type Cache struct {
	backend storage.Storage
}

// New wraps an arbitrary storage.Storage as a Cache. Use NewFileSystem for
// the default local on-disk cache.
func New(backend storage.Storage) *Cache {
	return &Cache{backend: backend}
}

// NewFileSystem returns a Cache rooted at the platform user cache
// directory under a "maestro" subfolder, falling back to a local ".cache"
// when the platform directory is unavailable. Both the metadata and dist
// subfolders are created eagerly (idempotent).
func NewFileSystem() (*Cache, error) {
	root, err := os.UserCacheDir()
	if err != nil || root == "" {
		root = ".cache"
	}
	root = filepath.Join(root, "maestro")

	if err := os.MkdirAll(filepath.Join(root, "metadata"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata cache dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "dist"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create dist cache dir: %w", err)
	}

	return New(storage.NewFileSystem(root)), nil
}

// safeName maps a vendor-qualified package name to a filesystem-safe form.
func safeName(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// MetadataPath returns the cache-relative path for name's metadata JSON.
func MetadataPath(name string) string {
	return filepath.Join("metadata", safeName(name)+".json")
}

// DistPath returns the cache-relative path for the dist archive of
// name at version.
func DistPath(name, version string) string {
	return filepath.Join("dist", fmt.Sprintf("%s-%s.zip", safeName(name), version))
}

// ReadMetadata returns the cached bytes at MetadataPath(name), if present.
func (c *Cache) ReadMetadata(ctx context.Context, name string) (data []byte, ok bool, err error) {
	return c.read(ctx, MetadataPath(name))
}

// WriteMetadata best-effort replaces the cached bytes at MetadataPath(name).
func (c *Cache) WriteMetadata(ctx context.Context, name string, data []byte) error {
	return c.backend.Write(ctx, MetadataPath(name), strings.NewReader(string(data)))
}

// ReadDist returns the cached archive bytes for name at version, if present.
func (c *Cache) ReadDist(ctx context.Context, name, version string) (data []byte, ok bool, err error) {
	return c.read(ctx, DistPath(name, version))
}

// WriteDist best-effort replaces the cached archive bytes for name at
// version.
func (c *Cache) WriteDist(ctx context.Context, name, version string, data []byte) error {
	return c.backend.Write(ctx, DistPath(name, version), strings.NewReader(string(data)))
}

func (c *Cache) read(ctx context.Context, path string) ([]byte, bool, error) {
	r, ok, err := c.backend.Read(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", path, err)
	}
	return data, true, nil
}
