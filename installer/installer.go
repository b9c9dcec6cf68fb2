// Package installer downloads (or reuses a cached) package archive and
// extracts it into the project's vendor tree.
package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-h/maestro/cache"
	"github.com/a-h/maestro/metrics"
)

const userAgent = "Maestro/0.1"

// DownloadError is returned when a dist download responds with a
// non-2xx status.
type DownloadError struct {
	Status int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed with status %d", e.Status)
}

// Installer downloads, caches and extracts package archives into a
// vendor directory.
type Installer struct {
	log        *slog.Logger
	httpClient *http.Client
	cache      *cache.Cache
	metrics    metrics.Metrics
	vendorDir  string
}

// New constructs an Installer that extracts into vendorDir (typically
// "vendor").
func New(log *slog.Logger, c *cache.Cache, m metrics.Metrics, vendorDir string) *Installer {
	return &Installer{
		log:        log,
		httpClient: http.DefaultClient,
		cache:      c,
		metrics:    m,
		vendorDir:  vendorDir,
	}
}

// Install downloads (or reuses the cached copy of) the archive at url for
// name at version, then extracts it into vendor/<name>, replacing any
// existing contents there. Safe to call concurrently across distinct
// (name, version) pairs; it assumes exclusive ownership of its own
// install directory for the duration of the call.
func (in *Installer) Install(ctx context.Context, name, version, url string, shasum string) error {
	bytesData, err := in.fetch(ctx, name, version, url)
	if err != nil {
		return err
	}

	if shasum != "" {
		in.verifyShasum(name, bytesData, shasum)
	}

	installDir := filepath.Join(in.vendorDir, name)
	if _, err := os.Stat(installDir); err == nil {
		if err := os.RemoveAll(installDir); err != nil {
			return fmt.Errorf("failed to clean existing directory %s: %w", installDir, err)
		}
	}
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("failed to create vendor directory %s: %w", installDir, err)
	}

	if err := extract(bytesData, installDir); err != nil {
		return fmt.Errorf("failed to extract archive for %s: %w", name, err)
	}

	in.metrics.IncrementArchivesExtracted(ctx)
	return nil
}

func (in *Installer) fetch(ctx context.Context, name, version, url string) ([]byte, error) {
	if cached, ok, err := in.cache.ReadDist(ctx, name, version); err != nil {
		return nil, err
	} else if ok {
		in.log.Debug("using cached dist archive", slog.String("package", name), slog.String("version", version))
		return cached, nil
	}

	in.log.Info("downloading package", slog.String("package", name), slog.String("version", version))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request for %s: %w", name, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := in.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DownloadError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download body for %s: %w", name, err)
	}

	in.metrics.IncrementDownloadedBytes(ctx, int64(len(body)))

	if err := in.cache.WriteDist(ctx, name, version, body); err != nil {
		in.log.Warn("failed to write dist cache", slog.String("package", name), slog.Any("error", err))
	}

	return body, nil
}

// verifyShasum logs a warning on mismatch rather than failing the
// install: upstream registries are observed to carry stale or absent
// checksums for some releases.
func (in *Installer) verifyShasum(name string, data []byte, expected string) {
	h := sha1.Sum(data)
	actual := hex.EncodeToString(h[:])
	if actual != expected {
		in.log.Warn("dist archive shasum mismatch",
			slog.String("package", name),
			slog.String("expected", expected),
			slog.String("actual", actual))
	}
}

// extract writes a ZIP archive's contents under dir, stripping each
// entry's leading wrapper-directory component and rejecting any entry
// whose resolved path would escape dir.
func extract(data []byte, dir string) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to read zip archive: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		relative, ok := stripWrapperComponent(f.Name)
		if !ok {
			continue
		}

		outPath := filepath.Join(dir, relative)
		if !withinDir(dir, outPath) {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return err
		}

		if err := extractFile(f, outPath); err != nil {
			return err
		}
	}

	return nil
}

// stripWrapperComponent removes the first path component of a ZIP entry
// name (archives are wrapped in a top-level directory like
// "vendor-repo-sha1234/") and rejects unsafe paths: absolute paths and
// any path component equal to "..".
func stripWrapperComponent(name string) (string, bool) {
	name = filepath.ToSlash(name)
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", false
	}
	parts := strings.Split(name, "/")
	for _, p := range parts {
		if p == ".." {
			return "", false
		}
	}
	if len(parts) < 2 {
		return "", false
	}
	rest := strings.Join(parts[1:], "/")
	if rest == "" {
		return "", false
	}
	return filepath.FromSlash(rest), true
}

// withinDir reports whether path is contained within dir, guarding
// against any residual traversal that survived stripWrapperComponent.
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func extractFile(f *zip.File, outPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}
