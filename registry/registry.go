// Package registry fetches and caches per-package metadata from the
// Packagist-compatible registry, tolerating the quirky shapes upstream is
// observed to send for the per-version "require" field.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/a-h/maestro/cache"
)

const (
	defaultBaseURL = "https://repo.packagist.org/p2"
	userAgent      = "Maestro/0.1"
)

// DistInfo describes where to download a version's archive from.
type DistInfo struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Reference string `json:"reference,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
}

// PackageVersion is one released version of a package.
type PackageVersion struct {
	Name              string     `json:"name,omitempty"`
	Version           string     `json:"version"`
	VersionNormalized string     `json:"version_normalized"`
	Require           RequireMap `json:"require"`
	Dist              *DistInfo  `json:"dist,omitempty"`
}

// RequireMap is a package's dependency map. Its UnmarshalJSON tolerates
// the non-object shapes the upstream registry is observed to emit for an
// empty requirement set.
type RequireMap map[string]string

// UnmarshalJSON decodes require into an empty map whenever the upstream
// value is not a JSON object of string values: an empty array, the
// sentinel string "__unset", null, or any other non-object shape. Within
// an object, entries whose value is not a string are dropped silently.
func (r *RequireMap) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	out := RequireMap{}
	if obj, ok := v.(map[string]any); ok {
		for k, val := range obj {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	*r = out
	return nil
}

type packagistResponse struct {
	Packages map[string][]PackageVersion `json:"packages"`
}

// PackageNotFound is returned when the registry's response does not
// contain an entry for the requested package name.
type PackageNotFound struct {
	Name string
}

func (e *PackageNotFound) Error() string {
	return fmt.Sprintf("package not found: %s", e.Name)
}

// RegistryError is returned when the registry responds with a non-2xx
// status code.
type RegistryError struct {
	Status int
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry returned status %d", e.Status)
}

// MetadataParseError wraps a failure to parse the registry's response
// body as the expected JSON shape.
type MetadataParseError struct {
	Name string
	Err  error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("failed to parse metadata for %s: %v", e.Name, e.Err)
}

func (e *MetadataParseError) Unwrap() error { return e.Err }

// Client fetches package metadata, using cache as a read-through cache.
// It is immutable after construction and safe for concurrent use.
type Client struct {
	log        *slog.Logger
	httpClient *http.Client
	baseURL    string
	cache      *cache.Cache
	authToken  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the registry endpoint, for pointing at a private
// or mirrored Packagist-compatible registry.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithAuthToken sets a bearer token sent with every request, for private
// registries that require authentication.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Client backed by c for metadata caching.
func New(log *slog.Logger, c *cache.Cache, opts ...Option) *Client {
	client := &Client{
		log:        log,
		httpClient: http.DefaultClient,
		baseURL:    defaultBaseURL,
		cache:      c,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// GetPackageMetadata returns every released version of name, consulting
// the cache before the network and writing a successful network fetch
// back to the cache on a best-effort basis.
func (c *Client) GetPackageMetadata(ctx context.Context, name string) ([]PackageVersion, error) {
	if cached, ok := c.tryCache(ctx, name); ok {
		return cached, nil
	}

	url := fmt.Sprintf("%s/%s.json", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", name, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RegistryError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body for %s: %w", name, err)
	}

	if err := c.cache.WriteMetadata(ctx, name, body); err != nil {
		c.log.Warn("failed to write metadata cache", slog.String("package", name), slog.Any("error", err))
	}

	return c.decode(name, body)
}

// tryCache attempts to serve name's metadata entirely from the cache.
func (c *Client) tryCache(ctx context.Context, name string) ([]PackageVersion, bool) {
	data, ok, err := c.cache.ReadMetadata(ctx, name)
	if err != nil || !ok {
		return nil, false
	}
	versions, err := c.decode(name, data)
	if err != nil {
		return nil, false
	}
	return versions, true
}

func (c *Client) decode(name string, body []byte) ([]PackageVersion, error) {
	var parsed packagistResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MetadataParseError{Name: name, Err: err}
	}

	versions, ok := parsed.Packages[name]
	if !ok {
		return nil, &PackageNotFound{Name: name}
	}

	for i := range versions {
		if versions[i].Name == "" {
			versions[i].Name = name
		}
		c.logNormalizedVersionMismatch(versions[i])
	}

	return versions, nil
}

// logNormalizedVersionMismatch is a diagnostic-only sanity check: it does
// not feed into resolution (the version package's own constraint grammar
// is authoritative there), it just flags at debug level when a
// general-purpose semver parse disagrees with what the registry claims,
// which tends to indicate an upstream data quality issue worth a human
// look.
func (c *Client) logNormalizedVersionMismatch(pv PackageVersion) {
	if pv.VersionNormalized == "" {
		return
	}
	if _, err := semver.NewVersion(pv.Version); err != nil {
		c.log.Debug("version does not parse as general semver",
			slog.String("package", pv.Name),
			slog.String("version", pv.Version),
			slog.Any("error", err))
	}
}
