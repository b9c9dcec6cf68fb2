package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/maestro/cache"
	"github.com/a-h/maestro/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nowhere{}, nil))
}

type nowhere struct{}

func (nowhere) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := cache.New(storage.NewFileSystem(t.TempDir()))
	return New(discardLogger(), c, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestGetPackageMetadataBackfillsName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"packages":{"guzzlehttp/guzzle":[{"version":"7.5.0.0","version_normalized":"7.5.0.0","require":{}}]}}`))
	})

	versions, err := client.GetPackageMetadata(context.Background(), "guzzlehttp/guzzle")
	if err != nil {
		t.Fatalf("GetPackageMetadata: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
	if versions[0].Name != "guzzlehttp/guzzle" {
		t.Errorf("Name = %q, want backfilled guzzlehttp/guzzle", versions[0].Name)
	}
}

func TestGetPackageMetadataNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"packages":{}}`))
	})

	_, err := client.GetPackageMetadata(context.Background(), "acme/missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	var notFound *PackageNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected PackageNotFound, got %T: %v", err, err)
	}
}

func TestGetPackageMetadataRegistryError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetPackageMetadata(context.Background(), "acme/pkg")
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := err.(*RegistryError); !ok {
		t.Errorf("expected *RegistryError, got %T: %v", err, err)
	}
}

func TestGetPackageMetadataCacheRoundTrip(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"packages":{"acme/pkg":[{"version":"1.0.0.0","version_normalized":"1.0.0.0","require":{}}]}}`))
	})

	ctx := context.Background()
	first, err := client.GetPackageMetadata(ctx, "acme/pkg")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := client.GetPackageMetadata(ctx, "acme/pkg")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 network call, got %d", calls)
	}
	if len(first) != len(second) || first[0].Version != second[0].Version {
		t.Errorf("cached result differs from network result: %+v vs %+v", first, second)
	}
}

func TestRequireMapTolerantDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want RequireMap
	}{
		{"normal object", `{"php": ">=7.2", "ext-json": "*"}`, RequireMap{"php": ">=7.2", "ext-json": "*"}},
		{"empty object", `{}`, RequireMap{}},
		{"empty array", `[]`, RequireMap{}},
		{"unset sentinel", `"__unset"`, RequireMap{}},
		{"null", `null`, RequireMap{}},
		{"non-string value dropped", `{"php": ">=7.2", "weird": 5}`, RequireMap{"php": ">=7.2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r RequireMap
			if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if len(r) != len(tt.want) {
				t.Fatalf("got %v, want %v", r, tt.want)
			}
			for k, v := range tt.want {
				if r[k] != v {
					t.Errorf("r[%q] = %q, want %q", k, r[k], v)
				}
			}
		})
	}
}
