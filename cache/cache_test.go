package cache

import (
	"bytes"
	"context"
	"testing"

	"github.com/a-h/maestro/storage"
)

func TestMetadataPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"vendor package", "guzzlehttp/guzzle", "metadata/guzzlehttp-guzzle.json"},
		{"no vendor", "monolog", "metadata/monolog.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MetadataPath(tt.in); got != tt.want {
				t.Errorf("MetadataPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDistPath(t *testing.T) {
	got := DistPath("guzzlehttp/guzzle", "7.5.0.0")
	want := "dist/guzzlehttp-guzzle-7.5.0.0.zip"
	if got != want {
		t.Errorf("DistPath(...) = %q, want %q", got, want)
	}
}

func TestReadWriteMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewFileSystem(t.TempDir()))

	_, ok, err := c.ReadMetadata(ctx, "guzzlehttp/guzzle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected cold cache to miss")
	}

	want := []byte(`{"packages":{}}`)
	if err := c.WriteMetadata(ctx, "guzzlehttp/guzzle", want); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	got, ok, err := c.ReadMetadata(ctx, "guzzlehttp/guzzle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit after write")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadMetadata = %q, want %q", got, want)
	}
}

func TestReadWriteDistRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewFileSystem(t.TempDir()))

	want := []byte("pretend this is a zip")
	if err := c.WriteDist(ctx, "guzzlehttp/guzzle", "7.5.0.0", want); err != nil {
		t.Fatalf("WriteDist: %v", err)
	}

	got, ok, err := c.ReadDist(ctx, "guzzlehttp/guzzle", "7.5.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit after write")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadDist = %q, want %q", got, want)
	}
}
