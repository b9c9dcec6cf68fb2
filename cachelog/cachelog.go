// Package cachelog wraps a storage.Storage with asynchronous structured
// logging and metrics: every read/write is pushed onto a buffered channel
// and drained by a background goroutine, so cache hit/miss/write
// instrumentation only blocks the request path when the buffer is full.
package cachelog

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/a-h/maestro/metrics"
	"github.com/a-h/maestro/storage"
)

// New wraps wrapped with event logging and metrics recording. kind
// ("metadata" or "dist") labels every event emitted by this instance.
// shutdown must be called to drain pending events before process exit.
func New(ctx context.Context, log *slog.Logger, wrapped storage.Storage, m metrics.Metrics, kind string) (s *Storage, shutdown func(timeout time.Duration) error) {
	s = &Storage{
		wrapped: wrapped,
		kind:    kind,
	}
	s.c, shutdown = newBufferedEventLog(ctx, log, m, 2048)
	return s, shutdown
}

var _ storage.Storage = &Storage{}

// Storage instruments a wrapped storage.Storage with cache event logging
// and metrics, without changing its read/write semantics.
type Storage struct {
	wrapped storage.Storage
	kind    string
	c       chan event
}

func (s *Storage) Exists(ctx context.Context, filename string) (bool, error) {
	exists, err := s.wrapped.Exists(ctx, filename)
	if err != nil {
		return exists, err
	}
	s.c <- newEvent(s.kind, filename, exists)
	return exists, err
}

func (s *Storage) Read(ctx context.Context, filename string) (r io.ReadCloser, exists bool, err error) {
	r, exists, err = s.wrapped.Read(ctx, filename)
	if err != nil {
		return r, exists, err
	}
	s.c <- newEvent(s.kind, filename, exists)
	return r, exists, err
}

func (s *Storage) Write(ctx context.Context, filename string, data io.Reader) error {
	err := s.wrapped.Write(ctx, filename, data)
	if err != nil {
		return err
	}
	s.c <- newWriteEvent(s.kind, filename)
	return nil
}
