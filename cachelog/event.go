package cachelog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-h/maestro/metrics"
)

func newEvent(kind, filename string, hit bool) event {
	return event{Kind: kind, Filename: filename, Type: eventTypeLookup, Hit: hit}
}

func newWriteEvent(kind, filename string) event {
	return event{Kind: kind, Filename: filename, Type: eventTypeWrite}
}

type event struct {
	Kind     string
	Filename string
	Type     eventType
	Hit      bool
}

type eventType string

const (
	eventTypeLookup eventType = "lookup"
	eventTypeWrite  eventType = "write"
)

// newBufferedEventLog starts a goroutine draining cache events onto log
// and metrics, decoupling instrumentation from the storage call path.
func newBufferedEventLog(ctx context.Context, log *slog.Logger, m metrics.Metrics, bufferSize int) (c chan event, shutdown func(timeout time.Duration) error) {
	c = make(chan event, bufferSize)
	shutdownComplete := make(chan struct{}, 1)

	go func() {
		defer func() {
			shutdownComplete <- struct{}{}
		}()
		for ev := range c {
			log.Debug("cache event", slog.Any("event", ev))
			switch ev.Type {
			case eventTypeLookup:
				m.RecordCacheLookup(ctx, ev.Kind, ev.Hit)
			case eventTypeWrite:
				// Writes are best-effort by contract; nothing to record
				// beyond the debug log line above.
			}
		}
	}()

	shutdown = func(timeout time.Duration) error {
		close(c)
		select {
		case <-time.Tick(timeout):
			return fmt.Errorf("timed out waiting for cache events to complete")
		case <-shutdownComplete:
			return nil
		}
	}

	return c, shutdown
}
