// Package metrics exposes the Prometheus counters maestro emits while
// resolving and installing packages: how much work the resolver and cache
// did, and how much data moved over the network.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/maestro")

	if m.PackagesResolvedTotal, err = meter.Int64Counter("packages_resolved_total", metric.WithDescription("Total number of packages resolved into the dependency graph")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create packages_resolved_total counter: %w", err)
	}
	if m.CacheHitsTotal, err = meter.Int64Counter("cache_hits_total", metric.WithDescription("Total number of cache hits, by kind (metadata or dist)")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cache_hits_total counter: %w", err)
	}
	if m.CacheMissesTotal, err = meter.Int64Counter("cache_misses_total", metric.WithDescription("Total number of cache misses, by kind (metadata or dist)")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cache_misses_total counter: %w", err)
	}
	if m.DownloadedBytesTotal, err = meter.Int64Counter("downloaded_bytes_total", metric.WithDescription("Total bytes of package archives downloaded from dist URLs")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create downloaded_bytes_total counter: %w", err)
	}
	if m.ArchivesExtractedTotal, err = meter.Int64Counter("archives_extracted_total", metric.WithDescription("Total number of package archives extracted into vendor/")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create archives_extracted_total counter: %w", err)
	}
	if m.InstallFailuresTotal, err = meter.Int64Counter("install_failures_total", metric.WithDescription("Total number of per-package install failures")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create install_failures_total counter: %w", err)
	}

	return m, nil
}

type Metrics struct {
	PackagesResolvedTotal  metric.Int64Counter
	CacheHitsTotal         metric.Int64Counter
	CacheMissesTotal       metric.Int64Counter
	DownloadedBytesTotal   metric.Int64Counter
	ArchivesExtractedTotal metric.Int64Counter
	InstallFailuresTotal   metric.Int64Counter
}

func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m Metrics) IncrementPackagesResolved(ctx context.Context, n int64) {
	if m.PackagesResolvedTotal == nil {
		return
	}
	m.PackagesResolvedTotal.Add(ctx, n)
}

// RecordCacheLookup increments the hit or miss counter for the given cache
// entry kind ("metadata" or "dist").
func (m Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	if hit {
		if m.CacheHitsTotal == nil {
			return
		}
		m.CacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		return
	}
	if m.CacheMissesTotal == nil {
		return
	}
	m.CacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m Metrics) IncrementDownloadedBytes(ctx context.Context, n int64) {
	if m.DownloadedBytesTotal == nil {
		return
	}
	m.DownloadedBytesTotal.Add(ctx, n)
}

func (m Metrics) IncrementArchivesExtracted(ctx context.Context) {
	if m.ArchivesExtractedTotal == nil {
		return
	}
	m.ArchivesExtractedTotal.Add(ctx, 1)
}

func (m Metrics) IncrementInstallFailures(ctx context.Context, name string) {
	if m.InstallFailuresTotal == nil {
		return
	}
	m.InstallFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("package", name)))
}
