// Package resolver performs breadth-first transitive dependency
// resolution: one chosen version per package name, first constraint seen
// wins, no backtracking.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/a-h/maestro/manifest"
	"github.com/a-h/maestro/metrics"
	"github.com/a-h/maestro/registry"
	"github.com/a-h/maestro/version"
)

// platformName is the host-language identifier skipped as a dependency,
// the same way extension requirements are skipped.
const platformName = "php"

const extPrefix = "ext-"

// Resolver walks a manifest's direct requirements to a concrete package
// set via the registry client, applying the version algebra's constraint
// matching at each step.
type Resolver struct {
	log      *slog.Logger
	registry *registry.Client
	metrics  metrics.Metrics
}

// New constructs a Resolver.
func New(log *slog.Logger, reg *registry.Client, m metrics.Metrics) *Resolver {
	return &Resolver{log: log, registry: reg, metrics: m}
}

type queueEntry struct {
	name       string
	constraint string
}

func isPlatformEntry(name string) bool {
	return name == platformName || strings.HasPrefix(name, extPrefix)
}

// Resolve runs the sequential breadth-first algorithm: the reference
// traversal order for lockfile content. Each selected package's
// dependencies are enqueued in name order. First-wins-on-name: once a
// package name has been selected, later constraints on it are ignored.
func (r *Resolver) Resolve(ctx context.Context, direct []manifest.Requirement) ([]registry.PackageVersion, error) {
	queue := make([]queueEntry, 0, len(direct))
	for _, d := range direct {
		queue = append(queue, queueEntry{name: d.Name, constraint: d.Constraint})
	}

	installed := map[string]bool{}
	var resolved []registry.PackageVersion

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		if installed[entry.name] {
			continue
		}

		pv, ok, err := r.resolveOne(ctx, entry.name, entry.constraint)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		installed[entry.name] = true
		resolved = append(resolved, pv)

		deps := make([]string, 0, len(pv.Require))
		for name := range pv.Require {
			deps = append(deps, name)
		}
		sort.Strings(deps)
		for _, name := range deps {
			if isPlatformEntry(name) || installed[name] {
				continue
			}
			queue = append(queue, queueEntry{name: name, constraint: pv.Require[name]})
		}
	}

	r.metrics.IncrementPackagesResolved(ctx, int64(len(resolved)))
	return resolved, nil
}

// ResolveParallel drains the queue in rounds: every entry currently
// queued is dispatched concurrently via an errgroup, then results are
// merged single-threadedly, in queue order, before the next round starts.
// Each package's dependencies are enqueued in Go's randomized map
// iteration order, so the resulting resolved order is not reproducible
// across runs; use Resolve when lockfile ordering matters.
func (r *Resolver) ResolveParallel(ctx context.Context, direct []manifest.Requirement) ([]registry.PackageVersion, error) {
	queue := make([]queueEntry, 0, len(direct))
	for _, d := range direct {
		queue = append(queue, queueEntry{name: d.Name, constraint: d.Constraint})
	}

	installed := map[string]bool{}
	var resolved []registry.PackageVersion

	for len(queue) > 0 {
		batch := queue
		queue = nil

		type outcome struct {
			pv registry.PackageVersion
			ok bool
		}
		results := make([]outcome, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, entry := range batch {
			i, entry := i, entry
			if installed[entry.name] {
				continue
			}
			g.Go(func() error {
				pv, ok, err := r.resolveOne(gctx, entry.name, entry.constraint)
				if err != nil {
					return err
				}
				results[i] = outcome{pv: pv, ok: ok}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, entry := range batch {
			if installed[entry.name] {
				continue
			}
			res := results[i]
			if !res.ok {
				continue
			}
			installed[entry.name] = true
			resolved = append(resolved, res.pv)
			for name, constraint := range res.pv.Require {
				if isPlatformEntry(name) || installed[name] {
					continue
				}
				queue = append(queue, queueEntry{name: name, constraint: constraint})
			}
		}
	}

	r.metrics.IncrementPackagesResolved(ctx, int64(len(resolved)))
	return resolved, nil
}

// resolveOne fetches name's metadata and selects the highest version
// whose normalized form matches constraint. ok is false when no version
// satisfies it, or when the metadata fetch itself failed (not found,
// registry error, malformed response); resolveOne logs the warning for
// either case itself, so callers can drop the package silently rather
// than aborting resolution.
func (r *Resolver) resolveOne(ctx context.Context, name, constraint string) (registry.PackageVersion, bool, error) {
	versions, err := r.registry.GetPackageMetadata(ctx, name)
	if err != nil {
		var notFound *registry.PackageNotFound
		var regErr *registry.RegistryError
		var parseErr *registry.MetadataParseError
		if errors.As(err, &notFound) || errors.As(err, &regErr) || errors.As(err, &parseErr) {
			r.log.Warn("failed to fetch package metadata, dropping from resolved set",
				slog.String("package", name),
				slog.Any("error", err))
			return registry.PackageVersion{}, false, nil
		}
		return registry.PackageVersion{}, false, err
	}

	type candidate struct {
		pv  registry.PackageVersion
		sem version.Semantic
	}
	var candidates []candidate
	for _, pv := range versions {
		sem, ok := version.Normalize(pv.VersionNormalized)
		if !ok {
			continue
		}
		if !version.Matches(constraint, pv.VersionNormalized) {
			continue
		}
		candidates = append(candidates, candidate{pv: pv, sem: sem})
	}
	if len(candidates) == 0 {
		r.log.Warn("no version satisfies constraint, dropping from resolved set",
			slog.String("package", name),
			slog.String("constraint", constraint))
		return registry.PackageVersion{}, false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return version.Compare(candidates[i].sem, candidates[j].sem) < 0
	})

	return candidates[len(candidates)-1].pv, true, nil
}
