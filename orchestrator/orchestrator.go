// Package orchestrator dispatches the install/update/add/remove
// operations, wiring the resolver, installer, lockfile and manifest
// packages into the end-to-end pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/a-h/maestro/lockfile"
	"github.com/a-h/maestro/manifest"
	"github.com/a-h/maestro/metrics"
	"github.com/a-h/maestro/registry"
	"github.com/a-h/maestro/resolver"
	"github.com/a-h/maestro/version"
)

const lockfilePath = "composer.lock"
const manifestPath = "composer.json"

// Installer is the subset of installer.Installer the orchestrator drives.
type Installer interface {
	Install(ctx context.Context, name, version, url, shasum string) error
}

// Orchestrator owns one command invocation's resolver and installer
// state.
type Orchestrator struct {
	log       *slog.Logger
	registry  *registry.Client
	resolver  *resolver.Resolver
	installer Installer
	metrics   metrics.Metrics
	parallel  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithParallelResolve makes Update (and therefore Install's fallback and
// Add/Remove) resolve dependencies in concurrent batches via
// resolver.ResolveParallel instead of resolver.Resolve.
func WithParallelResolve() Option {
	return func(o *Orchestrator) { o.parallel = true }
}

// New constructs an Orchestrator.
func New(log *slog.Logger, reg *registry.Client, res *resolver.Resolver, inst Installer, m metrics.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{log: log, registry: reg, resolver: res, installer: inst, metrics: m}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Install runs the install operation: replay the lockfile if one exists,
// otherwise fall through to Update.
func (o *Orchestrator) Install(ctx context.Context) error {
	if lockfile.Exists(lockfilePath) {
		lock, err := lockfile.Load(lockfilePath)
		if err != nil {
			return fmt.Errorf("failed to load lockfile: %w", err)
		}
		o.log.Info("installing from lockfile", slog.Int("packages", len(lock.Packages)))
		o.downloadAll(ctx, lock.Packages)
		return nil
	}
	return o.Update(ctx)
}

// Update loads the manifest, resolves the dependency graph, writes the
// lockfile, then downloads and extracts the resolved set.
func (o *Orchestrator) Update(ctx context.Context) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	resolve := o.resolver.Resolve
	if o.parallel {
		resolve = o.resolver.ResolveParallel
	}

	resolved, err := resolve(ctx, m.OrderedRequire())
	if err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	lock := lockfile.New(resolved)
	if err := lock.Save(lockfilePath); err != nil {
		return fmt.Errorf("failed to save lockfile: %w", err)
	}

	o.downloadAll(ctx, resolved)
	return nil
}

// Add fetches name's metadata, picks its highest stable version (falling
// back to the registry's last entry if no stable version exists),
// records a caret constraint against it in the manifest, rewrites the
// manifest, then runs Update.
func (o *Orchestrator) Add(ctx context.Context, name string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	versions, err := o.registry.GetPackageMetadata(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to fetch metadata for %s: %w", name, err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("package %s has no published versions", name)
	}

	selected := selectAddVersion(versions)
	display := strings.TrimPrefix(selected.Version, "v")
	constraint := "^" + display

	m.AddRequire(name, constraint)
	if err := m.Save(manifestPath); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	o.log.Info("added dependency", slog.String("package", name), slog.String("constraint", constraint))
	return o.Update(ctx)
}

// Remove deletes name from the manifest's direct requirements, rewrites
// the manifest, then runs Update. Symmetric to Add; not itself part of
// the resolver's or lockfile's contract.
func (o *Orchestrator) Remove(ctx context.Context, name string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	m.RemoveRequire(name)
	if err := m.Save(manifestPath); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	o.log.Info("removed dependency", slog.String("package", name))
	return o.Update(ctx)
}

// selectAddVersion picks the highest stable version by semantic order,
// falling back to the registry's last entry when no version classifies
// as stable.
func selectAddVersion(versions []registry.PackageVersion) registry.PackageVersion {
	var best registry.PackageVersion
	var bestSem version.Semantic
	haveBest := false

	for _, pv := range versions {
		if !version.IsStable(pv.VersionNormalized) {
			continue
		}
		sem, ok := version.Normalize(pv.VersionNormalized)
		if !ok {
			continue
		}
		if !haveBest || version.Compare(sem, bestSem) > 0 {
			best, bestSem, haveBest = pv, sem, true
		}
	}

	if haveBest {
		return best
	}
	return versions[len(versions)-1]
}

// downloadAll spawns one concurrent install task per package carrying a
// dist entry. Per-package failures are logged and counted; they never
// abort sibling tasks.
func (o *Orchestrator) downloadAll(ctx context.Context, packages []registry.PackageVersion) {
	var g errgroup.Group

	for _, pv := range packages {
		pv := pv
		if pv.Dist == nil {
			continue
		}
		g.Go(func() error {
			shasum := ""
			if pv.Dist != nil {
				shasum = pv.Dist.Shasum
			}
			if err := o.installer.Install(ctx, pv.Name, pv.Version, pv.Dist.URL, shasum); err != nil {
				o.log.Warn("failed to install package",
					slog.String("package", pv.Name),
					slog.String("version", pv.Version),
					slog.Any("error", err))
				o.metrics.IncrementInstallFailures(ctx, pv.Name)
			}
			return nil
		})
	}
	// Errors are handled per-task above; Wait only blocks for completion.
	g.Wait()
}
