package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/a-h/maestro/cache"
	"github.com/a-h/maestro/cmd/globals"
	"github.com/a-h/maestro/installer"
	"github.com/a-h/maestro/metrics"
	"github.com/a-h/maestro/orchestrator"
	"github.com/a-h/maestro/registry"
	"github.com/a-h/maestro/resolver"
	"github.com/a-h/maestro/storage"
)

type CLI struct {
	globals.Globals
	Version VersionCmd `cmd:"" help:"Show version information"`
	Install InstallCmd `cmd:"" default:"1" help:"Install dependencies from composer.lock, or resolve and install if absent"`
	Update  UpdateCmd  `cmd:"" help:"Re-resolve the dependency graph and rewrite composer.lock"`
	Add     AddCmd     `cmd:"" help:"Add a package to composer.json and update the install"`
	Remove  RemoveCmd  `cmd:"" help:"Remove a package from composer.json and update the install"`
}

var Version = "dev"

type VersionCmd struct{}

func (cmd *VersionCmd) Run(globals *globals.Globals) error {
	fmt.Printf("%s", Version)
	return nil
}

// S3Flags configures an S3 (or S3-compatible) bucket as the shared
// metadata/dist cache, so a team doesn't have every machine cold-fetch
// from the registry.
type S3Flags struct {
	Bucket          string `help:"S3 bucket name (required when cache-type=s3)" env:"MAESTRO_S3_BUCKET"`
	Region          string `help:"S3 region" default:"us-east-1" env:"MAESTRO_S3_REGION"`
	Endpoint        string `help:"S3 endpoint URL (for MinIO/custom endpoints)" env:"MAESTRO_S3_ENDPOINT"`
	AccessKeyID     string `help:"S3 access key ID (uses IAM role if not set)" env:"MAESTRO_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `help:"S3 secret access key (uses IAM role if not set)" env:"MAESTRO_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `help:"Use path-style S3 URLs (required for MinIO)" env:"MAESTRO_S3_FORCE_PATH_STYLE"`
}

// commonFlags are the flags shared by every subcommand that drives an
// install: where packages land, where the registry is, and how the
// metadata/dist cache is backed.
type commonFlags struct {
	VendorDir         string  `help:"Directory to install packages into" default:"vendor" env:"MAESTRO_VENDOR_DIR"`
	RegistryURL       string  `help:"Packagist-compatible registry base URL" default:"https://repo.packagist.org/p2" env:"MAESTRO_REGISTRY_URL"`
	AuthToken         string  `help:"Bearer token for private registries" env:"MAESTRO_AUTH_TOKEN"`
	CacheType         string  `help:"Metadata/dist cache backend" default:"fs" enum:"fs,s3" env:"MAESTRO_CACHE_TYPE"`
	S3                S3Flags `embed:"" prefix:"s3-"`
	MetricsListenAddr string  `help:"Address for the Prometheus metrics endpoint; empty disables it" default:"" env:"MAESTRO_METRICS_LISTEN_ADDR"`
	Parallel          bool    `help:"Resolve dependencies in parallel batches rather than sequentially" default:"true" env:"MAESTRO_PARALLEL"`
}

type InstallCmd struct {
	commonFlags
}

func (cmd *InstallCmd) Run(globals *globals.Globals) error {
	o, err := cmd.commonFlags.build(globals)
	if err != nil {
		return err
	}
	return o.Install(context.Background())
}

type UpdateCmd struct {
	commonFlags
}

func (cmd *UpdateCmd) Run(globals *globals.Globals) error {
	o, err := cmd.commonFlags.build(globals)
	if err != nil {
		return err
	}
	return o.Update(context.Background())
}

type AddCmd struct {
	commonFlags
	Name string `arg:"" help:"Package name to add (vendor/package)"`
}

func (cmd *AddCmd) Run(globals *globals.Globals) error {
	o, err := cmd.commonFlags.build(globals)
	if err != nil {
		return err
	}
	return o.Add(context.Background(), cmd.Name)
}

type RemoveCmd struct {
	commonFlags
	Name string `arg:"" help:"Package name to remove (vendor/package)"`
}

func (cmd *RemoveCmd) Run(globals *globals.Globals) error {
	o, err := cmd.commonFlags.build(globals)
	if err != nil {
		return err
	}
	return o.Remove(context.Background(), cmd.Name)
}

// build wires the logger, cache, registry client, resolver, installer
// and orchestrator that every subcommand shares.
func (cmd *commonFlags) build(globals *globals.Globals) (*orchestrator.Orchestrator, error) {
	opts := &slog.HandlerOptions{}
	if globals.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	m := metrics.Metrics{}
	if cmd.MetricsListenAddr != "" {
		var err error
		m, err = metrics.New()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		go func() {
			if err := metrics.ListenAndServe(cmd.MetricsListenAddr); err != nil {
				log.Error("metrics server exited", slog.String("addr", cmd.MetricsListenAddr), slog.Any("error", err))
			}
		}()
	}

	c, err := cmd.buildCache()
	if err != nil {
		return nil, err
	}

	var regOpts []registry.Option
	regOpts = append(regOpts, registry.WithBaseURL(cmd.RegistryURL))
	if cmd.AuthToken != "" {
		regOpts = append(regOpts, registry.WithAuthToken(cmd.AuthToken))
	}
	reg := registry.New(log, c, regOpts...)

	res := resolver.New(log, reg, m)
	inst := installer.New(log, c, m, cmd.VendorDir)

	var orchOpts []orchestrator.Option
	if cmd.Parallel {
		orchOpts = append(orchOpts, orchestrator.WithParallelResolve())
	}

	return orchestrator.New(log, reg, res, inst, m, orchOpts...), nil
}

func (cmd *commonFlags) buildCache() (*cache.Cache, error) {
	switch cmd.CacheType {
	case "s3":
		if cmd.S3.Bucket == "" {
			return nil, fmt.Errorf("--s3-bucket must also be set when --cache-type=s3")
		}
		backend, err := storage.NewS3(context.Background(), storage.S3Config{
			Bucket:          cmd.S3.Bucket,
			Prefix:          "maestro",
			Region:          cmd.S3.Region,
			Endpoint:        cmd.S3.Endpoint,
			AccessKeyID:     cmd.S3.AccessKeyID,
			SecretAccessKey: cmd.S3.SecretAccessKey,
			ForcePathStyle:  cmd.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 cache backend: %w", err)
		}
		return cache.New(backend), nil
	case "fs":
		c, err := cache.NewFileSystem()
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q - expected 'fs' or 's3'", cmd.CacheType)
	}
}

func main() {
	cli := CLI{
		Globals: globals.Globals{},
	}

	ctx := kong.Parse(&cli,
		kong.Name("maestro"),
		kong.Description("Resolve and install Composer-compatible PHP dependencies"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
