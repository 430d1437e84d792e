// Package pipeline runs the provisioning steps in order: compile (or skip),
// acquire assets, then emit the link plan.
package pipeline

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/goplus/dlibsys/internal/asset"
	"github.com/goplus/dlibsys/internal/build"
	"github.com/goplus/dlibsys/internal/config"
	"github.com/goplus/dlibsys/internal/env"
	"github.com/goplus/dlibsys/internal/link"
)

// Options wires the external collaborators. Zero fields take defaults.
type Options struct {
	Toolchain   build.Toolchain
	Transport   asset.Transport
	Logger      hclog.Logger
	Jobs        int
	AtomicFetch bool

	// Output receives the link directives; nil discards them.
	Output io.Writer
}

// Report is everything one run produced.
type Report struct {
	Build  build.Result
	Assets []asset.Result
	Plan   link.Plan
}

// Run executes the pipeline for cfg. The first error aborts the run and
// is returned unchanged, so callers can inspect it with errors.As.
func Run(ctx context.Context, cfg config.BuildConfiguration, paths env.Paths, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger.Info("provisioning dlib", "config", cfg.String(), "root", paths.Root)

	builder := build.NewBuilder(paths.SourceRoot, paths.OutDir, build.Options{
		Toolchain: opts.Toolchain,
		Logger:    logger.Named("build"),
		Jobs:      opts.Jobs,
	})
	built, err := builder.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	acquirer := asset.New(paths.CacheDir, asset.Options{
		Transport: opts.Transport,
		Logger:    logger.Named("asset"),
		Jobs:      opts.Jobs,
		Atomic:    opts.AtomicFetch,
	})
	assets, err := acquirer.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}

	plan := link.NewPlan(cfg, built)
	if opts.Output != nil {
		if err := plan.Emit(opts.Output); err != nil {
			return nil, err
		}
	}
	logger.Debug("link plan emitted", "libraries", plan.Libraries)
	return &Report{Build: built, Assets: assets, Plan: plan}, nil
}
