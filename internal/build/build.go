// Package build compiles the vendored dlib sources into libdlib.a.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/goplus/dlibsys/internal/config"
	"github.com/goplus/dlibsys/internal/par"
)

// ArchiveName is the file name of the compiled archive; the linker sees it
// as library "dlib".
const (
	ArchiveName = "libdlib.a"
	LibraryName = "dlib"
)

// CompilationError reports a failed bundled build. Module names the
// offending translation unit when there is one.
type CompilationError struct {
	Module string
	Err    error
}

func (e *CompilationError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("compile dlib: %v", e.Err)
	}
	return fmt.Sprintf("compile dlib: %s: %v", e.Module, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// Result describes the outcome of Build.
type Result struct {
	// Skipped is set when the strategy does not compile anything.
	Skipped bool
	// Reused is set when the previous archive was still fresh.
	Reused bool

	Archive    string // path of libdlib.a
	LibDir     string // directory holding the archive
	IncludeDir string // include root for the binding step
}

// Options configures a Builder. Zero fields take defaults.
type Options struct {
	Toolchain Toolchain    // default DefaultToolchain()
	Logger    hclog.Logger // default null logger
	Jobs      int          // parallel compiles, default $NUM_JOBS or GOMAXPROCS
	Modules   ModuleList   // default Modules
	Contract  *Contract    // default DefaultContract()
}

// Builder compiles a module list from sourceRoot into outDir.
type Builder struct {
	sourceRoot string
	outDir     string
	toolchain  Toolchain
	logger     hclog.Logger
	jobs       int
	modules    ModuleList
	contract   Contract
}

// NewBuilder returns a Builder for the tree at sourceRoot.
func NewBuilder(sourceRoot, outDir string, opts Options) *Builder {
	b := &Builder{
		sourceRoot: sourceRoot,
		outDir:     outDir,
		toolchain:  opts.Toolchain,
		logger:     opts.Logger,
		jobs:       opts.Jobs,
		modules:    opts.Modules,
	}
	if b.toolchain == nil {
		b.toolchain = DefaultToolchain()
	}
	if b.logger == nil {
		b.logger = hclog.NewNullLogger()
	}
	if b.jobs < 1 {
		b.jobs = defaultJobs()
	}
	if b.modules == nil {
		b.modules = Modules
	}
	if opts.Contract != nil {
		b.contract = *opts.Contract
	} else {
		b.contract = DefaultContract()
	}
	return b
}

// Build compiles the archive when cfg selects the bundled strategy and is
// a no-op otherwise. The archive is all-or-nothing: it is only written
// after every module compiled.
func (b *Builder) Build(ctx context.Context, cfg config.BuildConfiguration) (Result, error) {
	if cfg.Strategy() != config.CompileBundled {
		b.logger.Debug("system strategy selected, skipping compilation")
		return Result{Skipped: true}, nil
	}

	res := Result{
		LibDir:     filepath.Join(b.outDir, "lib"),
		IncludeDir: b.sourceRoot,
	}
	res.Archive = filepath.Join(res.LibDir, ArchiveName)

	if info, err := os.Stat(b.sourceRoot); err != nil {
		return Result{}, &CompilationError{Err: fmt.Errorf("source root: %w", err)}
	} else if !info.IsDir() {
		return Result{}, &CompilationError{Err: fmt.Errorf("source root %s is not a directory", b.sourceRoot)}
	}
	if err := CheckVersion(b.sourceRoot, b.contract); err != nil {
		return Result{}, &CompilationError{Module: versionFile, Err: err}
	}
	for _, m := range b.modules {
		if _, err := os.Stat(b.sourcePath(m)); err != nil {
			return Result{}, &CompilationError{Module: m, Err: err}
		}
	}

	if err := os.MkdirAll(res.LibDir, 0o755); err != nil {
		return Result{}, &CompilationError{Err: err}
	}
	unlock, err := lockFile(filepath.Join(b.outDir, ".lock"))
	if err != nil {
		return Result{}, &CompilationError{Err: fmt.Errorf("lock output dir: %w", err)}
	}
	defer unlock()

	fingerprint, err := Fingerprint(b.sourceRoot, b.modules, b.contract, toolchainID(b.toolchain))
	if err != nil {
		return Result{}, &CompilationError{Err: err}
	}
	cachePath := filepath.Join(b.outDir, cacheFile)
	if cache, err := loadBuildCache(cachePath); err == nil && cache.Archive == res.Archive && cache.fresh(fingerprint) {
		b.logger.Info("archive up to date", "archive", res.Archive, "built", cache.BuildTime.Format(time.RFC3339))
		res.Reused = true
		return res, nil
	}

	start := time.Now()
	b.logger.Info("compiling dlib", "modules", len(b.modules), "jobs", b.jobs)
	objects, err := b.compileAll(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := os.Remove(res.Archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Result{}, &CompilationError{Module: ArchiveName, Err: err}
	}
	if err := b.toolchain.Archive(ctx, res.Archive, objects); err != nil {
		return Result{}, &CompilationError{Module: ArchiveName, Err: err}
	}

	cache := &buildCache{Fingerprint: fingerprint, Archive: res.Archive, BuildTime: time.Now()}
	if err := saveBuildCache(cachePath, cache); err != nil {
		// The archive is complete; a missing stamp only costs a rebuild.
		b.logger.Warn("failed to save build cache", "path", cachePath, "error", err)
	}
	b.logger.Info("archive built", "archive", res.Archive, "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// compileAll compiles every module and returns the objects in module order.
func (b *Builder) compileAll(ctx context.Context) ([]string, error) {
	objects := make([]string, len(b.modules))
	index := make(map[string]int, len(b.modules))
	var work par.Work[string]
	for i, m := range b.modules {
		objects[i] = b.objectPath(m)
		index[m] = i
		work.Add(m)
	}

	flags := b.contract.Flags()
	err := work.Do(b.jobs, func(m string) error {
		obj := objects[index[m]]
		if err := os.MkdirAll(filepath.Dir(obj), 0o755); err != nil {
			return &CompilationError{Module: m, Err: err}
		}
		b.logger.Debug("compiling", "module", m)
		job := CompileJob{
			Source:   b.sourcePath(m),
			Object:   obj,
			Includes: []string{b.sourceRoot},
			Flags:    flags,
		}
		if err := b.toolchain.Compile(ctx, job); err != nil {
			return &CompilationError{Module: m, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (b *Builder) sourcePath(module string) string {
	return filepath.Join(b.sourceRoot, filepath.FromSlash(module))
}

func (b *Builder) objectPath(module string) string {
	rel := strings.TrimSuffix(module, filepath.Ext(module)) + ".o"
	return filepath.Join(b.outDir, "obj", filepath.FromSlash(rel))
}

// toolchainID names t for the build cache. Toolchains that implement
// fmt.Stringer describe their configuration; others are known by type.
func toolchainID(t Toolchain) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}

func defaultJobs() int {
	if n, err := strconv.Atoi(os.Getenv("NUM_JOBS")); err == nil && n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}
