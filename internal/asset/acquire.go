package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/goplus/dlibsys/internal/config"
	"github.com/goplus/dlibsys/internal/par"
)

// Stage names the step of an acquisition that failed.
type Stage string

const (
	StageMkdir      Stage = "mkdir"
	StageFetch      Stage = "fetch"
	StageDecompress Stage = "decompress"
	StageWrite      Stage = "write"
)

// AcquisitionError reports a failed asset acquisition.
type AcquisitionError struct {
	Asset config.Asset
	URL   string
	Stage Stage
	Err   error
}

func (e *AcquisitionError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("acquire assets: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("acquire asset %s (%s): %s: %v", e.Asset, e.URL, e.Stage, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Status tells how an asset came to be present.
type Status int

const (
	// Cached means the file existed before this run.
	Cached Status = iota
	// Fetched means the file was downloaded by this run.
	Fetched
)

func (s Status) String() string {
	if s == Fetched {
		return "fetched"
	}
	return "cached"
}

// Result describes one acquired asset.
type Result struct {
	Asset  config.Asset
	Path   string
	Status Status
}

// Options configures an Acquirer. Zero fields take defaults.
type Options struct {
	Transport Transport    // default NewHTTPTransport()
	Logger    hclog.Logger // default null logger
	Jobs      int          // parallel fetches, default GOMAXPROCS

	// Catalog overrides the asset catalog.
	Catalog map[config.Asset]Descriptor

	// Atomic downloads into a temporary name and renames it into place
	// only after the copy succeeds, so an interrupted run leaves no file
	// under the final name. Off by default: the historical behavior
	// writes the final name directly.
	Atomic bool
}

// Acquirer fills a cache directory with decompressed assets.
type Acquirer struct {
	cacheDir  string
	transport Transport
	logger    hclog.Logger
	jobs      int
	catalog   map[config.Asset]Descriptor
	atomic    bool
}

// New returns an Acquirer writing into cacheDir.
func New(cacheDir string, opts Options) *Acquirer {
	a := &Acquirer{
		cacheDir:  cacheDir,
		transport: opts.Transport,
		logger:    opts.Logger,
		jobs:      opts.Jobs,
		catalog:   opts.Catalog,
		atomic:    opts.Atomic,
	}
	if a.transport == nil {
		a.transport = NewHTTPTransport()
	}
	if a.logger == nil {
		a.logger = hclog.NewNullLogger()
	}
	if a.jobs < 1 {
		a.jobs = runtime.GOMAXPROCS(0)
	}
	if a.catalog == nil {
		a.catalog = Catalog
	}
	return a
}

// Acquire makes sure every asset enabled in cfg is present in the cache.
// The cache directory is created only when at least one asset is enabled,
// and before any fetch starts. The first failure aborts the remaining
// work. Results are in catalog order.
func (a *Acquirer) Acquire(ctx context.Context, cfg config.BuildConfiguration) ([]Result, error) {
	assets := cfg.EnabledAssets()
	if len(assets) == 0 {
		return nil, nil
	}
	for _, id := range assets {
		if _, ok := a.catalog[id]; !ok {
			return nil, &AcquisitionError{Asset: id, Stage: StageFetch, Err: errors.New("no descriptor for asset")}
		}
	}
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return nil, &AcquisitionError{Stage: StageMkdir, Err: err}
	}

	var (
		mu      sync.Mutex
		results = make(map[config.Asset]Result, len(assets))
		work    par.Work[config.Asset]
	)
	for _, id := range assets {
		work.Add(id)
	}
	err := work.Do(a.jobs, func(id config.Asset) error {
		r, err := a.acquireOne(ctx, a.catalog[id])
		if err != nil {
			return err
		}
		mu.Lock()
		results[id] = r
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(assets))
	for _, id := range assets {
		out = append(out, results[id])
	}
	return out, nil
}

func (a *Acquirer) acquireOne(ctx context.Context, d Descriptor) (Result, error) {
	fail := func(stage Stage, err error) (Result, error) {
		return Result{}, &AcquisitionError{Asset: d.ID, URL: d.URL, Stage: stage, Err: err}
	}

	name, err := d.LocalName()
	if err != nil {
		return fail(StageFetch, err)
	}
	dest := filepath.Join(a.cacheDir, name)

	// Presence is the only check; content is never inspected.
	if _, err := os.Stat(dest); err == nil {
		a.logger.Info("already got asset", "asset", d.ID, "path", dest)
		return Result{Asset: d.ID, Path: dest, Status: Cached}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fail(StageWrite, err)
	}

	a.logger.Info("downloading asset", "asset", d.ID, "url", d.URL)
	body, err := a.transport.Open(ctx, d.URL)
	if err != nil {
		return fail(StageFetch, err)
	}
	defer body.Close()

	decoded, err := d.Codec.NewReader(stageReader{r: body, stage: StageFetch})
	if err != nil {
		return fail(StageDecompress, err)
	}

	if err := a.write(dest, stageReader{r: decoded, stage: StageDecompress}); err != nil {
		var se *stageError
		if errors.As(err, &se) {
			return fail(se.stage, se.err)
		}
		return fail(StageWrite, err)
	}
	a.logger.Debug("asset written", "asset", d.ID, "path", dest)
	return Result{Asset: d.ID, Path: dest, Status: Fetched}, nil
}

// write copies src into dest. Errors from the sink are tagged StageWrite.
func (a *Acquirer) write(dest string, src io.Reader) error {
	if !a.atomic {
		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		_, err = io.Copy(stageWriter{w: f}, src)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			a.logger.Warn("asset left partially written", "path", dest)
		}
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = io.Copy(stageWriter{w: f}, src)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}

// stageError tags an error with the pipe stage that produced it.
type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return string(e.stage) + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

type stageReader struct {
	r     io.Reader
	stage Stage
}

func (s stageReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		var se *stageError
		if !errors.As(err, &se) {
			err = &stageError{stage: s.stage, err: err}
		}
	}
	return n, err
}

type stageWriter struct {
	w io.Writer
}

func (s stageWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		err = &stageError{stage: StageWrite, err: err}
	}
	return n, err
}
