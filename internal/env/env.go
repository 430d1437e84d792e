package env

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory names relative to the project root.
const (
	SourceDirName = "dlib"
	CacheDirName  = "files"
	OutDirName    = "target/dlibsys"
)

// OutDirEnv overrides the build output directory.
const OutDirEnv = "OUT_DIR"

// Paths holds every directory the pipeline touches, resolved to absolute
// paths once at start.
type Paths struct {
	Root       string // project root
	SourceRoot string // vendored dlib checkout
	CacheDir   string // decompressed model assets
	OutDir     string // objects, archive and build cache
}

// Resolve returns the Paths for the project rooted at root. An empty root
// means the current working directory.
func Resolve(root string) (Paths, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve project root: %w", err)
	}
	outDir := filepath.Join(abs, filepath.FromSlash(OutDirName))
	if dir := os.Getenv(OutDirEnv); dir != "" {
		if outDir, err = filepath.Abs(dir); err != nil {
			return Paths{}, fmt.Errorf("resolve %s: %w", OutDirEnv, err)
		}
	}
	return Paths{
		Root:       abs,
		SourceRoot: filepath.Join(abs, SourceDirName),
		CacheDir:   filepath.Join(abs, CacheDirName),
		OutDir:     outDir,
	}, nil
}
