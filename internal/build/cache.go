package build

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

// Output directory layout:
//
//	outDir/
//	  .cache.json        # build cache: fingerprint of the last successful build
//	  .lock              # held while compiling
//	  obj/<module>.o
//	  lib/libdlib.a
const cacheFile = ".cache.json"

// buildCache records the last successful build of the archive.
type buildCache struct {
	Fingerprint string    `json:"fingerprint"`
	Archive     string    `json:"archive"`
	BuildTime   time.Time `json:"build_time"`
}

// loadBuildCache reads the cache file at path.
func loadBuildCache(path string) (*buildCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cache buildCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

// saveBuildCache writes cache to path.
func saveBuildCache(path string, cache *buildCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// fresh reports whether cache describes an archive built from fingerprint
// that is still on disk.
func (c *buildCache) fresh(fingerprint string) bool {
	if c == nil || c.Fingerprint != fingerprint {
		return false
	}
	_, err := os.Stat(c.Archive)
	return err == nil
}

// Fingerprint hashes the state of every file under sourceRoot together with
// the recipe that turns it into an archive: the module list, the contract
// and the toolchain identity. Any change anywhere in the tree changes the
// result; the granularity is the whole tree, not individual modules.
func Fingerprint(sourceRoot string, modules ModuleList, c Contract, toolchain string) (string, error) {
	h := blake3.New()
	fmt.Fprintf(h, "toolchain %q\n", toolchain)
	for _, flag := range c.Flags() {
		fmt.Fprintf(h, "flag %s\n", flag)
	}
	for _, m := range modules {
		fmt.Fprintf(h, "module %s\n", m)
	}
	err := doublestar.GlobWalk(os.DirFS(sourceRoot), "**", func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "file %s %d %d\n", path, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", filepath.Base(sourceRoot), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
