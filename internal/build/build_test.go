package build

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/dlibsys/internal/config"
)

// fakeToolchain writes the source path into each object and concatenates
// objects into the archive. It records every call.
type fakeToolchain struct {
	mu       sync.Mutex
	compiled []CompileJob
	archives int
	failOn   string
	name     string
}

func (f *fakeToolchain) String() string { return "fake " + f.name }

func (f *fakeToolchain) Compile(ctx context.Context, job CompileJob) error {
	f.mu.Lock()
	f.compiled = append(f.compiled, job)
	f.mu.Unlock()
	if f.failOn != "" && strings.HasSuffix(filepath.ToSlash(job.Source), f.failOn) {
		return errors.New("error: expected ';' before '}' token")
	}
	return os.WriteFile(job.Object, []byte(job.Source+"\n"), 0o644)
}

func (f *fakeToolchain) Archive(ctx context.Context, archive string, objects []string) error {
	f.mu.Lock()
	f.archives++
	f.mu.Unlock()
	var data []byte
	for _, o := range objects {
		b, err := os.ReadFile(o)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	return os.WriteFile(archive, data, 0o644)
}

func (f *fakeToolchain) compileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.compiled)
}

var testModules = ModuleList{
	"dlib/base64/base64_kernel_1.cpp",
	"dlib/md5/md5_kernel_1.cpp",
	"dlib/svm/auto.cpp",
}

// makeTree lays out a fake vendored dlib checkout with the given modules.
func makeTree(t *testing.T, modules ModuleList) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "dlib")
	writeCMakeLists(t, root, "19", "20", "99")
	for _, m := range modules {
		path := filepath.Join(root, filepath.FromSlash(m))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("// "+m+"\n"), 0o644))
	}
	return root
}

func bundled(t *testing.T) config.BuildConfiguration {
	t.Helper()
	cfg, err := config.New(config.CompileBundled)
	require.NoError(t, err)
	return cfg
}

func TestBuildSkippedForSystem(t *testing.T) {
	tc := &fakeToolchain{}
	outDir := filepath.Join(t.TempDir(), "out")
	b := NewBuilder(filepath.Join(t.TempDir(), "missing"), outDir, Options{Toolchain: tc})

	cfg, err := config.New(config.LinkSystem)
	require.NoError(t, err)
	res, err := b.Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Archive)
	assert.Zero(t, tc.compileCount())
	_, err = os.Stat(outDir)
	assert.True(t, os.IsNotExist(err), "nothing is written under the system strategy")
}

func TestBuildBundled(t *testing.T) {
	root := makeTree(t, testModules)
	outDir := t.TempDir()
	tc := &fakeToolchain{}

	b := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules, Jobs: 2})
	res, err := b.Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.False(t, res.Reused)
	assert.Equal(t, filepath.Join(outDir, "lib", ArchiveName), res.Archive)
	assert.Equal(t, filepath.Join(outDir, "lib"), res.LibDir)
	assert.Equal(t, root, res.IncludeDir)

	require.Equal(t, len(testModules), tc.compileCount())
	for _, job := range tc.compiled {
		assert.Equal(t, DefaultContract().Flags(), job.Flags)
		assert.Equal(t, []string{root}, job.Includes)
	}

	// Objects are archived in module order.
	data, err := os.ReadFile(res.Archive)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, len(testModules))
	for i, m := range testModules {
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(m)), lines[i])
	}
	assert.FileExists(t, filepath.Join(outDir, "obj", "dlib", "md5", "md5_kernel_1.o"))
	assert.FileExists(t, filepath.Join(outDir, cacheFile))
}

func TestBuildReusesFreshArchive(t *testing.T) {
	root := makeTree(t, testModules)
	outDir := t.TempDir()
	tc := &fakeToolchain{}
	b := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules})

	_, err := b.Build(context.Background(), bundled(t))
	require.NoError(t, err)
	n := tc.compileCount()

	res, err := b.Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, n, tc.compileCount(), "fresh archive must not recompile")

	// Touching anything in the tree invalidates the whole archive.
	require.NoError(t, os.WriteFile(filepath.Join(root, "dlib", "NEWS"), []byte("x"), 0o644))
	res, err = b.Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, 2*n, tc.compileCount())

	// So does losing the archive.
	require.NoError(t, os.Remove(res.Archive))
	res, err = b.Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.FileExists(t, res.Archive)
}

func TestBuildRecipeChangeForcesRebuild(t *testing.T) {
	root := makeTree(t, testModules)
	outDir := t.TempDir()
	tc := &fakeToolchain{name: "gcc"}

	_, err := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules}).Build(context.Background(), bundled(t))
	require.NoError(t, err)
	n := tc.compileCount()

	// A shorter module list must not reuse the archive built from the full one.
	res, err := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules[:2]}).Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, n+2, tc.compileCount())
	data, err := os.ReadFile(res.Archive)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)

	// Same list, different compiler.
	other := &fakeToolchain{name: "clang"}
	res, err = NewBuilder(root, outDir, Options{Toolchain: other, Modules: testModules[:2]}).Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, 2, other.compileCount())

	res, err = NewBuilder(root, outDir, Options{Toolchain: other, Modules: testModules[:2]}).Build(context.Background(), bundled(t))
	require.NoError(t, err)
	assert.True(t, res.Reused)
}

func TestBuildMissingModule(t *testing.T) {
	root := makeTree(t, testModules[:2])
	outDir := filepath.Join(t.TempDir(), "out")
	tc := &fakeToolchain{}

	_, err := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules}).Build(context.Background(), bundled(t))
	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "dlib/svm/auto.cpp", cerr.Module)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Zero(t, tc.compileCount(), "missing modules are detected before compiling")
	_, statErr := os.Stat(filepath.Join(outDir, "lib", ArchiveName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildMissingSourceRoot(t *testing.T) {
	tc := &fakeToolchain{}
	_, err := NewBuilder(filepath.Join(t.TempDir(), "dlib"), t.TempDir(), Options{Toolchain: tc}).Build(context.Background(), bundled(t))
	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestBuildVersionMismatch(t *testing.T) {
	root := makeTree(t, testModules)
	writeCMakeLists(t, root, "19", "24", "0")
	outDir := t.TempDir()
	tc := &fakeToolchain{}

	_, err := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules}).Build(context.Background(), bundled(t))
	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, errors.Is(err, ErrVersionMismatch))
	assert.Zero(t, tc.compileCount())
	assert.Zero(t, tc.archives)
	assert.NoFileExists(t, filepath.Join(outDir, "lib", ArchiveName))
}

func TestBuildCompilerDiagnostic(t *testing.T) {
	root := makeTree(t, testModules)
	outDir := t.TempDir()
	tc := &fakeToolchain{failOn: "md5_kernel_1.cpp"}

	_, err := NewBuilder(root, outDir, Options{Toolchain: tc, Modules: testModules, Jobs: 1}).Build(context.Background(), bundled(t))
	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "dlib/md5/md5_kernel_1.cpp", cerr.Module)
	assert.Zero(t, tc.archives, "no archive after a failed module")
	assert.NoFileExists(t, filepath.Join(outDir, "lib", ArchiveName))
	assert.NoFileExists(t, filepath.Join(outDir, cacheFile))
}

func TestCommandToolchain(t *testing.T) {
	tc := DefaultToolchain()
	if _, err := exec.LookPath(tc.CXX); err != nil {
		t.Skipf("%s not available", tc.CXX)
	}
	if _, err := exec.LookPath(tc.AR); err != nil {
		t.Skipf("%s not available", tc.AR)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "guard.cpp")
	require.NoError(t, os.WriteFile(src, []byte(
		"#ifndef DLIB_DISABLE_ASSERTS\n#error contract not applied\n#endif\nint guard() { return 1; }\n"), 0o644))
	obj := filepath.Join(dir, "guard.o")

	ctx := context.Background()
	err := tc.Compile(ctx, CompileJob{Source: src, Object: obj, Flags: DefaultContract().Flags()})
	require.NoError(t, err)
	require.FileExists(t, obj)

	archive := filepath.Join(dir, ArchiveName)
	require.NoError(t, tc.Archive(ctx, archive, []string{obj}))
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "!<arch>"))

	// A diagnostic at error severity surfaces as an error carrying the output.
	err = tc.Compile(ctx, CompileJob{Source: src, Object: obj})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract not applied")
}

func TestCommandToolchainString(t *testing.T) {
	a := &CommandToolchain{CXX: "g++", AR: "ar", CXXFlags: []string{"-O2"}, Env: map[string]string{"LC_ALL": "C", "A": "1"}}
	assert.Equal(t, "cxx=g++ ar=ar cxxflags=-O2 A=1 LC_ALL=C", a.String())

	b := *a
	b.CXXFlags = []string{"-O0"}
	assert.NotEqual(t, a.String(), b.String())
	assert.Equal(t, a.String(), toolchainID(a))
	assert.Equal(t, "C", DefaultToolchain().Env["LC_ALL"])
}

func TestRunAppliesEnv(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	t.Setenv("DLIBSYS_RUN_BASE", "kept")
	err := run(context.Background(), "sh", []string{"-c", "echo locale=$LC_ALL base=$DLIBSYS_RUN_BASE; exit 3"},
		map[string]string{"LC_ALL": "C"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locale=C base=kept")
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"B=1", "A=2", "bogus"}, map[string]string{"A": "3", "C": "4"})
	assert.Equal(t, []string{"A=3", "B=1", "C=4"}, got)
}
