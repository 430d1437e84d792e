package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// CompileJob describes one translation unit.
type CompileJob struct {
	Source   string   // absolute path of the .cpp file
	Object   string   // absolute path of the .o file to produce
	Includes []string // include directories
	Flags    []string // -D flags from the contract
}

// Toolchain compiles objects and bundles them into a static archive.
type Toolchain interface {
	Compile(ctx context.Context, job CompileJob) error
	Archive(ctx context.Context, archive string, objects []string) error
}

// CommandToolchain drives an external C++ compiler and archiver.
type CommandToolchain struct {
	CXX      string
	AR       string
	CXXFlags []string
	Env      map[string]string // overrides on top of the process environment
}

// DefaultToolchain honors $CXX, $AR and $CXXFLAGS, falling back to c++ and ar.
// Tools run in the C locale so diagnostics read the same everywhere.
func DefaultToolchain() *CommandToolchain {
	t := &CommandToolchain{
		CXX:      getenvOr("CXX", "c++"),
		AR:       getenvOr("AR", "ar"),
		CXXFlags: []string{"-O2", "-fPIC", "-std=c++14"},
		Env:      map[string]string{"LC_ALL": "C"},
	}
	if flags := strings.Fields(os.Getenv("CXXFLAGS")); len(flags) > 0 {
		t.CXXFlags = flags
	}
	return t
}

// String identifies the tools, flags and environment overrides.
func (t *CommandToolchain) String() string {
	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	fmt.Fprintf(&sb, "cxx=%s ar=%s cxxflags=%s", t.CXX, t.AR, strings.Join(t.CXXFlags, " "))
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, t.Env[k])
	}
	return sb.String()
}

func (t *CommandToolchain) Compile(ctx context.Context, job CompileJob) error {
	args := append([]string{}, t.CXXFlags...)
	for _, inc := range job.Includes {
		args = append(args, "-I"+inc)
	}
	args = append(args, job.Flags...)
	args = append(args, "-c", job.Source, "-o", job.Object)
	return run(ctx, t.CXX, args, t.Env)
}

func (t *CommandToolchain) Archive(ctx context.Context, archive string, objects []string) error {
	args := append([]string{"crs", archive}, objects...)
	return run(ctx, t.AR, args, t.Env)
}

func run(ctx context.Context, bin string, args []string, env map[string]string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if len(env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), env)
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s: %w\n%s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}

func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

func getenvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
