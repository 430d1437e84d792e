package build

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// ModuleList is an ordered list of translation units, relative to the
// source root and slash-separated.
type ModuleList []string

// Modules is the curated subset of dlib compiled into libdlib.a.
var Modules = ModuleList{
	"dlib/base64/base64_kernel_1.cpp",
	"dlib/bigint/bigint_kernel_1.cpp",
	"dlib/bigint/bigint_kernel_2.cpp",
	"dlib/bit_stream/bit_stream_kernel_1.cpp",
	"dlib/entropy_decoder/entropy_decoder_kernel_1.cpp",
	"dlib/entropy_decoder/entropy_decoder_kernel_2.cpp",
	"dlib/entropy_encoder/entropy_encoder_kernel_1.cpp",
	"dlib/entropy_encoder/entropy_encoder_kernel_2.cpp",
	"dlib/md5/md5_kernel_1.cpp",
	"dlib/tokenizer/tokenizer_kernel_1.cpp",
	"dlib/unicode/unicode.cpp",
	"dlib/test_for_odr_violations.cpp",
	"dlib/sockets/sockets_kernel_1.cpp",
	"dlib/bsp/bsp.cpp",
	"dlib/dir_nav/dir_nav_kernel_1.cpp",
	"dlib/dir_nav/dir_nav_kernel_2.cpp",
	"dlib/dir_nav/dir_nav_extensions.cpp",
	"dlib/linker/linker_kernel_1.cpp",
	"dlib/logger/extra_logger_headers.cpp",
	"dlib/logger/logger_kernel_1.cpp",
	"dlib/logger/logger_config_file.cpp",
	"dlib/misc_api/misc_api_kernel_1.cpp",
	"dlib/misc_api/misc_api_kernel_2.cpp",
	"dlib/sockets/sockets_extensions.cpp",
	"dlib/sockets/sockets_kernel_2.cpp",
	"dlib/sockstreambuf/sockstreambuf.cpp",
	"dlib/sockstreambuf/sockstreambuf_unbuffered.cpp",
	"dlib/server/server_kernel.cpp",
	"dlib/server/server_iostream.cpp",
	"dlib/server/server_http.cpp",
	"dlib/threads/multithreaded_object_extension.cpp",
	"dlib/threads/threaded_object_extension.cpp",
	"dlib/threads/threads_kernel_1.cpp",
	"dlib/threads/threads_kernel_2.cpp",
	"dlib/threads/threads_kernel_shared.cpp",
	"dlib/threads/thread_pool_extension.cpp",
	"dlib/threads/async.cpp",
	"dlib/timer/timer.cpp",
	"dlib/stack_trace.cpp",
	"dlib/cuda/cpu_dlib.cpp",
	"dlib/cuda/tensor_tools.cpp",
	"dlib/data_io/image_dataset_metadata.cpp",
	"dlib/data_io/mnist.cpp",
	"dlib/global_optimization/global_function_search.cpp",
	"dlib/filtering/kalman_filter.cpp",
	"dlib/svm/auto.cpp",
}

// Define is one preprocessor symbol. An empty Value defines the bare name.
type Define struct {
	Name  string
	Value string
}

// Flag renders d as a compiler -D argument.
func (d Define) Flag() string {
	if d.Value == "" {
		return "-D" + d.Name
	}
	return "-D" + d.Name + "=" + d.Value
}

// Version guard symbols. The guard value encodes the expected dlib version
// as MAJOR_MINOR_PATCH after guardPrefix.
const (
	GuardSymbol = "DLIB_CHECK_FOR_VERSION_MISMATCH"
	guardPrefix = "DLIB_VERSION_MISMATCH_CHECK__EXPECTED_VERSION_"
)

// Contract is the set of defines applied to every module.
type Contract struct {
	Defines []Define
}

// DefaultContract disables dlib asserts and pins the vendored 19.20.99 tree.
func DefaultContract() Contract {
	return Contract{Defines: []Define{
		{Name: "DLIB_DISABLE_ASSERTS"},
		{Name: GuardSymbol, Value: guardPrefix + "19_20_99"},
	}}
}

// Flags returns the -D arguments in declaration order.
func (c Contract) Flags() []string {
	flags := make([]string, len(c.Defines))
	for i, d := range c.Defines {
		flags[i] = d.Flag()
	}
	return flags
}

// GuardVersion returns the semver ("v19.20.99") encoded by the guard define.
func (c Contract) GuardVersion() (string, error) {
	for _, d := range c.Defines {
		if d.Name != GuardSymbol {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(d.Value, guardPrefix), "_")
		if !strings.HasPrefix(d.Value, guardPrefix) || len(parts) != 3 {
			return "", fmt.Errorf("malformed %s value %q", GuardSymbol, d.Value)
		}
		v := "v" + strings.Join(parts, ".")
		if !semver.IsValid(v) {
			return "", fmt.Errorf("malformed %s value %q", GuardSymbol, d.Value)
		}
		return v, nil
	}
	return "", fmt.Errorf("contract has no %s define", GuardSymbol)
}

// ErrVersionMismatch is wrapped by errors reporting a guard/tree mismatch.
var ErrVersionMismatch = errors.New("version guard mismatch")

var cpackVersion = regexp.MustCompile(`^\s*set\s*\(\s*CPACK_PACKAGE_VERSION_(MAJOR|MINOR|PATCH)\s+"?(\d+)"?\s*\)`)

// versionFile is where the vendored tree declares its version.
const versionFile = "dlib/CMakeLists.txt"

// DeclaredVersion reads the version the dlib tree at sourceRoot declares.
func DeclaredVersion(sourceRoot string) (string, error) {
	f, err := os.Open(filepath.Join(sourceRoot, filepath.FromSlash(versionFile)))
	if err != nil {
		return "", err
	}
	defer f.Close()

	found := make(map[string]string, 3)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if m := cpackVersion.FindStringSubmatch(sc.Text()); m != nil {
			found[m[1]] = m[2]
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	for _, k := range []string{"MAJOR", "MINOR", "PATCH"} {
		if found[k] == "" {
			return "", fmt.Errorf("%s: CPACK_PACKAGE_VERSION_%s not set", versionFile, k)
		}
	}
	return "v" + found["MAJOR"] + "." + found["MINOR"] + "." + found["PATCH"], nil
}

// CheckVersion fails unless the contract's guard names the version the
// tree at sourceRoot declares.
func CheckVersion(sourceRoot string, c Contract) error {
	guard, err := c.GuardVersion()
	if err != nil {
		return err
	}
	declared, err := DeclaredVersion(sourceRoot)
	if err != nil {
		return err
	}
	if semver.Compare(guard, declared) != 0 {
		return fmt.Errorf("%w: guard expects %s, source tree declares %s", ErrVersionMismatch, guard, declared)
	}
	return nil
}
