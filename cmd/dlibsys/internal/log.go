package internal

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/goplus/dlibsys/internal/asset"
	"github.com/goplus/dlibsys/internal/build"
	"github.com/goplus/dlibsys/internal/config"
)

// Environment variables controlling log output.
const (
	LogLevelEnvVar  = "DLIBSYS_LOG_LEVEL"
	LogFormatEnvVar = "DLIBSYS_LOG_FORMAT"
)

// newLogger builds the root logger. Logs go to w (stderr in practice)
// because stdout carries the link directives.
func newLogger(w io.Writer, verbose bool) hclog.Logger {
	level := hclog.LevelFromString(strings.ToUpper(os.Getenv(LogLevelEnvVar)))
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "dlibsys",
		Level:      level,
		Output:     w,
		JSONFormat: strings.EqualFold(os.Getenv(LogFormatEnvVar), "json"),
	})
}

// stageOf names the pipeline stage an error came from.
func stageOf(err error) string {
	var (
		cfgErr   *config.ConfigurationError
		buildErr *build.CompilationError
		assetErr *asset.AcquisitionError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &buildErr):
		return "compilation"
	case errors.As(err, &assetErr):
		return "acquisition"
	}
	return "pipeline"
}
