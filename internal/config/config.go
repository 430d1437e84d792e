// Package config turns build-time toggles into a BuildConfiguration.
//
// Toggles come from up to three layers, applied in order: an optional
// dlibsys.yaml in the project root, DLIBSYS_* environment variables, and
// command-line flags. A later layer that selects a strategy replaces the
// earlier choice; asset toggles only ever enable, so the enabled set is the
// union over all layers. Contradictions are checked within a layer.
package config

import (
	"fmt"
	"slices"
	"strings"
)

// Strategy selects how the dlib library reaches the linker.
type Strategy int

const (
	// LinkSystem assumes dlib and its BLAS/LAPACK dependencies are installed.
	LinkSystem Strategy = iota
	// CompileBundled compiles the vendored dlib tree into a static archive.
	CompileBundled
)

func (s Strategy) String() string {
	switch s {
	case LinkSystem:
		return "system"
	case CompileBundled:
		return "bundled"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy accepts the names produced by Strategy.String.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "system":
		return LinkSystem, nil
	case "bundled":
		return CompileBundled, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

// Asset identifies one optional downloadable model file.
type Asset string

const (
	FaceDetector      Asset = "face-detector"
	FaceEncoder       Asset = "face-encoder"
	LandmarkPredictor Asset = "landmark-predictor"
)

// allAssets is the toggle value that enables the whole catalog.
const allAssets = "all"

// Catalog lists every known asset in canonical order.
var Catalog = []Asset{FaceDetector, FaceEncoder, LandmarkPredictor}

// ParseAsset validates an asset name against the catalog.
func ParseAsset(name string) (Asset, error) {
	a := Asset(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Catalog, a) {
		return "", fmt.Errorf("unknown asset %q", name)
	}
	return a, nil
}

// ConfigurationError reports contradictory or malformed toggles.
type ConfigurationError struct {
	Source string // "file", "env" or "flags", or a file path
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// BuildConfiguration is the immutable result of resolving toggles.
type BuildConfiguration struct {
	strategy Strategy
	assets   []Asset
}

// New returns a BuildConfiguration. Assets are de-duplicated and sorted
// into catalog order.
func New(strategy Strategy, assets ...Asset) (BuildConfiguration, error) {
	if strategy != LinkSystem && strategy != CompileBundled {
		return BuildConfiguration{}, &ConfigurationError{Source: "config", Err: fmt.Errorf("invalid strategy %v", strategy)}
	}
	var enabled []Asset
	for _, a := range assets {
		if !slices.Contains(Catalog, a) {
			return BuildConfiguration{}, &ConfigurationError{Source: "config", Err: fmt.Errorf("unknown asset %q", a)}
		}
	}
	for _, a := range Catalog {
		if slices.Contains(assets, a) {
			enabled = append(enabled, a)
		}
	}
	return BuildConfiguration{strategy: strategy, assets: enabled}, nil
}

// Strategy returns the selected build strategy.
func (c BuildConfiguration) Strategy() Strategy { return c.strategy }

// EnabledAssets returns a copy of the enabled assets in catalog order.
func (c BuildConfiguration) EnabledAssets() []Asset { return slices.Clone(c.assets) }

// AssetEnabled reports whether a is enabled.
func (c BuildConfiguration) AssetEnabled(a Asset) bool { return slices.Contains(c.assets, a) }

func (c BuildConfiguration) String() string {
	names := make([]string, len(c.assets))
	for i, a := range c.assets {
		names[i] = string(a)
	}
	return fmt.Sprintf("strategy=%s assets=[%s]", c.strategy, strings.Join(names, ","))
}

// Toggles is one layer of raw toggle input. The zero value selects nothing.
type Toggles struct {
	Strategy *Strategy
	Assets   []Asset
}

// Resolve folds layers in order into a BuildConfiguration. With no
// strategy selected anywhere the result is LinkSystem.
func Resolve(layers ...Toggles) (BuildConfiguration, error) {
	strategy := LinkSystem
	var assets []Asset
	for _, l := range layers {
		if l.Strategy != nil {
			strategy = *l.Strategy
		}
		assets = append(assets, l.Assets...)
	}
	return New(strategy, assets...)
}

// fromSwitches builds a layer out of boolean switches, the shape both
// flags and environment variables take.
func fromSwitches(source string, bundled, system, all bool, enabled map[Asset]bool) (Toggles, error) {
	var t Toggles
	switch {
	case bundled && system:
		return Toggles{}, &ConfigurationError{Source: source, Err: fmt.Errorf("bundled and system strategies are mutually exclusive")}
	case bundled:
		s := CompileBundled
		t.Strategy = &s
	case system:
		s := LinkSystem
		t.Strategy = &s
	}
	for _, a := range Catalog {
		if all || enabled[a] {
			t.Assets = append(t.Assets, a)
		}
	}
	return t, nil
}
