package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// FileName is the optional toggle file looked up in the project root.
const FileName = "dlibsys.yaml"

// fileToggles is the on-disk shape of dlibsys.yaml:
//
//	strategy: bundled
//	assets: [face-detector, landmark-predictor]
type fileToggles struct {
	Strategy string   `yaml:"strategy"`
	Assets   []string `yaml:"assets"`
}

// LoadFile reads a toggle layer from path. A missing file is an empty layer.
func LoadFile(path string) (Toggles, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Toggles{}, nil
	}
	if err != nil {
		return Toggles{}, &ConfigurationError{Source: path, Err: err}
	}

	var raw fileToggles
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Toggles{}, &ConfigurationError{Source: path, Err: fmt.Errorf("parse: %w", err)}
	}

	var t Toggles
	if raw.Strategy != "" {
		s, err := ParseStrategy(raw.Strategy)
		if err != nil {
			return Toggles{}, &ConfigurationError{Source: path, Err: err}
		}
		t.Strategy = &s
	}
	for _, name := range raw.Assets {
		if name == allAssets {
			t.Assets = append(t.Assets, Catalog...)
			continue
		}
		a, err := ParseAsset(name)
		if err != nil {
			return Toggles{}, &ConfigurationError{Source: path, Err: err}
		}
		t.Assets = append(t.Assets, a)
	}
	return t, nil
}
