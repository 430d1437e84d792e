package config

import (
	"fmt"
	"strconv"
)

// Environment variables read by FromEnv.
const (
	EnvBundled   = "DLIBSYS_BUNDLED"
	EnvSystem    = "DLIBSYS_SYSTEM"
	EnvEmbedAll  = "DLIBSYS_EMBED_ALL"
	EnvEmbedFDNN = "DLIBSYS_EMBED_FD_NN"
	EnvEmbedFENN = "DLIBSYS_EMBED_FE_NN"
	EnvEmbedLP   = "DLIBSYS_EMBED_LP"

	// EnvAtomicFetch opts into temp-file-and-rename asset downloads.
	EnvAtomicFetch = "DLIBSYS_ATOMIC_FETCH"
)

var assetEnv = map[Asset]string{
	FaceDetector:      EnvEmbedFDNN,
	FaceEncoder:       EnvEmbedFENN,
	LandmarkPredictor: EnvEmbedLP,
}

// envBool reads a boolean variable through lookup. Unset or empty is false.
func envBool(lookup func(string) (string, bool), key string) (bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigurationError{Source: "env", Err: fmt.Errorf("%s=%q is not a boolean", key, v)}
	}
	return b, nil
}

// AtomicFetch reports whether DLIBSYS_ATOMIC_FETCH is on.
func AtomicFetch(lookup func(string) (string, bool)) (bool, error) {
	return envBool(lookup, EnvAtomicFetch)
}

// FromEnv reads a toggle layer through lookup, which has the signature of
// os.LookupEnv. Unset or empty variables are off.
func FromEnv(lookup func(string) (string, bool)) (Toggles, error) {
	flag := func(key string) (bool, error) { return envBool(lookup, key) }

	bundled, err := flag(EnvBundled)
	if err != nil {
		return Toggles{}, err
	}
	system, err := flag(EnvSystem)
	if err != nil {
		return Toggles{}, err
	}
	all, err := flag(EnvEmbedAll)
	if err != nil {
		return Toggles{}, err
	}
	enabled := make(map[Asset]bool)
	for _, a := range Catalog {
		if enabled[a], err = flag(assetEnv[a]); err != nil {
			return Toggles{}, err
		}
	}
	return fromSwitches("env", bundled, system, all, enabled)
}
