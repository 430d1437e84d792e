package config

import "path/filepath"

// Load resolves the configuration for the project at root from its
// dlibsys.yaml, the environment seen through lookup, and flags (may be nil).
func Load(root string, lookup func(string) (string, bool), flags *Flags) (BuildConfiguration, error) {
	file, err := LoadFile(filepath.Join(root, FileName))
	if err != nil {
		return BuildConfiguration{}, err
	}
	env, err := FromEnv(lookup)
	if err != nil {
		return BuildConfiguration{}, err
	}
	layers := []Toggles{file, env}
	if flags != nil {
		cli, err := flags.Toggles()
		if err != nil {
			return BuildConfiguration{}, err
		}
		layers = append(layers, cli)
	}
	return Resolve(layers...)
}
