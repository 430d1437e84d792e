package config

import "github.com/spf13/pflag"

// Flags holds the command-line toggle layer.
type Flags struct {
	Bundled   bool
	System    bool
	EmbedAll  bool
	EmbedFDNN bool
	EmbedFENN bool
	EmbedLP   bool
}

// Register adds the toggle flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.Bundled, "bundled", false, "Compile the vendored dlib sources into a static archive")
	fs.BoolVar(&f.System, "system", false, "Link against a system-installed dlib (default)")
	fs.BoolVar(&f.EmbedAll, "embed-all", false, "Fetch every optional model asset")
	fs.BoolVar(&f.EmbedFDNN, "embed-fd-nn", false, "Fetch the CNN face detector model")
	fs.BoolVar(&f.EmbedFENN, "embed-fe-nn", false, "Fetch the face recognition (encoder) model")
	fs.BoolVar(&f.EmbedLP, "embed-lp", false, "Fetch the 5-point landmark predictor model")
}

// Toggles converts the parsed flags into a layer.
func (f *Flags) Toggles() (Toggles, error) {
	return fromSwitches("flags", f.Bundled, f.System, f.EmbedAll, map[Asset]bool{
		FaceDetector:      f.EmbedFDNN,
		FaceEncoder:       f.EmbedFENN,
		LandmarkPredictor: f.EmbedLP,
	})
}
