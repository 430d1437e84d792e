// Package asset fetches the optional dlib model files into a local cache.
//
// Each asset is a bzip2-compressed file served over plain HTTP. The cache
// holds the decompressed file under a name derived from the URL. A file
// that already exists under that name is never fetched again, whatever
// its content.
package asset

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/goplus/dlibsys/internal/config"
)

// Codec is a streaming decompressor for one compression format.
type Codec interface {
	// Suffix is the file extension the format adds, including the dot.
	Suffix() string
	NewReader(r io.Reader) (io.Reader, error)
}

type bzip2Codec struct{}

func (bzip2Codec) Suffix() string { return ".bz2" }

func (bzip2Codec) NewReader(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

// Bzip2 is the codec every catalog asset uses.
var Bzip2 Codec = bzip2Codec{}

// Descriptor describes one downloadable asset.
type Descriptor struct {
	ID    config.Asset
	URL   string
	Codec Codec
}

// LocalName returns the decompressed file name for d.
func (d Descriptor) LocalName() (string, error) {
	return LocalName(d.URL, d.Codec.Suffix())
}

// LocalName takes the final path segment of rawURL and strips suffix from it.
func LocalName(rawURL, suffix string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(u.Path, "/") {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	base := path.Base(u.Path)
	name := strings.TrimSuffix(base, suffix)
	if base == "." || base == "/" || name == "" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return name, nil
}

// Catalog maps every known asset to its fixed download location.
var Catalog = map[config.Asset]Descriptor{
	config.FaceDetector: {
		ID:    config.FaceDetector,
		URL:   "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
		Codec: Bzip2,
	},
	config.FaceEncoder: {
		ID:    config.FaceEncoder,
		URL:   "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
		Codec: Bzip2,
	},
	config.LandmarkPredictor: {
		ID:    config.LandmarkPredictor,
		URL:   "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
		Codec: Bzip2,
	},
}
