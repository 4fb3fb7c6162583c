// Package downscale produces the downloadable copy of a generated image.
package downscale

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// Defaults for the downloadable variant
const (
	DefaultWidth   = 1920
	DefaultHeight  = 1080
	DefaultQuality = 80
)

// Config controls the output geometry and JPEG quality
type Config struct {
	Width   int
	Height  int
	Quality int
}

// Resizer resizes and recompresses images to JPEG
type Resizer struct {
	width   int
	height  int
	quality int
}

// New creates a resizer, falling back to defaults for zero values
func New(cfg Config) *Resizer {
	r := &Resizer{width: cfg.Width, height: cfg.Height, quality: cfg.Quality}
	if r.width <= 0 {
		r.width = DefaultWidth
	}
	if r.height <= 0 {
		r.height = DefaultHeight
	}
	if r.quality <= 0 || r.quality > 100 {
		r.quality = DefaultQuality
	}
	return r
}

// Resize decodes data, scales it to the exact target size and encodes it as JPEG.
// Failures are returned as *domain.TransformError; callers keep the original bytes.
func (r *Resizer) Resize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, &domain.TransformError{Op: "decode", Err: fmt.Errorf("empty input")}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &domain.TransformError{Op: "decode", Err: err}
	}

	resized := imaging.Resize(img, r.width, r.height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, &domain.TransformError{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// ContentType is the mime type of every resized output
func (r *Resizer) ContentType() string {
	return "image/jpeg"
}
