package media

import (
	"fmt"
	"image"
	"math"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/tiff" // TIFF format support
	_ "golang.org/x/image/webp" // WebP format support

	"mediaref/internal/filesystem"
	"mediaref/internal/logging"
)

const (
	// MaxImageDimension is the largest width or height decoded at full size.
	MaxImageDimension = 4096

	// MaxImagePixels caps total pixels decoded; 20MP is roughly 80MB as RGBA.
	MaxImagePixels = 20_000_000
)

// ImageDimensions holds image width and height
type ImageDimensions struct {
	Width  int
	Height int
}

// GetImageDimensions reads image dimensions from the header without decoding
// pixel data.
func GetImageDimensions(path string) (*ImageDimensions, error) {
	file, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}

	return &ImageDimensions{Width: config.Width, Height: config.Height}, nil
}

// constrainedSize scales width x height down to fit within maxDimension and
// maxPixels, keeping the aspect ratio. ok is false when no scaling is needed.
func constrainedSize(width, height, maxDimension, maxPixels int) (w, h int, ok bool) {
	if width <= maxDimension && height <= maxDimension && width*height <= maxPixels {
		return width, height, false
	}

	w, h = width, height
	if w > maxDimension || h > maxDimension {
		if w > h {
			h = h * maxDimension / w
			w = maxDimension
		} else {
			w = w * maxDimension / h
			h = maxDimension
		}
	}
	if w*h > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(w*h))
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
	}
	return max(w, 1), max(h, 1), true
}

// LoadImageConstrained loads an image, downscaling it when it exceeds the
// size limits so very large uploads cannot exhaust memory.
func LoadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	dimensions, err := GetImageDimensions(path)
	if err != nil {
		logging.Debug("Could not get image dimensions for %s: %v, loading unconstrained", path, err)
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	w, h, constrain := constrainedSize(dimensions.Width, dimensions.Height, maxDimension, maxPixels)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	if !constrain {
		return img, nil
	}

	logging.Debug("Constraining large image %s from %dx%d to %dx%d",
		path, dimensions.Width, dimensions.Height, w, h)
	return imaging.Resize(img, w, h, imaging.Box), nil
}
