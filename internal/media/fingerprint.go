package media

import (
	"fmt"
	"image"
	"math/bits"
	"time"

	"github.com/disintegration/imaging"

	"mediaref/internal/mediatypes"
	"mediaref/internal/metrics"
)

const (
	hashWidth  = 9
	hashHeight = 8

	// vipsShrinkSize is the bounding box libvips decodes into before the
	// final 9x8 resize. Large enough that the box filter still averages.
	vipsShrinkSize = 64
)

// DHash computes the 64-bit difference hash of img: the image is reduced to
// 9x8 grayscale and each bit records whether a pixel is brighter than its
// right-hand neighbour. Re-encoding or mild recompression changes few bits.
func DHash(img image.Image) uint64 {
	small := imaging.Resize(img, hashWidth, hashHeight, imaging.Box)
	gray := imaging.Grayscale(small)

	var hash uint64
	bit := 0
	for y := range hashHeight {
		for x := range hashWidth - 1 {
			left := gray.Pix[y*gray.Stride+x*4]
			right := gray.Pix[y*gray.Stride+(x+1)*4]
			if left > right {
				hash |= 1 << uint(63-bit)
			}
			bit++
		}
	}
	return hash
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Fingerprint decodes the image at path and returns its dHash.
func Fingerprint(path string) (uint64, error) {
	start := time.Now()
	decoder := "imaging"

	var (
		img image.Image
		err error
	)
	if IsVipsAvailable() {
		decoder = "vips"
		img, err = shrinkWithVips(path, vipsShrinkSize)
	}
	if img == nil {
		if !mediatypes.IsDecodable(mediatypes.Ext(path)) {
			metrics.FingerprintsComputed.WithLabelValues("unsupported").Inc()
			return 0, fmt.Errorf("fingerprint %s: unsupported format", path)
		}
		decoder = "imaging"
		img, err = LoadImageConstrained(path, MaxImageDimension, MaxImagePixels)
	}
	if err != nil {
		metrics.FingerprintsComputed.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	hash := DHash(img)
	metrics.FingerprintsComputed.WithLabelValues("success").Inc()
	metrics.FingerprintDuration.WithLabelValues(decoder).Observe(time.Since(start).Seconds())
	return hash, nil
}
