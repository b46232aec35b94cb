// Package mediatypes classifies stored media objects by file extension.
//
// It answers three questions for the rest of the engine: is this path an
// asset the usage index tracks, what MIME type does it carry, and is an
// extension one of the alternate encodings (WebP, AVIF) that are produced
// from an original image rather than uploaded on their own.
package mediatypes

import (
	"path"
	"sort"
	"strings"
)

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".avif": true,
	".svg":  true,
	".ico":  true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
}

// AlternateFormatExtensions are encodings generated from an original image.
// An asset with one of these extensions sharing a base name with another
// asset is a derived copy, not a duplicate.
var AlternateFormatExtensions = map[string]bool{
	".webp": true,
	".avif": true,
}

// DecodableExtensions are the formats the fingerprinting decoders can read
// without libvips.
var DecodableExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".avif": "image/avif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
}

// Ext returns the lowercase extension of p including the leading dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

// IsImage reports whether the extension (lowercase, with dot) is a tracked image format.
func IsImage(ext string) bool {
	return ImageExtensions[ext]
}

// IsAlternateFormat reports whether ext is a generated alternate encoding.
func IsAlternateFormat(ext string) bool {
	return AlternateFormatExtensions[ext]
}

// IsDecodable reports whether ext can be fingerprinted by the pure-Go decoders.
func IsDecodable(ext string) bool {
	return DecodableExtensions[ext]
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ExtensionPattern returns a regular-expression alternation of all tracked
// image extensions without dots, longest first, e.g. "jpeg|tiff|...".
func ExtensionPattern() string {
	exts := make([]string, 0, len(ImageExtensions))
	for ext := range ImageExtensions {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	// longest first so "jpeg" is tried before "jpg" and "tiff" before "tif"
	sort.Slice(exts, func(i, j int) bool {
		if len(exts[i]) != len(exts[j]) {
			return len(exts[i]) > len(exts[j])
		}
		return exts[i] < exts[j]
	})
	return strings.Join(exts, "|")
}
