// Package media computes the file facts the usage index and duplicate
// detector compare: an exact BLAKE2b-256 content hash, image dimensions and
// a 64-bit difference hash (dHash) used as the perceptual fingerprint.
//
// Decoding goes through libvips when it is available, which shrinks large
// JPEGs at decode time, and falls back to the pure-Go imaging decoders
// otherwise. Large images are constrained before fingerprinting to bound
// memory use.
package media
