// Package duplicates finds copies of the same media asset and decides which
// of them can go.
//
// Three detectors link assets: identical content hashes (exact), dHash
// fingerprints within a Hamming distance (perceptual) and copy-style file
// names with equal dimensions (filename-pattern). Links are merged with a
// union-find, strongest first, so a group's confidence is its weakest link.
//
// Every group keeps exactly one member. A member is only safe to remove
// when the usage index has no reference to it and it is not a derived
// alternate-format copy; used members are never removable without an
// explicit operator override.
package duplicates
