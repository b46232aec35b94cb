// Package rename gives assets new file names and rewrites every indexed
// reference to them.
//
// A rename trusts the usage index, so it refuses assets whose index is
// dirty or older than the freshness window. Each item is applied in one
// transaction: the referencing records, the asset path and its index
// entries change together, and the file plus its size variants and
// alternate encodings are moved last. If anything fails the moves are
// undone and the transaction rolled back.
//
// Runner exposes batches as the "rename" job family.
package rename
