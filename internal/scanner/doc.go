// Package scanner extracts asset references from location records and
// rewrites them in place.
//
// Records are either free text or JSON blobs of arbitrary depth. JSON is
// decoded into a tagged Value tree and every string leaf is matched against
// the reference pattern: an optional origin, the storage prefix, an object
// path and a known image extension. Scanning is a pure tree walk, so it is
// safe to run against stale or half-written records.
//
// Rewriting never round-trips a record through a generic decoder. The text
// rewriter splices replacement paths into the original string and the JSON
// rewriter does the same at the token level, so the rest of the record is
// preserved byte for byte.
package scanner
