// Package indexer keeps the usage index in step with the media library and
// the content store.
//
// Two things feed it:
//   - Sync walks the media directory with a pool of workers, registers new
//     and changed image files as assets and removes assets whose files are
//     gone. New or changed assets are marked dirty.
//   - IndexAsset scans the location records that may mention an asset and
//     replaces the asset's index entries with what it finds.
//
// Runner wraps IndexAsset as the "index" job family: a smart run visits
// only dirty assets, a full run clears the index and visits every asset.
// Saving a location record through SaveRecord invalidates the entries it
// owned so the next smart run rescans the affected assets.
package indexer
