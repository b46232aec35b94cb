package duplicates

import (
	"context"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/logging"
)

// Verification levels for VerifyUsage.
const (
	LevelIndex = "index"
	LevelDeep  = "deep"
)

// maxVerifyAssets bounds one verification request.
const maxVerifyAssets = 50

// LiveScanner rescans the content store for one asset without writing.
type LiveScanner interface {
	ScanAssetUsage(ctx context.Context, a *database.Asset) ([]database.IndexEntry, error)
}

// Usage is the verified usage of one asset.
type Usage struct {
	AssetID   int64                 `json:"asset_id"`
	Path      string                `json:"path"`
	Indexed   int                   `json:"indexed"`
	Live      *int                  `json:"live,omitempty"`
	Used      bool                  `json:"used"`
	Stale     bool                  `json:"stale"`
	Locations []database.IndexEntry `json:"locations"`
}

// VerifyUsage reports the usage of each asset. LevelIndex reads the stored
// index. LevelDeep also rescans the content store live; an asset whose live
// references differ from the index is reported stale and marked dirty so the
// next smart index repairs it. An asset counts as used when either source
// finds a reference.
func (d *Detector) VerifyUsage(ctx context.Context, ids []int64, level string, live LiveScanner) (map[int64]Usage, error) {
	if len(ids) == 0 {
		return nil, errs.Validation("asset_ids", "at least one asset id is required")
	}
	if len(ids) > maxVerifyAssets {
		return nil, errs.Validation("asset_ids", "at most %d assets can be verified at once", maxVerifyAssets)
	}
	switch level {
	case "":
		level = LevelIndex
	case LevelIndex:
	case LevelDeep:
		if live == nil {
			return nil, errs.Validation("level", "deep verification is not available")
		}
	default:
		return nil, errs.Validation("level", "unknown verification level %q", level)
	}

	assets, err := d.db.GetAssets(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]Usage, len(ids))
	var stale []int64
	for _, id := range ids {
		a, ok := assets[id]
		if !ok {
			return nil, errs.NotFound("asset", id)
		}
		locations, err := d.db.QueryLocations(ctx, id)
		if err != nil {
			return nil, err
		}
		u := Usage{AssetID: id, Path: a.Path, Indexed: len(locations), Used: len(locations) > 0, Locations: locations}

		if level == LevelDeep {
			found, err := live.ScanAssetUsage(ctx, a)
			if err != nil {
				return nil, err
			}
			n := len(found)
			u.Live = &n
			u.Used = u.Used || n > 0
			if !sameEntries(locations, found) {
				u.Stale = true
				u.Locations = found
				stale = append(stale, id)
			}
		}
		out[id] = u
	}

	if len(stale) > 0 {
		logging.Info("Usage verification found %d stale assets; marking them dirty", len(stale))
		if err := d.db.MarkAssetsDirty(ctx, stale...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type entryKey struct {
	location int64
	field    string
	raw      string
}

func sameEntries(a, b []database.IndexEntry) bool {
	set := make(map[entryKey]int, len(a))
	for _, e := range a {
		set[entryKey{e.LocationID, e.FieldKey, e.RawReference}]++
	}
	seen := make(map[entryKey]bool, len(b))
	for _, e := range b {
		k := entryKey{e.LocationID, e.FieldKey, e.RawReference}
		if seen[k] {
			continue
		}
		seen[k] = true
		if set[k] == 0 {
			return false
		}
	}
	return len(seen) == len(set)
}
