package database

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"mediaref/internal/mediatypes"
	"mediaref/internal/metrics"
)

// GetSummary recomputes the usage index aggregates. Concurrent callers share
// one computation.
func (d *Database) GetSummary(ctx context.Context) (UsageIndexSummary, error) {
	v, err, _ := d.summary.Do("summary", func() (any, error) {
		return d.computeSummary(ctx)
	})
	if err != nil {
		return UsageIndexSummary{}, err
	}
	return v.(UsageIndexSummary), nil
}

func (d *Database) computeSummary(ctx context.Context) (s UsageIndexSummary, err error) {
	start := time.Now()
	defer func() { recordQuery("get_summary", start, err) }()

	qctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s.ByContext = make(map[ContextType]int, len(ContextTypes))
	for _, c := range ContextTypes {
		s.ByContext[c] = 0
	}

	err = d.db.QueryRowContext(qctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT CASE WHEN a.id IS NOT NULL THEN e.asset_id END),
			COALESCE(SUM(CASE WHEN a.id IS NULL THEN 1 ELSE 0 END), 0)
		FROM index_entries e
		LEFT JOIN assets a ON a.id = e.asset_id
	`).Scan(&s.TotalEntries, &s.IndexedAssets, &s.OrphanedEntries)
	if err != nil {
		return s, err
	}

	rows, err := d.db.QueryContext(qctx, "SELECT context_type, COUNT(*) FROM index_entries GROUP BY context_type")
	if err != nil {
		return s, err
	}
	for rows.Next() {
		var c ContextType
		var n int
		if err = rows.Scan(&c, &n); err != nil {
			rows.Close()
			return s, err
		}
		s.ByContext[c] = n
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return s, err
	}

	err = d.db.QueryRowContext(qctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN dirty > 0 THEN 1 ELSE 0 END), 0) FROM assets",
	).Scan(&s.TotalAssets, &s.DirtyAssets)
	if err != nil {
		return s, err
	}

	derived, err := d.DetectDerivedCopies(ctx)
	if err != nil {
		return s, err
	}
	s.DerivedCount = len(derived)

	s.LastUpdate, err = d.LastIndexUpdate(ctx)
	return s, err
}

// CollectStats adapts GetSummary for the metrics collector.
func (d *Database) CollectStats(ctx context.Context) (metrics.Stats, error) {
	d.UpdateDBMetrics()

	s, err := d.GetSummary(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}

	byContext := make(map[string]int, len(s.ByContext))
	for c, n := range s.ByContext {
		byContext[string(c)] = n
	}
	return metrics.Stats{
		EntriesByContext: byContext,
		IndexedAssets:    s.IndexedAssets,
		OrphanedEntries:  s.OrphanedEntries,
		DerivedEntries:   s.DerivedCount,
		DirtyAssets:      s.DirtyAssets,
	}, nil
}

// DetectOrphans lists the assets that still have index entries but no longer
// exist, with the path they had when their newest entry was written.
func (d *Database) DetectOrphans(ctx context.Context) ([]Orphan, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("detect_orphans", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT e.asset_id,
			(SELECT asset_path FROM index_entries l WHERE l.asset_id = e.asset_id ORDER BY l.id DESC LIMIT 1),
			COUNT(*)
		FROM index_entries e
		LEFT JOIN assets a ON a.id = e.asset_id
		WHERE a.id IS NULL
		GROUP BY e.asset_id
		ORDER BY e.asset_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orphans := []Orphan{}
	for rows.Next() {
		var o Orphan
		if err = rows.Scan(&o.AssetID, &o.LastKnownPath, &o.Entries); err != nil {
			return nil, err
		}
		orphans = append(orphans, o)
	}
	err = rows.Err()
	return orphans, err
}

type assetPath struct {
	id   int64
	path string
}

// DetectDerivedCopies finds alternate-format assets (WebP, AVIF) generated from
// another asset: either the original name with the format appended
// (photo.jpg.webp) or the same stem in the same directory (photo.webp next to
// photo.jpg). When several parents qualify the lowest id wins.
func (d *Database) DetectDerivedCopies(ctx context.Context) ([]DerivedCopy, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("detect_derived", start, err) }()

	qctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(qctx, "SELECT id, path FROM assets ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []assetPath
	byPath := make(map[string]int64)
	byStem := make(map[string][]assetPath)
	for rows.Next() {
		var a assetPath
		if err = rows.Scan(&a.id, &a.path); err != nil {
			return nil, err
		}
		all = append(all, a)
		byPath[a.path] = a.id
		if ext := mediatypes.Ext(a.path); !mediatypes.IsAlternateFormat(ext) {
			stem := strings.TrimSuffix(a.path, path.Ext(a.path))
			byStem[stem] = append(byStem[stem], a)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	copies := []DerivedCopy{}
	for _, a := range all {
		ext := mediatypes.Ext(a.path)
		if !mediatypes.IsAlternateFormat(ext) {
			continue
		}
		original := strings.TrimSuffix(a.path, path.Ext(a.path))

		parent := int64(0)
		if id, ok := byPath[original]; ok && id != a.id && mediatypes.IsImage(mediatypes.Ext(original)) {
			parent = id
		}
		for _, sib := range byStem[original] {
			if sib.id != a.id && (parent == 0 || sib.id < parent) {
				parent = sib.id
			}
		}
		if parent != 0 {
			copies = append(copies, DerivedCopy{AssetID: a.id, ParentAssetID: parent})
		}
	}

	sort.Slice(copies, func(i, j int) bool { return copies[i].AssetID < copies[j].AssetID })
	return copies, nil
}
