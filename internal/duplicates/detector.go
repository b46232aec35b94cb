package duplicates

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/logging"
	"mediaref/internal/media"
	"mediaref/internal/metrics"
)

// Confidence labels how a group was matched.
type Confidence string

const (
	ConfidenceExact      Confidence = "exact"
	ConfidencePerceptual Confidence = "perceptual"
	ConfidenceFilename   Confidence = "filename-pattern"
)

// Rank orders confidences by strength; higher is stronger.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceExact:
		return 3
	case ConfidencePerceptual:
		return 2
	case ConfidenceFilename:
		return 1
	}
	return 0
}

const (
	// DefaultQuickSample is how many of the newest assets a quick scan
	// starts from.
	DefaultQuickSample = 200

	// DefaultDeepChunk is how many assets one deep scan call backfills.
	DefaultDeepChunk = 250

	// DefaultThreshold is the largest dHash Hamming distance, out of 64
	// bits, still treated as the same picture.
	DefaultThreshold = 10

	scoreExact      = 1.0
	scorePerceptMax = 0.9
	scorePerceptMin = 0.6
	scoreFilename   = 0.4
)

// Gate holds back fingerprint work, for example under memory pressure.
type Gate interface {
	Wait(ctx context.Context) error
}

// Options configures a Detector.
type Options struct {
	QuickSample int
	DeepChunk   int
	Threshold   int
	// Gate, if set, is waited on before each fingerprint decode.
	Gate Gate
}

// Member is one asset in a duplicate group.
type Member struct {
	AssetID    int64     `json:"asset_id"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UsageCount int       `json:"usage_count"`
	Used       bool      `json:"used"`
	Derived    bool      `json:"derived,omitempty"`
	Keep       bool      `json:"keep"`
}

// Group is a set of assets that are copies of each other.
type Group struct {
	Confidence      Confidence `json:"confidence"`
	Score           float64    `json:"score"`
	Members         []Member   `json:"members"`
	Keep            int64      `json:"keep"`
	SafeToRemove    []int64    `json:"safe_to_remove"`
	ConfirmedRemove []int64    `json:"confirmed_remove"`
}

// Totals summarises a scan.
type Totals struct {
	Candidates       int                `json:"candidates"`
	Groups           int                `json:"groups"`
	Duplicates       int                `json:"duplicates"`
	SafeToRemove     int                `json:"safe_to_remove"`
	ReclaimableBytes int64              `json:"reclaimable_bytes"`
	ByConfidence     map[Confidence]int `json:"by_confidence"`
}

// Report is the result of a duplicate scan. It is computed per call and
// never stored.
type Report struct {
	Groups []Group `json:"groups"`
	Totals Totals  `json:"totals"`
}

// Detector finds duplicate assets and classifies which copies are safe to
// remove.
type Detector struct {
	db       *database.Database
	mediaDir string
	opts     Options
}

// New creates a Detector. mediaDir is used to backfill missing hashes and
// fingerprints during deep scans; without it only stored facts are used.
func New(db *database.Database, mediaDir string, opts Options) *Detector {
	if opts.QuickSample <= 0 {
		opts.QuickSample = DefaultQuickSample
	}
	if opts.DeepChunk <= 0 {
		opts.DeepChunk = DefaultDeepChunk
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Detector{db: db, mediaDir: mediaDir, opts: opts}
}

// edge links two assets found to be copies by one detector.
type edge struct {
	a, b       int64
	confidence Confidence
	score      float64
}

func (e edge) weaker(o edge) bool {
	if e.confidence.Rank() != o.confidence.Rank() {
		return e.confidence.Rank() < o.confidence.Rank()
	}
	return e.score < o.score
}

// perceptualScore maps a Hamming distance within threshold to a score
// between scorePerceptMin and scorePerceptMax.
func perceptualScore(dist, threshold int) float64 {
	return scorePerceptMax - (scorePerceptMax-scorePerceptMin)*float64(dist)/float64(threshold)
}

// findEdges runs the three detectors over the candidates.
func (d *Detector) findEdges(assets []*database.Asset) []edge {
	var edges []edge

	byHash := make(map[string][]*database.Asset)
	byName := make(map[string][]*database.Asset)
	for _, a := range assets {
		if a.ContentHash != "" {
			byHash[a.ContentHash] = append(byHash[a.ContentHash], a)
		}
		key := copyKey(a.Path)
		byName[key] = append(byName[key], a)
	}

	for _, same := range byHash {
		for i := 1; i < len(same); i++ {
			edges = append(edges, edge{a: same[0].ID, b: same[i].ID, confidence: ConfidenceExact, score: scoreExact})
		}
	}

	var printed []*database.Asset
	for _, a := range assets {
		if a.Fingerprint != nil {
			printed = append(printed, a)
		}
	}
	for i, a := range printed {
		for _, b := range printed[i+1:] {
			if a.ContentHash != "" && a.ContentHash == b.ContentHash {
				continue
			}
			if dist := media.HammingDistance(*a.Fingerprint, *b.Fingerprint); dist <= d.opts.Threshold {
				edges = append(edges, edge{a: a.ID, b: b.ID, confidence: ConfidencePerceptual, score: perceptualScore(dist, d.opts.Threshold)})
			}
		}
	}

	for _, bucket := range byName {
		for i, a := range bucket {
			_, _, ma := copyName(a.Path)
			for _, b := range bucket[i+1:] {
				_, _, mb := copyName(b.Path)
				if !copyPair(ma, mb) || a.Width == 0 || a.Width != b.Width || a.Height != b.Height {
					continue
				}
				edges = append(edges, edge{a: a.ID, b: b.ID, confidence: ConfidenceFilename, score: scoreFilename})
			}
		}
	}

	slices.SortStableFunc(edges, func(x, y edge) int {
		switch {
		case y.weaker(x):
			return -1
		case x.weaker(y):
			return 1
		}
		return 0
	})
	return edges
}

// Classify groups the candidates and picks the keep and removable members
// of every group. confirmRemove names used assets the operator explicitly
// agreed to remove; it never affects safe_to_remove.
func (d *Detector) Classify(ctx context.Context, assets []*database.Asset, confirmRemove []int64) (*Report, error) {
	report := &Report{
		Groups: []Group{},
		Totals: Totals{Candidates: len(assets), ByConfidence: make(map[Confidence]int)},
	}

	uf := newUnionFind()
	for _, e := range d.findEdges(assets) {
		uf.union(e)
	}
	sets := uf.sets()
	if len(sets) == 0 {
		return report, nil
	}

	byID := make(map[int64]*database.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	var grouped []int64
	for _, ids := range sets {
		grouped = append(grouped, ids...)
	}

	usage, err := d.db.UsageCounts(ctx, grouped)
	if err != nil {
		return nil, fmt.Errorf("usage counts: %w", err)
	}
	derived, err := d.derivedSet(ctx)
	if err != nil {
		return nil, err
	}
	confirmed := make(map[int64]bool, len(confirmRemove))
	for _, id := range confirmRemove {
		confirmed[id] = true
	}

	for root, ids := range sets {
		weak := uf.weak[root]
		g := Group{
			Confidence:      weak.confidence,
			Score:           weak.score,
			SafeToRemove:    []int64{},
			ConfirmedRemove: []int64{},
		}
		for _, id := range ids {
			a := byID[id]
			g.Members = append(g.Members, Member{
				AssetID:    a.ID,
				Path:       a.Path,
				Size:       a.Size,
				Width:      a.Width,
				Height:     a.Height,
				CreatedAt:  a.CreatedAt,
				UsageCount: usage[a.ID],
				Used:       usage[a.ID] > 0,
				Derived:    derived[a.ID],
			})
		}
		slices.SortFunc(g.Members, keepOrder)
		g.Members[0].Keep = true
		g.Keep = g.Members[0].AssetID

		for _, m := range g.Members[1:] {
			switch {
			case !m.Used && !m.Derived:
				g.SafeToRemove = append(g.SafeToRemove, m.AssetID)
				report.Totals.ReclaimableBytes += m.Size
			case m.Used && confirmed[m.AssetID]:
				g.ConfirmedRemove = append(g.ConfirmedRemove, m.AssetID)
			}
		}

		report.Groups = append(report.Groups, g)
		report.Totals.Duplicates += len(g.Members) - 1
		report.Totals.SafeToRemove += len(g.SafeToRemove)
		report.Totals.ByConfidence[g.Confidence]++
	}

	slices.SortFunc(report.Groups, func(x, y Group) int {
		if c := cmp.Compare(y.Confidence.Rank(), x.Confidence.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(len(y.Members), len(x.Members)); c != 0 {
			return c
		}
		return cmp.Compare(x.Keep, y.Keep)
	})
	report.Totals.Groups = len(report.Groups)

	for c, n := range report.Totals.ByConfidence {
		metrics.DuplicateGroupsFound.WithLabelValues(string(c)).Add(float64(n))
	}
	return report, nil
}

// keepOrder sorts the member to keep first: used before unused, then the
// earliest upload, then the largest file, then the lowest id.
func keepOrder(x, y Member) int {
	if x.Used != y.Used {
		if x.Used {
			return -1
		}
		return 1
	}
	if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(y.Size, x.Size); c != 0 {
		return c
	}
	return cmp.Compare(x.AssetID, y.AssetID)
}

func (d *Detector) derivedSet(ctx context.Context) (map[int64]bool, error) {
	copies, err := d.db.DetectDerivedCopies(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect derived copies: %w", err)
	}
	out := make(map[int64]bool, len(copies))
	for _, c := range copies {
		out[c.AssetID] = true
	}
	return out, nil
}

// QuickScan classifies a bounded sample: the newest assets plus every asset
// sharing a content hash or a copy-pattern base name with one of them. It
// only uses stored hashes and fingerprints.
func (d *Detector) QuickScan(ctx context.Context, confirmRemove []int64) (*Report, error) {
	start := time.Now()
	metrics.DuplicateScansTotal.WithLabelValues("quick").Inc()

	sample, err := d.db.ListAssets(ctx, database.ListOptions{Limit: d.opts.QuickSample, Order: database.OrderNewest})
	if err != nil {
		return nil, fmt.Errorf("list recent assets: %w", err)
	}

	candidates := make(map[int64]*database.Asset, len(sample))
	var hashes []string
	prefixes := make(map[string]struct{})
	for _, a := range sample {
		candidates[a.ID] = a
		if a.ContentHash != "" {
			hashes = append(hashes, a.ContentHash)
		}
		base, _, _ := copyName(a.Path)
		prefixes[base] = struct{}{}
	}

	same, err := d.db.FindAssetsByHash(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("find assets by hash: %w", err)
	}
	for _, a := range same {
		candidates[a.ID] = a
	}
	for prefix := range prefixes {
		siblings, err := d.db.FindAssetsByPathPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("find copy siblings: %w", err)
		}
		for _, a := range siblings {
			if base, _, _ := copyName(a.Path); strings.EqualFold(base, prefix) {
				candidates[a.ID] = a
			}
		}
	}

	assets := make([]*database.Asset, 0, len(candidates))
	for _, a := range candidates {
		assets = append(assets, a)
	}
	slices.SortFunc(assets, func(x, y *database.Asset) int { return cmp.Compare(x.ID, y.ID) })

	report, err := d.Classify(ctx, assets, confirmRemove)
	if err != nil {
		return nil, err
	}
	logging.Info("Quick duplicate scan: %d candidates, %d groups in %v",
		len(assets), report.Totals.Groups, time.Since(start).Round(time.Millisecond))
	return report, nil
}
