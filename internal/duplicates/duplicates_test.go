package duplicates

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/jobs"
	"mediaref/internal/media"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "dupes.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type assetSpec struct {
	path   string
	hash   string
	size   int64
	w, h   int
	age    time.Duration
	fp     *uint64
	usages int
}

func fp(v uint64) *uint64 { return &v }

// addAssets stores the assets and gives each the requested number of index
// entries. Later specs are created later unless age says otherwise.
func addAssets(t *testing.T, db *database.Database, specs ...assetSpec) []*database.Asset {
	t.Helper()
	ctx := context.Background()
	var out []*database.Asset
	for i, s := range specs {
		if s.size == 0 {
			s.size = 1000
		}
		a := &database.Asset{
			Path:        s.path,
			MimeType:    "image/jpeg",
			Size:        s.size,
			ContentHash: s.hash,
			Width:       s.w,
			Height:      s.h,
			CreatedAt:   epoch.Add(time.Duration(i)*time.Hour - s.age),
		}
		if err := db.UpsertAsset(ctx, a); err != nil {
			t.Fatalf("UpsertAsset(%q) failed: %v", s.path, err)
		}
		if s.fp != nil {
			if err := db.UpdateAssetFingerprint(ctx, a.ID, "", *s.fp); err != nil {
				t.Fatal(err)
			}
		}
		var entries []database.IndexEntry
		for n := range s.usages {
			entries = append(entries, database.IndexEntry{
				ContextType:  database.ContextContent,
				LocationID:   int64(100 + n),
				FieldKey:     "body",
				RawReference: "/uploads/" + s.path,
			})
		}
		if err := db.UpsertEntries(ctx, a.ID, entries); err != nil {
			t.Fatal(err)
		}
		out = append(out, a)
	}
	return out
}

func groupOf(r *Report, id int64) *Group {
	for i := range r.Groups {
		for _, m := range r.Groups[i].Members {
			if m.AssetID == id {
				return &r.Groups[i]
			}
		}
	}
	return nil
}

// checkInvariants verifies the properties every report must hold.
func checkInvariants(t *testing.T, r *Report) {
	t.Helper()
	for _, g := range r.Groups {
		if len(g.Members) < 2 {
			t.Errorf("group %d has %d members", g.Keep, len(g.Members))
		}
		keeps := 0
		for _, m := range g.Members {
			if m.Keep {
				keeps++
				if m.AssetID != g.Keep {
					t.Errorf("member %d flagged keep but group keeps %d", m.AssetID, g.Keep)
				}
			}
			if slices.Contains(g.SafeToRemove, m.AssetID) && (m.Used || m.Derived) {
				t.Errorf("used or derived member %d listed safe to remove", m.AssetID)
			}
		}
		if keeps != 1 {
			t.Errorf("group %d has %d keep members", g.Keep, keeps)
		}
		if slices.Contains(g.SafeToRemove, g.Keep) || slices.Contains(g.ConfirmedRemove, g.Keep) {
			t.Errorf("keep %d is listed for removal", g.Keep)
		}
	}
}

func TestCopyName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path     string
		wantBase string
		wantMark copyMark
	}{
		{"2024/05/photo.jpg", "2024/05/photo", markNone},
		{"2024/05/photo-copy.jpg", "2024/05/photo", markExplicit},
		{"2024/05/photo-copy-3.jpg", "2024/05/photo", markExplicit},
		{"photo_copy.PNG", "photo", markExplicit},
		{"photo (2).jpg", "photo", markExplicit},
		{"photo-copy (2).jpg", "photo", markExplicit},
		{"photo-2.jpg", "photo", markWeak},
		{"photo-scaled.jpg", "photo", markWeak},
		{"photo-scaled-1.jpg", "photo", markWeak},
		{"photo-300x200.jpg", "photo-300x200", markNone},
		{"photo-2024.jpg", "photo-2024", markNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			base, _, mark := copyName(tt.path)
			if base != tt.wantBase || mark != tt.wantMark {
				t.Errorf("copyName(%q) = %q, %d; want %q, %d", tt.path, base, mark, tt.wantBase, tt.wantMark)
			}
		})
	}

	if copyKey("a/Photo-Copy.JPG") != copyKey("a/photo.jpg") {
		t.Error("copy keys should ignore case")
	}
}

func TestCopyPair(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b copyMark
		want bool
	}{
		{markNone, markNone, false},
		{markNone, markWeak, true},
		{markExplicit, markNone, true},
		{markExplicit, markExplicit, true},
		{markWeak, markWeak, false},
		{markWeak, markExplicit, false},
	}
	for _, tt := range tests {
		if got := copyPair(tt.a, tt.b); got != tt.want {
			t.Errorf("copyPair(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestExactDuplicateKeepsUsedMember(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "a.jpg", hash: "h1"},
		assetSpec{path: "b.jpg", hash: "h1", usages: 1},
		assetSpec{path: "c.jpg", hash: "h2"},
	)

	r, err := New(db, "", Options{}).QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatalf("QuickScan() failed: %v", err)
	}
	checkInvariants(t, r)

	if len(r.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(r.Groups))
	}
	g := r.Groups[0]
	if g.Confidence != ConfidenceExact || g.Score != 1.0 {
		t.Errorf("confidence = %s %.2f, want exact 1.0", g.Confidence, g.Score)
	}
	if g.Keep != assets[1].ID {
		t.Errorf("keep = %d, want the referenced asset %d", g.Keep, assets[1].ID)
	}
	if !slices.Equal(g.SafeToRemove, []int64{assets[0].ID}) {
		t.Errorf("safe_to_remove = %v, want [%d]", g.SafeToRemove, assets[0].ID)
	}
	if r.Totals.Duplicates != 1 || r.Totals.SafeToRemove != 1 || r.Totals.ReclaimableBytes != 1000 {
		t.Errorf("totals = %+v", r.Totals)
	}
}

func TestKeepTieBreaks(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "late.jpg", hash: "h", size: 500},
		assetSpec{path: "early.jpg", hash: "h", size: 100, age: 48 * time.Hour},
		assetSpec{path: "big.jpg", hash: "x", size: 900},
		assetSpec{path: "small.jpg", hash: "x", size: 100, age: time.Hour},
	)

	r, err := New(db, "", Options{}).QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, r)

	if g := groupOf(r, assets[0].ID); g == nil || g.Keep != assets[1].ID {
		t.Errorf("earliest upload should be kept, got %+v", g)
	}
	// big.jpg and small.jpg were created at the same moment.
	if g := groupOf(r, assets[2].ID); g == nil || g.Keep != assets[2].ID {
		t.Errorf("larger file should break the tie, got %+v", g)
	}
}

func TestFilenamePatternRankedBelowExact(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "2024/photo.jpg", hash: "p1", w: 800, h: 600},
		assetSpec{path: "2024/photo-copy.jpg", hash: "p2", w: 800, h: 600},
		assetSpec{path: "2024/other.jpg", hash: "o", w: 10, h: 10},
		assetSpec{path: "2024/other-2.jpg", hash: "o", w: 10, h: 10},
		// Same name pattern, different dimensions: not a copy.
		assetSpec{path: "2024/banner.jpg", hash: "b1", w: 1200, h: 300},
		assetSpec{path: "2024/banner-copy.jpg", hash: "b2", w: 600, h: 150},
	)

	r, err := New(db, "", Options{}).QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, r)

	if len(r.Groups) != 2 {
		t.Fatalf("groups = %d, want 2: %+v", len(r.Groups), r.Groups)
	}
	if r.Groups[0].Confidence != ConfidenceExact {
		t.Errorf("first group = %s, want exact", r.Groups[0].Confidence)
	}
	g := r.Groups[1]
	if g.Confidence != ConfidenceFilename || g.Score != scoreFilename {
		t.Errorf("second group = %s %.2f, want filename-pattern", g.Confidence, g.Score)
	}
	if groupOf(r, assets[1].ID) != &r.Groups[1] {
		t.Error("photo-copy.jpg should be grouped with photo.jpg")
	}
	if groupOf(r, assets[4].ID) != nil {
		t.Error("banner copies with different dimensions should not be grouped")
	}
	if r.Totals.ByConfidence[ConfidenceFilename] != 1 || r.Totals.ByConfidence[ConfidenceExact] != 1 {
		t.Errorf("by_confidence = %v", r.Totals.ByConfidence)
	}
}

func TestPerceptualAndWeakestLink(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "a.jpg", hash: "same", fp: fp(0)},
		assetSpec{path: "b.jpg", hash: "same", fp: fp(0)},
		assetSpec{path: "c.webp", hash: "c", fp: fp(0b11)},
		assetSpec{path: "d.jpg", hash: "d", fp: fp(0xFFFF)},
		assetSpec{path: "e.jpg", hash: "e", fp: fp(0xFFFF0000)},
		assetSpec{path: "f.jpg", hash: "f", fp: fp(0xFFFF0003)},
	)

	r, err := New(db, "", Options{}).QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, r)

	g := groupOf(r, assets[0].ID)
	if g == nil || len(g.Members) != 3 {
		t.Fatalf("a, b and c should form one group, got %+v", g)
	}
	// a-b is exact but c only joins perceptually.
	if g.Confidence != ConfidencePerceptual {
		t.Errorf("confidence = %s, want perceptual", g.Confidence)
	}
	if want := perceptualScore(2, DefaultThreshold); g.Score != want {
		t.Errorf("score = %.3f, want %.3f", g.Score, want)
	}
	if groupOf(r, assets[3].ID) != nil {
		t.Error("d is 16 bits away from everything and should stay alone")
	}
	if e := groupOf(r, assets[4].ID); e == nil || groupOf(r, assets[5].ID) != e {
		t.Error("e and f are 2 bits apart and should be grouped")
	}
}

func TestPerceptualScoreRange(t *testing.T) {
	t.Parallel()

	if s := perceptualScore(0, 10); s != scorePerceptMax {
		t.Errorf("distance 0 score = %v", s)
	}
	if s := perceptualScore(10, 10); s < scorePerceptMin-1e-9 || s > scorePerceptMin+1e-9 {
		t.Errorf("distance at threshold score = %v", s)
	}
}

func TestDerivedCopiesNeverSafeToRemove(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "2024/hero.jpg", hash: "hero"},
		assetSpec{path: "2024/hero.jpg.webp", hash: "hero"},
		assetSpec{path: "2024/hero-1.jpg", hash: "hero"},
	)

	r, err := New(db, "", Options{}).QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, r)

	g := groupOf(r, assets[0].ID)
	if g == nil {
		t.Fatal("expected a group")
	}
	if g.Keep != assets[0].ID {
		t.Errorf("keep = %d, want the original", g.Keep)
	}
	if !slices.Equal(g.SafeToRemove, []int64{assets[2].ID}) {
		t.Errorf("safe_to_remove = %v, want only hero-1.jpg", g.SafeToRemove)
	}
}

func TestConfirmRemoveOverride(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "a.jpg", hash: "h", usages: 2},
		assetSpec{path: "b.jpg", hash: "h", usages: 1},
		assetSpec{path: "c.jpg", hash: "h"},
	)
	det := New(db, "", Options{})

	r, err := det.QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	g := r.Groups[0]
	if len(g.ConfirmedRemove) != 0 {
		t.Errorf("confirmed_remove without override = %v", g.ConfirmedRemove)
	}

	r, err = det.QuickScan(context.Background(), []int64{assets[0].ID, assets[1].ID, assets[2].ID})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, r)
	g = r.Groups[0]
	if g.Keep != assets[0].ID {
		t.Fatalf("keep = %d, want %d", g.Keep, assets[0].ID)
	}
	if !slices.Equal(g.ConfirmedRemove, []int64{assets[1].ID}) {
		t.Errorf("confirmed_remove = %v, want only the used non-keep member", g.ConfirmedRemove)
	}
	if !slices.Equal(g.SafeToRemove, []int64{assets[2].ID}) {
		t.Errorf("safe_to_remove = %v", g.SafeToRemove)
	}
}

func TestQuickScanPullsInOlderCopies(t *testing.T) {
	db := setupTestDB(t)
	assets := addAssets(t, db,
		assetSpec{path: "old/photo.jpg", hash: "x", w: 50, h: 50},
		assetSpec{path: "old/shot.jpg", hash: "same"},
		assetSpec{path: "filler-1.jpg", hash: "f1"},
		assetSpec{path: "filler-2.jpg", hash: "f2"},
		assetSpec{path: "old/photo-copy.jpg", hash: "y", w: 50, h: 50},
		assetSpec{path: "new/shot.jpg", hash: "same"},
	)

	r, err := New(db, "", Options{QuickSample: 2}).QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Totals.Candidates != 4 {
		t.Errorf("candidates = %d, want the 2 newest plus 2 pulled in", r.Totals.Candidates)
	}
	if groupOf(r, assets[0].ID) == nil || groupOf(r, assets[1].ID) == nil {
		t.Error("older copies outside the sample should be grouped")
	}
}

func TestEmptyLibrary(t *testing.T) {
	db := setupTestDB(t)
	det := New(db, "", Options{})

	r, err := det.QuickScan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Groups == nil || len(r.Groups) != 0 || r.Totals.Candidates != 0 {
		t.Errorf("empty library report = %+v", r)
	}

	p, err := det.DeepScanChunk(context.Background(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Complete || p.Report == nil {
		t.Errorf("deep scan of empty library = %+v, want complete", p)
	}

	if _, err := det.DeepScanChunk(context.Background(), -1, nil); errs.CodeOf(err) != errs.CodeValidation {
		t.Errorf("negative offset error = %v", err)
	}
}

func writeGradient(t *testing.T, dir, name string, rising bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			v := uint8(x * 4)
			if !rising {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestDeepScanChunks(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	ctx := context.Background()

	writeGradient(t, dir, "a.png", true)
	writeGradient(t, dir, "b.png", true)
	writeGradient(t, dir, "c.png", false)
	assets := addAssets(t, db,
		assetSpec{path: "a.png"},
		assetSpec{path: "b.png"},
		assetSpec{path: "c.png"},
		assetSpec{path: "missing.png"},
	)

	det := New(db, dir, Options{DeepChunk: 3})

	p, err := det.DeepScanChunk(ctx, 0, nil)
	if err != nil {
		t.Fatalf("DeepScanChunk(0) failed: %v", err)
	}
	if p.Complete || p.NextOffset != 3 || p.Total != 4 || p.Processed != 3 {
		t.Fatalf("first chunk = %+v, want 3 of 4 and not complete", p)
	}
	if p.Fingerprinted != 3 || len(p.Errors) != 0 {
		t.Errorf("fingerprinted = %d errors = %v, want 3 and none", p.Fingerprinted, p.Errors)
	}

	a, _ := db.GetAsset(ctx, assets[0].ID)
	want, err := media.ContentHash(filepath.Join(dir, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	if a.ContentHash != want || a.Fingerprint == nil {
		t.Errorf("asset a hash=%q fp=%v, want backfilled", a.ContentHash, a.Fingerprint)
	}

	p, err = det.DeepScanChunk(ctx, p.NextOffset, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Complete || p.Report == nil {
		t.Fatalf("second chunk = %+v, want complete with report", p)
	}
	checkInvariants(t, p.Report)
	g := groupOf(p.Report, assets[0].ID)
	if g == nil || len(g.Members) != 2 || g.Confidence != ConfidenceExact {
		t.Errorf("a and b should be an exact pair, got %+v", g)
	}
	if groupOf(p.Report, assets[2].ID) != nil {
		t.Error("the inverted gradient should not be grouped")
	}
}

type countingGate struct {
	calls atomic.Int32
	err   error
}

func (g *countingGate) Wait(context.Context) error {
	g.calls.Add(1)
	return g.err
}

func TestDeepScanGate(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	ctx := context.Background()

	writeGradient(t, dir, "a.png", true)
	writeGradient(t, dir, "b.png", false)
	assets := addAssets(t, db, assetSpec{path: "a.png"}, assetSpec{path: "b.png"})

	held := &countingGate{err: context.Canceled}
	p, err := New(db, dir, Options{Gate: held}).DeepScanChunk(ctx, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Fingerprinted != 0 || held.calls.Load() == 0 {
		t.Errorf("held gate: fingerprinted %d after %d waits, want none", p.Fingerprinted, held.calls.Load())
	}
	if a, _ := db.GetAsset(ctx, assets[0].ID); a.Fingerprint != nil {
		t.Error("fingerprint computed past a held gate")
	}

	open := &countingGate{}
	p, err = New(db, dir, Options{Gate: open}).DeepScanChunk(ctx, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Fingerprinted != 2 || open.calls.Load() != 2 {
		t.Errorf("open gate: fingerprinted %d after %d waits, want 2 and 2", p.Fingerprinted, open.calls.Load())
	}
}

func TestDeepScanJob(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	ctx := context.Background()

	writeGradient(t, dir, "a.png", true)
	writeGradient(t, dir, "a-copy.png", true)
	addAssets(t, db, assetSpec{path: "a.png"}, assetSpec{path: "a-copy.png"}, assetSpec{path: "z.png"})

	s := jobs.New(db, jobs.Config{Owner: "dupes-test"})
	s.Register(jobs.FamilyDeepScan, NewRunner(New(db, dir, Options{DeepChunk: 2})))

	if _, err := s.Start(ctx, jobs.FamilyDeepScan, "", nil); err != nil {
		t.Fatal(err)
	}
	var st *database.JobState
	for range 10 {
		var err error
		st, err = s.Step(ctx, jobs.FamilyDeepScan)
		if err != nil {
			t.Fatal(err)
		}
		if st.Status == database.JobComplete || st.Status == database.JobFailed {
			break
		}
	}
	if st.Status != database.JobComplete {
		t.Fatalf("status = %s, errors %v", st.Status, st.Errors)
	}
	if st.Total != 3 || st.Processed != 3 || st.Changed != 2 {
		t.Errorf("total=%d processed=%d changed=%d, want 3/3/2", st.Total, st.Processed, st.Changed)
	}
	want := "Found 1 duplicate groups (1 exact, 0 perceptual, 0 filename); 1 safe to remove"
	if !slices.ContainsFunc(st.Messages, func(m string) bool { return strings.HasSuffix(m, want) }) {
		t.Errorf("messages = %v, want the scan outcome", st.Messages)
	}
}

type fakeLive struct {
	entries map[int64][]database.IndexEntry
}

func (f fakeLive) ScanAssetUsage(_ context.Context, a *database.Asset) ([]database.IndexEntry, error) {
	return f.entries[a.ID], nil
}

func TestVerifyUsage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	assets := addAssets(t, db,
		assetSpec{path: "a.jpg", hash: "h", usages: 1},
		assetSpec{path: "b.jpg", hash: "h"},
	)
	a, b := assets[0], assets[1]
	det := New(db, "", Options{})

	got, err := det.VerifyUsage(ctx, []int64{a.ID, b.ID}, LevelIndex, nil)
	if err != nil {
		t.Fatalf("VerifyUsage(index) failed: %v", err)
	}
	if !got[a.ID].Used || got[a.ID].Indexed != 1 || got[b.ID].Used || got[a.ID].Live != nil {
		t.Errorf("index usage = %+v", got)
	}

	live := fakeLive{entries: map[int64][]database.IndexEntry{
		a.ID: mustLocations(t, db, a.ID),
		b.ID: {{ContextType: database.ContextConfigRecord, LocationID: 7, FieldKey: "logo", RawReference: "/uploads/b.jpg"}},
	}}
	got, err = det.VerifyUsage(ctx, []int64{a.ID, b.ID}, LevelDeep, live)
	if err != nil {
		t.Fatalf("VerifyUsage(deep) failed: %v", err)
	}
	if got[a.ID].Stale || !got[b.ID].Stale || !got[b.ID].Used || *got[b.ID].Live != 1 {
		t.Errorf("deep usage = %+v", got)
	}
	if cur, _ := db.GetAsset(ctx, b.ID); !cur.Dirty {
		t.Error("stale asset should be marked dirty")
	}
	if cur, _ := db.GetAsset(ctx, a.ID); cur.Dirty {
		t.Error("verified asset should stay clean")
	}

	for _, tc := range []struct {
		name  string
		ids   []int64
		level string
		live  LiveScanner
		code  errs.Code
	}{
		{"no ids", nil, LevelIndex, nil, errs.CodeValidation},
		{"bad level", []int64{a.ID}, "psychic", nil, errs.CodeValidation},
		{"deep without scanner", []int64{a.ID}, LevelDeep, nil, errs.CodeValidation},
		{"unknown asset", []int64{a.ID, 9999}, LevelIndex, nil, errs.CodeNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := det.VerifyUsage(ctx, tc.ids, tc.level, tc.live); errs.CodeOf(err) != tc.code {
				t.Errorf("error = %v, want %s", err, tc.code)
			}
		})
	}
}

func mustLocations(t *testing.T, db *database.Database, id int64) []database.IndexEntry {
	t.Helper()
	entries, err := db.QueryLocations(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}
