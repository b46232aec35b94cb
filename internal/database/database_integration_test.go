package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediaref/internal/errs"
)

// Integration tests for the usage index store with a real SQLite database

func setupTestDB(t testing.TB) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addAsset(t testing.TB, db *Database, path string) *Asset {
	t.Helper()

	a := &Asset{Path: path, MimeType: "image/jpeg", Size: 100, ContentHash: "hash-" + path}
	if err := db.UpsertAsset(context.Background(), a); err != nil {
		t.Fatalf("UpsertAsset(%q) failed: %v", path, err)
	}
	return a
}

func addRecord(t testing.TB, db *Database, ctype ContextType, owner, value string) *Record {
	t.Helper()

	r := &Record{ContextType: ctype, Owner: owner, FieldKey: "body", Value: value}
	if err := db.SaveRecord(context.Background(), r, nil); err != nil {
		t.Fatalf("SaveRecord(%q) failed: %v", owner, err)
	}
	return r
}

func entry(r *Record, raw string) IndexEntry {
	return IndexEntry{ContextType: r.ContextType, LocationID: r.ID, FieldKey: r.FieldKey, RawReference: raw}
}

func TestNewDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

func TestNewDatabaseReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := New(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	addAsset(t, db, "2024/05/photo.jpg")
	db.Close()

	db, err = New(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	if _, err := db.GetAssetByPath(ctx, "2024/05/photo.jpg"); err != nil {
		t.Errorf("asset lost across reopen: %v", err)
	}
}

func TestSummaryThreeReferencedAssets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		a := addAsset(t, db, "2024/05/"+name)
		r := addRecord(t, db, ContextContent, "post-"+name, `<img src="/uploads/2024/05/`+name+`">`)
		if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r, "/uploads/2024/05/"+name)}); err != nil {
			t.Fatalf("UpsertEntries() failed: %v", err)
		}
	}

	s, err := db.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary() failed: %v", err)
	}
	if s.TotalEntries != 3 || s.IndexedAssets != 3 || s.OrphanedEntries != 0 {
		t.Errorf("summary = %+v, want total=3 indexed=3 orphaned=0", s)
	}
	if s.ByContext[ContextContent] != 3 {
		t.Errorf("by_context[content] = %d, want 3", s.ByContext[ContextContent])
	}
	if s.DirtyAssets != 0 {
		t.Errorf("dirty_assets = %d, want 0 after indexing", s.DirtyAssets)
	}
	if s.LastUpdate.IsZero() {
		t.Error("last_update should be set after an index write")
	}
}

func TestUpsertEntriesReplacesWholeSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "photo.jpg")
	r1 := addRecord(t, db, ContextContent, "one", "x")
	r2 := addRecord(t, db, ContextStructuredMeta, "two", "y")

	if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r1, "/uploads/photo.jpg"), entry(r2, "/uploads/photo.jpg")}); err != nil {
		t.Fatalf("UpsertEntries() failed: %v", err)
	}
	if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r2, "/uploads/photo-300x200.jpg")}); err != nil {
		t.Fatalf("UpsertEntries() failed: %v", err)
	}

	got, err := db.QueryLocations(ctx, a.ID)
	if err != nil {
		t.Fatalf("QueryLocations() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(got), got)
	}
	if got[0].LocationID != r2.ID || got[0].RawReference != "/uploads/photo-300x200.jpg" {
		t.Errorf("unexpected entry %+v", got[0])
	}
	if got[0].AssetPath != "photo.jpg" {
		t.Errorf("asset path = %q, want the asset's current path", got[0].AssetPath)
	}
}

func TestUpsertEntriesRejectsInvalidEntryAtomically(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "photo.jpg")
	r := addRecord(t, db, ContextContent, "one", "x")
	if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r, "/uploads/photo.jpg")}); err != nil {
		t.Fatalf("UpsertEntries() failed: %v", err)
	}

	bad := []IndexEntry{entry(r, "/uploads/photo-1.jpg"), {ContextType: "bogus", LocationID: r.ID, RawReference: "x"}}
	err := db.UpsertEntries(ctx, a.ID, bad)
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("UpsertEntries() error = %v, want validation error", err)
	}

	got, _ := db.QueryLocations(ctx, a.ID)
	if len(got) != 1 || got[0].RawReference != "/uploads/photo.jpg" {
		t.Errorf("failed upsert must leave the previous set intact, got %+v", got)
	}
}

func TestUpsertEntriesUnknownAsset(t *testing.T) {
	db := setupTestDB(t)

	err := db.UpsertEntries(context.Background(), 42, nil)
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("UpsertEntries() error = %v, want NotFoundError", err)
	}
}

func TestUpsertIndexedEntriesKeepsConcurrentInvalidation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	addAsset(t, db, "photo.jpg")
	a, err := db.GetAssetByPath(ctx, "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Dirty {
		t.Fatal("new asset should start dirty")
	}

	// An edit lands between reading the asset and writing its entries
	if err := db.MarkAssetsDirty(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	changed, err := db.UpsertIndexedEntries(ctx, a, nil)
	if err != nil {
		t.Fatalf("UpsertIndexedEntries() failed: %v", err)
	}
	if changed {
		t.Error("empty set over empty set should not report a change")
	}

	after, _ := db.GetAsset(ctx, a.ID)
	if !after.Dirty {
		t.Error("invalidation that raced the scan must survive")
	}
	if after.IndexedAt.IsZero() {
		t.Error("indexed_at should be set")
	}

	// A second pass that observed the latest mark clears it
	if _, err := db.UpsertIndexedEntries(ctx, after, nil); err != nil {
		t.Fatal(err)
	}
	final, _ := db.GetAsset(ctx, a.ID)
	if final.Dirty {
		t.Error("asset should be clean after indexing with the current mark")
	}
}

func TestDetectOrphans(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	kept := addAsset(t, db, "2024/05/kept.jpg")
	gone := addAsset(t, db, "2024/05/gone.jpg")
	r := addRecord(t, db, ContextContent, "post", "x")

	for _, a := range []*Asset{kept, gone} {
		if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r, "/uploads/"+a.Path)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.DeleteAsset(ctx, gone.ID); err != nil {
		t.Fatalf("DeleteAsset() failed: %v", err)
	}

	orphans, err := db.DetectOrphans(ctx)
	if err != nil {
		t.Fatalf("DetectOrphans() failed: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("got %d orphans, want 1: %+v", len(orphans), orphans)
	}
	if orphans[0].AssetID != gone.ID || orphans[0].LastKnownPath != "2024/05/gone.jpg" || orphans[0].Entries != 1 {
		t.Errorf("unexpected orphan %+v", orphans[0])
	}
	for _, o := range orphans {
		if o.AssetID == kept.ID {
			t.Error("asset with live entries must never be reported as orphan")
		}
	}

	s, _ := db.GetSummary(ctx)
	if s.OrphanedEntries != 1 || s.IndexedAssets != 1 {
		t.Errorf("summary = %+v, want orphaned=1 indexed=1", s)
	}

	removed, err := db.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("SweepOrphans() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("SweepOrphans() removed %d, want 1", removed)
	}
	if orphans, _ := db.DetectOrphans(ctx); len(orphans) != 0 {
		t.Errorf("orphans remain after sweep: %+v", orphans)
	}
}

func TestDetectDerivedCopies(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	photo := addAsset(t, db, "2024/05/photo.jpg")
	appended := addAsset(t, db, "2024/05/photo.jpg.webp")
	sibling := addAsset(t, db, "2024/05/photo.avif")
	addAsset(t, db, "2024/06/photo.webp") // different directory
	addAsset(t, db, "2024/05/other.webp") // no original

	copies, err := db.DetectDerivedCopies(ctx)
	if err != nil {
		t.Fatalf("DetectDerivedCopies() failed: %v", err)
	}

	want := []DerivedCopy{
		{AssetID: appended.ID, ParentAssetID: photo.ID},
		{AssetID: sibling.ID, ParentAssetID: photo.ID},
	}
	if len(copies) != len(want) {
		t.Fatalf("got %+v, want %+v", copies, want)
	}
	for i := range want {
		if copies[i] != want[i] {
			t.Errorf("copies[%d] = %+v, want %+v", i, copies[i], want[i])
		}
	}
}

func TestSaveRecordInvalidatesEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := addAsset(t, db, "old.jpg")
	replacement := addAsset(t, db, "new.jpg")
	r := addRecord(t, db, ContextContent, "post", `<img src="/uploads/old.jpg">`)

	for _, a := range []*Asset{old, replacement} {
		if err := db.UpsertEntries(ctx, a.ID, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertEntries(ctx, old.ID, []IndexEntry{entry(r, "/uploads/old.jpg")}); err != nil {
		t.Fatal(err)
	}

	r.Value = `<img src="/uploads/new.jpg">`
	if err := db.SaveRecord(ctx, r, []string{"new.jpg"}); err != nil {
		t.Fatalf("SaveRecord() failed: %v", err)
	}
	if r.Version != 2 {
		t.Errorf("version = %d, want 2", r.Version)
	}

	if got, _ := db.QueryLocations(ctx, old.ID); len(got) != 0 {
		t.Errorf("entries of the edited record should be invalidated, got %+v", got)
	}
	for _, a := range []*Asset{old, replacement} {
		got, _ := db.GetAsset(ctx, a.ID)
		if !got.Dirty {
			t.Errorf("%s should be dirty after the edit", got)
		}
	}
}

func TestSaveRecordVersionConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	r := addRecord(t, db, ContextConfigRecord, "site_logo", "/uploads/logo.png")
	stale := *r

	r.Value = "/uploads/logo-2.png"
	if err := db.SaveRecord(ctx, r, nil); err != nil {
		t.Fatal(err)
	}

	stale.Value = "/uploads/logo-3.png"
	err := db.SaveRecord(ctx, &stale, nil)
	if errs.CodeOf(err) != errs.CodeConcurrency {
		t.Fatalf("SaveRecord() with stale version error = %v, want concurrency error", err)
	}

	got, _ := db.GetRecord(ctx, r.ID)
	if got.Value != "/uploads/logo-2.png" {
		t.Errorf("value = %q, stale write must not land", got.Value)
	}
}

func TestDeleteRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "photo.jpg")
	r := addRecord(t, db, ContextContent, "post", "/uploads/photo.jpg")
	if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r, "/uploads/photo.jpg")}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteRecord(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRecord() failed: %v", err)
	}
	if got, _ := db.QueryLocations(ctx, a.ID); len(got) != 0 {
		t.Errorf("entries should be dropped with their record, got %+v", got)
	}
	if err := db.DeleteRecord(ctx, r.ID); errs.CodeOf(err) != errs.CodeNotFound {
		t.Errorf("second DeleteRecord() error = %v, want not found", err)
	}
}

func TestFindCandidateRecordsEscapesWildcards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	addRecord(t, db, ContextContent, "a", "see /uploads/100%_done.jpg")
	addRecord(t, db, ContextContent, "b", "see /uploads/100xxdone.jpg")

	got, err := db.FindCandidateRecords(ctx, "100%_done")
	if err != nil {
		t.Fatalf("FindCandidateRecords() failed: %v", err)
	}
	if len(got) != 1 || got[0].Owner != "a" {
		t.Errorf("got %+v, want only record a", got)
	}
}

func TestTruncateEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "photo.jpg")
	r := addRecord(t, db, ContextContent, "post", "x")
	if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r, "/uploads/photo.jpg")}); err != nil {
		t.Fatal(err)
	}

	queued, err := db.TruncateEntries(ctx)
	if err != nil {
		t.Fatalf("TruncateEntries() failed: %v", err)
	}
	if queued != 1 {
		t.Errorf("queued = %d, want 1", queued)
	}
	s, _ := db.GetSummary(ctx)
	if s.TotalEntries != 0 || s.DirtyAssets != 1 {
		t.Errorf("summary after truncate = %+v", s)
	}
}

func TestUpsertAssetHashChangeMarksDirty(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "photo.jpg")
	if err := db.UpsertEntries(ctx, a.ID, nil); err != nil {
		t.Fatal(err)
	}

	same := &Asset{Path: "photo.jpg", MimeType: "image/jpeg", Size: 100, ContentHash: a.ContentHash}
	if err := db.UpsertAsset(ctx, same); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.GetAsset(ctx, a.ID); got.Dirty {
		t.Error("re-upserting identical content should not dirty the asset")
	}

	fp := uint64(0xF0F0F0F0F0F0F0F0)
	replaced := &Asset{Path: "photo.jpg", MimeType: "image/jpeg", Size: 120, ContentHash: "other", Fingerprint: &fp}
	if err := db.UpsertAsset(ctx, replaced); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetAsset(ctx, a.ID)
	if !got.Dirty {
		t.Error("content replacement should dirty the asset")
	}
	if got.Fingerprint == nil || *got.Fingerprint != fp {
		t.Errorf("fingerprint = %v, want %x (high bit must survive storage)", got.Fingerprint, fp)
	}
}

func TestJobStateCompareAndSwap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	st := &JobState{Family: "index", JobID: "job-1", Status: JobQueued, Mode: "smart", CreatedAt: time.Now()}
	if err := db.CreateJobState(ctx, st); err != nil {
		t.Fatalf("CreateJobState() failed: %v", err)
	}

	dup := &JobState{Family: "index", JobID: "job-2", Status: JobQueued}
	if err := db.CreateJobState(ctx, dup); errs.CodeOf(err) != errs.CodeConcurrency {
		t.Errorf("second CreateJobState() error = %v, want concurrency error", err)
	}

	a, _ := db.GetJobState(ctx, "index")
	b, _ := db.GetJobState(ctx, "index")

	a.Status = JobRunning
	a.Messages = []string{"started"}
	if err := db.SwapJobState(ctx, a); err != nil {
		t.Fatalf("SwapJobState() failed: %v", err)
	}

	b.Status = JobCancelled
	if err := db.SwapJobState(ctx, b); errs.CodeOf(err) != errs.CodeConcurrency {
		t.Fatalf("racing SwapJobState() error = %v, want concurrency error", err)
	}

	got, err := db.GetJobState(ctx, "index")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobRunning || got.Version != 2 || len(got.Messages) != 1 {
		t.Errorf("job state = %+v", got)
	}

	if _, err := db.GetJobState(ctx, "rename"); errs.CodeOf(err) != errs.CodeNotFound {
		t.Errorf("GetJobState(rename) error = %v, want not found", err)
	}
}

func TestConcurrentUpsertsSameAsset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "photo.jpg")
	r := addRecord(t, db, ContextContent, "post", "x")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := "/uploads/photo.jpg"
			if i%2 == 1 {
				raw = "/uploads/photo-150x150.jpg"
			}
			if err := db.UpsertEntries(ctx, a.ID, []IndexEntry{entry(r, raw), entry(r, raw+"?v=1")}); err != nil {
				t.Errorf("UpsertEntries() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := db.QueryLocations(ctx, a.ID)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want exactly one writer's set of 2: %+v", len(got), got)
	}
	if got[0].RawReference+"?v=1" != got[1].RawReference && got[1].RawReference+"?v=1" != got[0].RawReference {
		t.Errorf("entries from different writers interleaved: %+v", got)
	}
}

func TestRenameSuggestions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := addAsset(t, db, "IMG_0001.jpg")
	if err := db.SetRenameSuggestion(ctx, a.ID, "sunset-over-bay"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetRenameSuggestions(ctx, []int64{a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if got[a.ID].SuggestedName != "sunset-over-bay" {
		t.Errorf("suggestion = %+v", got[a.ID])
	}

	if err := db.DeleteRenameSuggestion(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.GetRenameSuggestions(ctx, nil); len(got) != 0 {
		t.Errorf("suggestions remain: %+v", got)
	}
}
