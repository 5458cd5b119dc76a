package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-ingest/internal/archive"
	"media-ingest/internal/metrics"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCollectionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := &Collection{ID: "c1", Name: "Vacation", Path: "/media/vacation", Type: CollectionFolder}
	if err := s.CreateCollection(ctx, c); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	got, err := s.GetCollection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if got.Path != c.Path || got.Type != CollectionFolder {
		t.Errorf("got %+v, want path=%s type=%s", got, c.Path, CollectionFolder)
	}

	if _, err := s.GetCollection(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	byPath, err := s.FindCollectionByPath(ctx, "/media/vacation")
	if err != nil || byPath.ID != "c1" {
		t.Errorf("FindCollectionByPath = %v, %v", byPath, err)
	}
}

func TestQueryMetricsRecordErrorStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	errCounter := metrics.StoreQueryTotal.WithLabelValues("get_collection", "error")
	okCounter := metrics.StoreQueryTotal.WithLabelValues("get_collection", "success")
	errBefore := testutil.ToFloat64(errCounter)
	okBefore := testutil.ToFloat64(okCounter)

	if _, err := s.GetCollection(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if got := testutil.ToFloat64(errCounter); got != errBefore+1 {
		t.Errorf("error count = %v, want %v", got, errBefore+1)
	}
	if got := testutil.ToFloat64(okCounter); got != okBefore {
		t.Errorf("success count moved to %v on a failed query", got)
	}
}

func TestAppendImageIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entry, _ := archive.NewFileEntry("/media/vacation", "beach.jpg")
	img := &ImageEntry{
		ID: "i1", CollectionID: "c1", Filename: "beach.jpg", RelativePath: "beach.jpg",
		Entry: entry, FileType: SourceRegularFile, FileSize: 1024, Width: 800, Height: 600, Format: "jpeg",
	}

	if err := s.AppendImage(ctx, img); err != nil {
		t.Fatalf("AppendImage failed: %v", err)
	}
	if err := s.AppendImage(ctx, img); err != nil {
		t.Fatalf("second AppendImage failed: %v", err)
	}

	n, err := s.CountImages(ctx, "c1")
	if err != nil {
		t.Fatalf("CountImages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountImages = %d, want 1", n)
	}

	got, err := s.GetImage(ctx, "i1")
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if got.Entry.IsArchiveMember() {
		t.Error("regular file round-tripped as archive member")
	}
	if got.Entry.SourcePath() != "/media/vacation/beach.jpg" {
		t.Errorf("SourcePath = %q", got.Entry.SourcePath())
	}
}

func TestAppendArtifactsBatchAndIdempotence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []ArtifactEntry{
		{ImageID: "i1", Width: 300, Height: 300, Path: "/cache/thumbnails/c1/a_300x300.jpg", FileSize: 10, Format: "JPEG", Quality: 85, IsGenerated: true, IsValid: true},
		{ImageID: "i2", Width: 300, Height: 300, Path: "/cache/thumbnails/c1/b_300x300.jpg", FileSize: 20, Format: "JPEG", Quality: 85, IsGenerated: true, IsValid: true},
		{ImageID: "i3", Width: 300, Height: 300, Path: "/cache/thumbnails/c1/c_300x300.jpg", FileSize: 30, Format: "JPEG", Quality: 85, IsGenerated: true, IsValid: true},
	}
	if err := s.AppendArtifacts(ctx, "c1", KindThumbnail, batch); err != nil {
		t.Fatalf("AppendArtifacts failed: %v", err)
	}

	// Re-committing an already-committed batch appends nothing.
	if err := s.AppendArtifacts(ctx, "c1", KindThumbnail, batch); err != nil {
		t.Fatalf("second AppendArtifacts failed: %v", err)
	}

	n, err := s.CountArtifacts(ctx, "c1", KindThumbnail)
	if err != nil {
		t.Fatalf("CountArtifacts failed: %v", err)
	}
	if n != 3 {
		t.Errorf("CountArtifacts = %d, want 3", n)
	}

	path, ok, err := s.HasArtifact(ctx, "c1", KindThumbnail, "i2", 300, 300)
	if err != nil || !ok {
		t.Fatalf("HasArtifact = %v, %v", ok, err)
	}
	if path != "/cache/thumbnails/c1/b_300x300.jpg" {
		t.Errorf("path = %q", path)
	}

	if _, ok, _ := s.HasArtifact(ctx, "c1", KindThumbnail, "i2", 600, 600); ok {
		t.Error("different dimensions should not match")
	}
	if _, ok, _ := s.HasArtifact(ctx, "c1", KindCache, "i2", 300, 300); ok {
		t.Error("different kind should not match")
	}
}

func TestDummyArtifactInvariant(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	dummy := ArtifactEntry{
		ImageID: "i1", Width: 300, Height: 300,
		IsDummy: true, ErrorMessage: "decode failed", ErrorType: "DecodeFailed",
	}
	if err := s.AppendArtifacts(ctx, "c1", KindCache, []ArtifactEntry{dummy}); err != nil {
		t.Fatalf("AppendArtifacts failed: %v", err)
	}

	entries, err := s.ListArtifacts(ctx, "c1", KindCache)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if !e.IsDummy || e.IsValid || e.IsGenerated || e.ErrorMessage == "" {
		t.Errorf("dummy invariant violated: %+v", e)
	}
}

func TestClearImageArrays(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entry, _ := archive.NewFileEntry("/m", "a.jpg")
	s.AppendImage(ctx, &ImageEntry{ID: "i1", CollectionID: "c1", Filename: "a.jpg", RelativePath: "a.jpg", Entry: entry, FileType: SourceRegularFile})
	s.AppendArtifacts(ctx, "c1", KindThumbnail, []ArtifactEntry{{ImageID: "i1", Width: 300, Height: 300}})
	s.AppendArtifacts(ctx, "c1", KindCache, []ArtifactEntry{{ImageID: "i1", Width: 1920, Height: 1080}})

	if err := s.ClearImageArrays(ctx, "c1"); err != nil {
		t.Fatalf("ClearImageArrays failed: %v", err)
	}

	if n, _ := s.CountImages(ctx, "c1"); n != 0 {
		t.Errorf("images remain after clear: %d", n)
	}
	if n, _ := s.CountArtifacts(ctx, "c1", KindThumbnail); n != 0 {
		t.Errorf("thumbnails remain after clear: %d", n)
	}
	if n, _ := s.CountArtifacts(ctx, "c1", KindCache); n != 0 {
		t.Errorf("cache entries remain after clear: %d", n)
	}
}

func TestCacheFolderAccounting(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, f := range []CacheFolder{
		{ID: "f2", Name: "ssd2", Path: "/cache2", IsActive: true},
		{ID: "f1", Name: "ssd1", Path: "/cache1", IsActive: true},
		{ID: "f3", Name: "old", Path: "/cache3", IsActive: false},
	} {
		if err := s.CreateCacheFolder(ctx, &f); err != nil {
			t.Fatalf("CreateCacheFolder failed: %v", err)
		}
	}

	active, err := s.ActiveCacheFolders(ctx)
	if err != nil {
		t.Fatalf("ActiveCacheFolders failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "f1" || active[1].ID != "f2" {
		t.Errorf("active folders = %+v, want f1,f2 ordered by id", active)
	}

	if err := s.IncrementCacheFolderUsage(ctx, "f1", 2048, 1); err != nil {
		t.Fatalf("IncrementCacheFolderUsage failed: %v", err)
	}
	if err := s.IncrementCacheFolderUsage(ctx, "f1", 1024, 1); err != nil {
		t.Fatalf("IncrementCacheFolderUsage failed: %v", err)
	}

	f, err := s.GetCacheFolder(ctx, "f1")
	if err != nil {
		t.Fatalf("GetCacheFolder failed: %v", err)
	}
	if f.CurrentSizeBytes != 3072 || f.TotalFiles != 2 {
		t.Errorf("usage = %d bytes / %d files, want 3072/2", f.CurrentSizeBytes, f.TotalFiles)
	}

	if err := s.IncrementCacheFolderUsage(ctx, "missing", 1, 1); err == nil {
		t.Error("expected error for unknown folder")
	}

	s.AddCachedCollection(ctx, "f1", "c1")
	s.AddCachedCollection(ctx, "f1", "c1")
	s.AddCachedCollection(ctx, "f1", "c2")
	ids, err := s.CachedCollections(ctx, "f1")
	if err != nil {
		t.Fatalf("CachedCollections failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("cached collections = %v, want set semantics", ids)
	}
}

func TestJobStagesLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := &BackgroundJob{ID: "j1", JobType: JobTypeCollectionScan, CollectionID: "c1"}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, stages, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != StatusPending || len(stages) != 3 {
		t.Errorf("new job status=%s stages=%d, want Pending/3", got.Status, len(stages))
	}

	if err := s.UpsertStage(ctx, "j1", StageScan, StatusRunning, 0, 3, ""); err != nil {
		t.Fatalf("UpsertStage failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		completed, total, err := s.IncrementStageCompleted(ctx, "j1", StageScan, 1)
		if err != nil {
			t.Fatalf("IncrementStageCompleted failed: %v", err)
		}
		if completed != i+1 || total != 3 {
			t.Errorf("after increment %d: %d/%d", i+1, completed, total)
		}
	}

	// Shrinking total on upsert must not reduce the stored total.
	if err := s.UpsertStage(ctx, "j1", StageScan, StatusCompleted, 3, 1, "done"); err != nil {
		t.Fatalf("UpsertStage failed: %v", err)
	}
	_, stages, _ = s.GetJob(ctx, "j1")
	for _, st := range stages {
		if st.Name == StageScan {
			if st.TotalItems != 3 || st.Status != StatusCompleted {
				t.Errorf("scan stage = %d items status %s, want 3/Completed", st.TotalItems, st.Status)
			}
		}
	}
}

func TestListActiveJobs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateJob(ctx, &BackgroundJob{ID: "j1", JobType: JobTypeCollectionScan})
	s.CreateJob(ctx, &BackgroundJob{ID: "j2", JobType: JobTypeResumeCollection})
	s.CreateJob(ctx, &BackgroundJob{ID: "j3", JobType: JobTypeLibraryScan})
	s.UpdateJobStatus(ctx, "j1", StatusCompleted, "")

	jobs, err := s.ListActiveJobs(ctx, []string{JobTypeCollectionScan, JobTypeResumeCollection}, 500)
	if err != nil {
		t.Fatalf("ListActiveJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j2" {
		t.Errorf("active jobs = %+v, want only j2", jobs)
	}
}

func TestJobStateCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	js := &JobState{ID: "s1", JobID: "j1", CollectionID: "c1", Kind: KindThumbnail, TotalImages: 3}
	if err := s.CreateJobState(ctx, js); err != nil {
		t.Fatalf("CreateJobState failed: %v", err)
	}

	got, err := s.IncrementJobStateCompleted(ctx, "s1")
	if err != nil {
		t.Fatalf("IncrementJobStateCompleted failed: %v", err)
	}
	if got.CompletedImages != 1 {
		t.Errorf("completed = %d, want 1", got.CompletedImages)
	}

	got, err = s.IncrementJobStateFailed(ctx, "s1", "DecodeFailed", true)
	if err != nil {
		t.Fatalf("IncrementJobStateFailed failed: %v", err)
	}
	if got.FailedImages != 1 || got.DummyEntryCount != 1 {
		t.Errorf("failed=%d dummies=%d, want 1/1", got.FailedImages, got.DummyEntryCount)
	}
	if got.ErrorSummary["DecodeFailed"] != 1 {
		t.Errorf("error summary = %v", got.ErrorSummary)
	}

	got, err = s.IncrementJobStateSkipped(ctx, "s1")
	if err != nil {
		t.Fatalf("IncrementJobStateSkipped failed: %v", err)
	}
	if got.SkippedImages != 1 {
		t.Errorf("skipped = %d, want 1", got.SkippedImages)
	}

	if sum := got.CompletedImages + got.FailedImages + got.SkippedImages; sum > got.TotalImages {
		t.Errorf("counter conservation violated: %d > %d", sum, got.TotalImages)
	}
	if !got.Done() {
		t.Error("state with completed+failed+skipped == total should be done")
	}

	// Totals never decrease.
	s.SetJobStateTotal(ctx, "s1", 2)
	got, _ = s.GetJobState(ctx, "s1")
	if got.TotalImages != 3 {
		t.Errorf("total shrank to %d", got.TotalImages)
	}
}
