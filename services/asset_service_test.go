package services

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"nextcompete-api/models"
)

// failWrites makes deletes (or creates) on table fail while the returned flag is set.
func failWrites(t *testing.T, db *gorm.DB, op, table string) *atomic.Bool {
	t.Helper()
	var on atomic.Bool
	fn := func(tx *gorm.DB) {
		if on.Load() && tx.Statement.Table == table {
			tx.AddError(errors.New("injected " + op + " failure on " + table))
		}
	}
	var err error
	switch op {
	case "delete":
		err = db.Callback().Delete().Before("gorm:delete").Register("test:fail_"+table, fn)
	case "create":
		err = db.Callback().Create().Before("gorm:create").Register("test:fail_"+table, fn)
	}
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return &on
}

func countJobs(t *testing.T, db *gorm.DB, kind, status string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.StorageCleanupJob{}).Where("kind = ? AND status = ?", kind, status).Count(&n).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

func TestUploadOversizedFileIsNeverStored(t *testing.T) {
	f := newFixture(t)
	roundID := f.r1.RoundID
	_, err := f.assets.Upload(context.Background(), f.alice, UploadInput{
		Name:         "huge.pdf",
		ContentType:  "application/pdf",
		Size:         11 * 1024 * 1024,
		Body:         bytes.NewReader([]byte("x")),
		RoundID:      &roundID,
		ResourceType: ResourceSubmission,
	})
	if !hasCode(violationCodes(err), ViolationFileTooLarge) {
		t.Fatalf("expected file_too_large, got %v", err)
	}
	if len(f.store.objects) != 0 {
		t.Fatalf("nothing should reach storage")
	}
	var n int64
	f.db.Model(&models.StoredAsset{}).Count(&n)
	if n != 0 {
		t.Fatalf("no asset record expected, found %d", n)
	}
}

func TestUploadChecksRoundFileTypes(t *testing.T) {
	f := newFixture(t)
	roundID := f.r1.RoundID
	_, err := f.assets.Upload(context.Background(), f.alice, UploadInput{
		Name:    "tool.exe",
		Size:    10,
		Body:    bytes.NewReader([]byte("x")),
		RoundID: &roundID,
	})
	if !hasCode(violationCodes(err), ViolationUnsupportedFileType) {
		t.Fatalf("expected unsupported_file_type, got %v", err)
	}

	// organizer resources are not bound by the submission rules
	res, err := f.assets.Upload(context.Background(), f.organizer, UploadInput{
		Name:         "brief.zip",
		Size:         10,
		Body:         bytes.NewReader([]byte("x")),
		RoundID:      &roundID,
		ResourceType: ResourceRound,
	})
	if err != nil {
		t.Fatalf("resource upload: %v", err)
	}
	if !strings.HasPrefix(res.PublicID, "resource/10/") || !strings.HasSuffix(res.PublicID, ".zip") {
		t.Fatalf("unexpected object key %q", res.PublicID)
	}
}

func TestUploadRecordFailureRemovesObject(t *testing.T) {
	f := newFixture(t)
	fail := failWrites(t, f.db, "create", "stored_assets")
	fail.Store(true)

	_, err := f.assets.Upload(context.Background(), f.alice, UploadInput{
		Name: "a.pdf", Size: 10, Body: bytes.NewReader([]byte("x")),
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if len(f.store.objects) != 0 || len(f.store.deletes) != 1 {
		t.Fatalf("orphan object should be removed: objects=%d deletes=%d", len(f.store.objects), len(f.store.deletes))
	}

	// when the object cannot be removed either, a purge_object job is queued
	f.store.setFailDelete(errors.New("storage down"))
	fail.Store(true)
	_, err = f.assets.Upload(context.Background(), f.alice, UploadInput{
		Name: "b.pdf", Size: 10, Body: bytes.NewReader([]byte("x")),
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	fail.Store(false)
	if n := countJobs(t, f.db, models.CleanupPurgeObject, models.CleanupPending); n != 1 {
		t.Fatalf("expected one purge_object job, got %d", n)
	}

	f.store.setFailDelete(nil)
	report, err := f.assets.ReconcileStorage(context.Background(), 10)
	if err != nil || report.Done != 1 {
		t.Fatalf("reconcile: %+v %v", report, err)
	}
	if len(f.store.objects) != 0 {
		t.Fatalf("orphan object should be gone after reconcile")
	}
}

func TestUploadBatchResultsAreIndependent(t *testing.T) {
	f := newFixture(t)
	results := f.assets.UploadBatch(context.Background(), f.alice, []UploadInput{
		{Name: "one.pdf", Size: 10, Body: bytes.NewReader([]byte("1"))},
		{Name: "huge.pdf", Size: 50 * 1024 * 1024, Body: bytes.NewReader([]byte("2"))},
		{Name: "three.pdf", Size: 10, Body: bytes.NewReader([]byte("3"))},
	})
	if len(results) != 3 {
		t.Fatalf("expected three results, got %d", len(results))
	}
	if results[0].Error != "" || results[2].Error != "" {
		t.Fatalf("valid files should succeed: %+v", results)
	}
	if results[1].Error == "" || results[1].PublicID != "" {
		t.Fatalf("oversized file should fail on its own: %+v", results[1])
	}
	if len(f.store.objects) != 2 {
		t.Fatalf("expected two stored objects, got %d", len(f.store.objects))
	}
}

func TestDeleteAssetStorageFailureKeepsRecords(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, f.alice, "a.pdf", 1024)
	f.store.setFailDelete(errors.New("storage down"))

	if err := f.assets.DeleteAsset(context.Background(), f.alice, file.PublicID); err == nil {
		t.Fatalf("expected storage error")
	}
	var n int64
	f.db.Model(&models.StoredAsset{}).Where("public_id = ?", file.PublicID).Count(&n)
	if n != 1 {
		t.Fatalf("asset record should survive a failed storage delete")
	}
	if countJobs(t, f.db, models.CleanupPurgeRecord, models.CleanupPending) != 0 {
		t.Fatalf("no cleanup job for a storage-side failure")
	}
}

func TestDeleteAssetRecordFailureQueuesPurge(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, f.alice, "a.pdf", 1024)
	keep := f.upload(t, f.alice, "b.pdf", 1024)
	f.submit(t, f.alice, f.r1, []DraftFile{file, keep}, nil)

	fail := failWrites(t, f.db, "delete", "stored_assets")
	fail.Store(true)
	if err := f.assets.DeleteAsset(context.Background(), f.alice, file.PublicID); err == nil {
		t.Fatalf("expected record error")
	}
	fail.Store(false)

	if f.store.has(file.PublicID) {
		t.Fatalf("object should already be deleted")
	}
	var refs int64
	f.db.Model(&models.SubmissionFile{}).Where("public_id = ?", file.PublicID).Count(&refs)
	if refs != 1 {
		t.Fatalf("failed transaction should leave references in place, found %d", refs)
	}
	if countJobs(t, f.db, models.CleanupPurgeRecord, models.CleanupPending) != 1 {
		t.Fatalf("expected a pending purge_record job")
	}

	report, err := f.assets.ReconcileStorage(context.Background(), 10)
	if err != nil || report.Done != 1 {
		t.Fatalf("reconcile: %+v %v", report, err)
	}
	f.db.Model(&models.SubmissionFile{}).Where("public_id = ?", file.PublicID).Count(&refs)
	if refs != 0 {
		t.Fatalf("references should be purged, found %d", refs)
	}
	var sub models.Submission
	f.db.Preload("Files").Where("user_id = ?", f.alice.UserID).First(&sub)
	if len(sub.Files) != 1 || sub.Files[0].PublicID != keep.PublicID || sub.Version != 2 {
		t.Fatalf("submission should keep the other file and bump its version: %+v", sub)
	}
}

func TestReconcileMarksJobFailedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.store.setFailDelete(errors.New("storage down"))
	f.assets.enqueue(context.Background(), "submission/30/lost.pdf", models.CleanupPurgeObject, errors.New("storage down"))

	for i := 0; i < 3; i++ {
		if _, err := f.assets.ReconcileStorage(context.Background(), 10); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}
	if countJobs(t, f.db, models.CleanupPurgeObject, models.CleanupFailed) != 1 {
		t.Fatalf("job should be failed after three attempts")
	}
	report, err := f.assets.ReconcileStorage(context.Background(), 10)
	if err != nil || report.Processed != 0 {
		t.Fatalf("failed jobs are not retried: %+v %v", report, err)
	}
}

func TestDeleteAssetGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	only := f.upload(t, f.alice, "only.pdf", 1024)
	sub := f.submit(t, f.alice, f.r1, []DraftFile{only}, nil)

	if err := f.assets.DeleteAsset(ctx, f.bob, only.PublicID); !errors.Is(err, ErrNotAssetOwner) {
		t.Fatalf("expected ErrNotAssetOwner, got %v", err)
	}
	if err := f.assets.DeleteAsset(ctx, f.alice, only.PublicID); !errors.Is(err, ErrLastSubmissionItem) {
		t.Fatalf("expected ErrLastSubmissionItem, got %v", err)
	}
	f.approve(t, sub)
	if err := f.assets.DeleteAsset(ctx, f.alice, only.PublicID); !errors.Is(err, ErrAssetInUse) {
		t.Fatalf("expected ErrAssetInUse, got %v", err)
	}
	if err := f.assets.DeleteAsset(ctx, f.alice, "submission/30/none.pdf"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if !f.store.has(only.PublicID) {
		t.Fatalf("refused deletions must not touch storage")
	}
}

func TestRunReconcilerStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.assets.RunReconciler(ctx, 10*time.Millisecond, 10)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reconciler did not stop")
	}
}
