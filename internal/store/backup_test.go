package store

import (
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

func TestBackupCreate(t *testing.T) {
	bs := NewBackupStore(openTestDB(t))
	at := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)

	b, err := bs.Create("backup-2025-03-01T030000Z.db.enc", "backups/backup-2025-03-01T030000Z.db.enc", at)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if b.Status != model.BackupStatusPending {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusPending)
	}

	got, err := bs.GetByID(b.ID)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if got == nil || got.ObjectKey != b.ObjectKey || !got.StartedAt.Equal(at) {
		t.Errorf("got %+v", got)
	}
}

func TestBackupGetMissing(t *testing.T) {
	bs := NewBackupStore(openTestDB(t))
	got, err := bs.GetByID(42)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestBackupStatusLifecycle(t *testing.T) {
	bs := NewBackupStore(openTestDB(t))
	b, _ := bs.Create("a.db.enc", "backups/a.db.enc", time.Now())

	if err := bs.UpdateStatus(b.ID, model.BackupStatusFailed, "upload failed"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := bs.GetByID(b.ID)
	if got.Status != model.BackupStatusFailed || got.ErrorMessage != "upload failed" {
		t.Errorf("got status=%q error=%q", got.Status, got.ErrorMessage)
	}

	if latest, _ := bs.LatestCompleted(); latest != nil {
		t.Fatalf("expected no completed backup, got %+v", latest)
	}

	done := time.Date(2025, 3, 1, 3, 1, 0, 0, time.UTC)
	if err := bs.UpdateCompleted(b.ID, 4096, done); err != nil {
		t.Fatalf("update completed: %v", err)
	}
	latest, err := bs.LatestCompleted()
	if err != nil {
		t.Fatalf("latest completed: %v", err)
	}
	if latest == nil || latest.ID != b.ID || latest.SizeBytes != 4096 {
		t.Fatalf("latest = %+v", latest)
	}
	if latest.CompletedAt == nil || !latest.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v, want %v", latest.CompletedAt, done)
	}
}

func TestBackupListAndDeleteOlderThan(t *testing.T) {
	bs := NewBackupStore(openTestDB(t))
	base := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	for i, key := range []string{"backups/one", "backups/two", "backups/three"} {
		if _, err := bs.Create(key, key, base.AddDate(0, 0, i)); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}

	list, err := bs.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ObjectKey != "backups/three" {
		t.Fatalf("list = %+v", list)
	}

	keys, err := bs.DeleteOlderThan(base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("deleted keys = %v, want 2", keys)
	}
	list, _ = bs.List(10)
	if len(list) != 1 || list[0].ObjectKey != "backups/three" {
		t.Errorf("remaining = %+v", list)
	}
}
