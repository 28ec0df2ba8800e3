package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/database"
	"github.com/dukerupert/alwaysplan/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sql.DB, email string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(email, "Test", "UTC")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func seedOccurrence(t *testing.T, db *sql.DB, o model.Occurrence) *model.Occurrence {
	t.Helper()
	if o.GroupID == "" {
		o.GroupID = "g-" + o.Title
	}
	if o.Date.IsZero() {
		o.Date = day(2025, 3, 1)
	}
	created, err := NewOccurrenceStore(db).Create(&o)
	if err != nil {
		t.Fatalf("create occurrence: %v", err)
	}
	return created
}
