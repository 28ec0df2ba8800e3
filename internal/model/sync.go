package model

import "time"

// SyncLink correlates a local occurrence with an external calendar event.
type SyncLink struct {
	ID              int64     `json:"id"`
	OccurrenceID    int64     `json:"occurrence_id"`
	UserID          int64     `json:"user_id"`
	ExternalEventID string    `json:"external_event_id"`
	Fingerprint     string    `json:"fingerprint"`
	BulkPersisted   bool      `json:"bulk_persisted"`
	Origin          Origin    `json:"origin"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SyncSettings holds a user's mirror toggles.
type SyncSettings struct {
	UserID        int64     `json:"user_id"`
	ImportEnabled bool      `json:"import_enabled"`
	ExportEnabled bool      `json:"export_enabled"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CalendarCredential is a user's sealed OAuth token for the external calendar.
type CalendarCredential struct {
	UserID      int64     `json:"user_id"`
	CalendarID  string    `json:"calendar_id"`
	SealedToken []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
