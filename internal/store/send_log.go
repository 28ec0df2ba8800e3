package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// SendLogStore persists NotificationSend records, the at-most-once ledger of
// the reminder scheduler.
type SendLogStore struct {
	db *sql.DB
}

func NewSendLogStore(db *sql.DB) *SendLogStore {
	return &SendLogStore{db: db}
}

// Bucket rounds a scheduled instant down to the tolerance window.
func Bucket(scheduled time.Time, tolerance time.Duration) int64 {
	sec := int64(tolerance / time.Second)
	if sec <= 0 {
		return scheduled.Unix()
	}
	u := scheduled.Unix()
	b := u - u%sec
	if u < 0 && u%sec != 0 {
		b -= sec
	}
	return b
}

// TryRecord inserts a send record. It reports false, with no error, when a
// record for the same occurrence, offset and bucket already exists.
func (s *SendLogStore) TryRecord(rec model.NotificationSend) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO notification_sends (occurrence_id, offset_minutes, scheduled_at, bucket)
		 VALUES (?, ?, ?, ?)`,
		rec.OccurrenceID, rec.OffsetMinutes, rec.ScheduledAt.UTC(), rec.Bucket,
	)
	if err != nil {
		return false, fmt.Errorf("record notification send: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SendLogStore) ListByOccurrence(occurrenceID int64) ([]model.NotificationSend, error) {
	rows, err := s.db.Query(
		`SELECT id, occurrence_id, offset_minutes, scheduled_at, bucket, sent_at
		 FROM notification_sends WHERE occurrence_id = ? ORDER BY scheduled_at ASC, id ASC`,
		occurrenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notification sends: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationSend
	for rows.Next() {
		var r model.NotificationSend
		if err := rows.Scan(&r.ID, &r.OccurrenceID, &r.OffsetMinutes, &r.ScheduledAt, &r.Bucket, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification send: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CleanupBefore removes send records dispatched before cutoff.
func (s *SendLogStore) CleanupBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM notification_sends WHERE sent_at < ?`, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("cleanup notification sends: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
