package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// ErrDuplicate is returned when a link would break one of the uniqueness
// rules: one link per occurrence, one link per external event and user.
var ErrDuplicate = errors.New("duplicate sync link")

// Fingerprint builds the cross-matching key of an entry: the normalised
// title, the ISO date and either "all_day" or the HH:MM start.
func Fingerprint(title string, date time.Time, startTime string, allDay bool) string {
	when := "all_day"
	if !allDay && startTime != "" {
		when = startTime
		if hh, mm, ok := model.ParseClock(startTime); ok {
			when = fmt.Sprintf("%02d:%02d", hh, mm)
		}
	}
	norm := strings.ToLower(strings.Join(strings.Fields(title), " "))
	return norm + "|" + date.Format(model.DateLayout) + "|" + when
}

// OccurrenceFingerprint is Fingerprint applied to an occurrence.
func OccurrenceFingerprint(o *model.Occurrence) string {
	return Fingerprint(o.Title, o.Date, o.StartTime, o.IsAllDay())
}

type SyncLinkStore struct {
	db *sql.DB
}

func NewSyncLinkStore(db *sql.DB) *SyncLinkStore {
	return &SyncLinkStore{db: db}
}

const syncLinkCols = `id, occurrence_id, user_id, external_event_id, fingerprint, bulk_persisted, origin, created_at, updated_at`

func scanSyncLink(scanner interface{ Scan(...any) error }) (*model.SyncLink, error) {
	var l model.SyncLink
	var bulk int
	var origin string
	err := scanner.Scan(&l.ID, &l.OccurrenceID, &l.UserID, &l.ExternalEventID, &l.Fingerprint, &bulk, &origin, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.BulkPersisted = bulk != 0
	l.Origin = model.Origin(origin)
	return &l, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Link records the correlation of an occurrence with an external event.
func (s *SyncLinkStore) Link(l model.SyncLink) (*model.SyncLink, error) {
	origin := l.Origin
	if origin == "" {
		origin = model.OriginLocal
	}
	result, err := s.db.Exec(
		`INSERT INTO sync_links (occurrence_id, user_id, external_event_id, fingerprint, bulk_persisted, origin)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.OccurrenceID, l.UserID, l.ExternalEventID, l.Fingerprint, boolInt(l.BulkPersisted), string(origin),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert sync link: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.getBy(`id = ?`, id)
}

// Unlink removes the correlation only; the occurrence is untouched.
func (s *SyncLinkStore) Unlink(occurrenceID int64) error {
	_, err := s.db.Exec(`DELETE FROM sync_links WHERE occurrence_id = ?`, occurrenceID)
	if err != nil {
		return fmt.Errorf("delete sync link: %w", err)
	}
	return nil
}

func (s *SyncLinkStore) getBy(where string, args ...any) (*model.SyncLink, error) {
	row := s.db.QueryRow(`SELECT `+syncLinkCols+` FROM sync_links WHERE `+where+` ORDER BY created_at ASC, id ASC LIMIT 1`, args...)
	l, err := scanSyncLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync link: %w", err)
	}
	return l, nil
}

func (s *SyncLinkStore) GetByOccurrence(occurrenceID int64) (*model.SyncLink, error) {
	return s.getBy(`occurrence_id = ?`, occurrenceID)
}

func (s *SyncLinkStore) GetByExternalID(userID int64, externalID string) (*model.SyncLink, error) {
	return s.getBy(`user_id = ? AND external_event_id = ?`, userID, externalID)
}

// FindByFingerprint returns the external event of the oldest link with the
// given fingerprint.
func (s *SyncLinkStore) FindByFingerprint(userID int64, key string) (string, bool, error) {
	l, err := s.getBy(`user_id = ? AND fingerprint = ?`, userID, key)
	if err != nil || l == nil {
		return "", false, err
	}
	return l.ExternalEventID, true, nil
}

// FindByExternalID returns the local occurrence linked to an external event.
func (s *SyncLinkStore) FindByExternalID(userID int64, externalID string) (int64, bool, error) {
	l, err := s.GetByExternalID(userID, externalID)
	if err != nil || l == nil {
		return 0, false, err
	}
	return l.OccurrenceID, true, nil
}

func (s *SyncLinkStore) list(where string, args ...any) ([]model.SyncLink, error) {
	rows, err := s.db.Query(`SELECT `+syncLinkCols+` FROM sync_links WHERE `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync links: %w", err)
	}
	defer rows.Close()

	var out []model.SyncLink
	for rows.Next() {
		l, err := scanSyncLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync link: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *SyncLinkStore) ListByUser(userID int64) ([]model.SyncLink, error) {
	return s.list(`user_id = ?`, userID)
}

// ListPurgeable returns the links an export disable removes: locally
// originated and not bulk-persisted.
func (s *SyncLinkStore) ListPurgeable(userID int64) ([]model.SyncLink, error) {
	return s.list(`user_id = ? AND bulk_persisted = 0 AND origin = 'local'`, userID)
}

// Touch refreshes the fingerprint of a link and, when bulk is true, marks it
// bulk-persisted. A link is never downgraded from bulk.
func (s *SyncLinkStore) Touch(occurrenceID int64, fingerprint string, bulk bool) error {
	_, err := s.db.Exec(
		`UPDATE sync_links SET fingerprint = ?, bulk_persisted = MAX(bulk_persisted, ?), updated_at = CURRENT_TIMESTAMP
		 WHERE occurrence_id = ?`,
		fingerprint, boolInt(bulk), occurrenceID,
	)
	if err != nil {
		return fmt.Errorf("touch sync link: %w", err)
	}
	return nil
}
