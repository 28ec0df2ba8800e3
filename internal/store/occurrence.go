package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type OccurrenceStore struct {
	db *sql.DB
}

func NewOccurrenceStore(db *sql.DB) *OccurrenceStore {
	return &OccurrenceStore{db: db}
}

const occurrenceCols = `id, user_id, group_id, title, description, date, end_date, start_time, end_time, all_day,
	repeat_type, repeat_pattern, repeat_end_date, repeat_count, notification_reminders, notifications_enabled,
	checklist, status, origin, hidden, deleted_at, created_at, updated_at`

func scanOccurrence(scanner interface{ Scan(...any) error }) (*model.Occurrence, error) {
	var (
		o                               model.Occurrence
		date, pattern, reminders, items string
		endDate, repeatEnd              sql.NullString
		allDay, notify, hidden          int
		deletedAt                       sql.NullTime
		repeatType, status, origin      string
	)
	err := scanner.Scan(&o.ID, &o.UserID, &o.GroupID, &o.Title, &o.Description, &date, &endDate,
		&o.StartTime, &o.EndTime, &allDay, &repeatType, &pattern, &repeatEnd, &o.RepeatCount,
		&reminders, &notify, &items, &status, &origin, &hidden, &deletedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if o.Date, err = model.ParseDate(date); err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	o.EndDate = parseOptionalDate(endDate)
	o.AllDay = allDay != 0
	o.NotificationsEnabled = notify != 0
	o.Hidden = hidden != 0
	o.Status = model.Status(status)
	o.Origin = model.Origin(origin)
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Time
	}

	o.RepeatType, o.RepeatPattern = decodePattern(repeatType, pattern)
	if o.RepeatType != model.RepeatNone {
		o.RepeatEndDate = parseOptionalDate(repeatEnd)
	} else {
		o.RepeatCount = 0
	}
	o.Reminders = decodeReminders(reminders)
	o.Checklist = decodeChecklist(items)
	return &o, nil
}

func parseOptionalDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := model.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatOptionalDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(model.DateLayout), Valid: true}
}

// decodePattern degrades an unknown type or a malformed custom pattern to none.
func decodePattern(typ, raw string) (model.RepeatType, *model.RepeatPattern) {
	t := model.RepeatType(typ)
	if !t.Valid() {
		return model.RepeatNone, nil
	}
	if t != model.RepeatCustom {
		return t, nil
	}
	var p model.RepeatPattern
	if raw == "" || json.Unmarshal([]byte(raw), &p) != nil {
		return model.RepeatNone, nil
	}
	return t, &p
}

func decodeReminders(raw string) []model.ReminderOffset {
	var out []model.ReminderOffset
	if raw == "" || json.Unmarshal([]byte(raw), &out) != nil {
		return []model.ReminderOffset{}
	}
	valid := out[:0]
	for _, r := range out {
		if r.Value >= 0 {
			valid = append(valid, r)
		}
	}
	return valid
}

func decodeChecklist(raw string) []model.ChecklistItem {
	var out []model.ChecklistItem
	if raw == "" || json.Unmarshal([]byte(raw), &out) != nil {
		return []model.ChecklistItem{}
	}
	return out
}

func encodeJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// occurrenceArgs returns the column values shared by insert and update, in
// the order group_id .. hidden.
func occurrenceArgs(o *model.Occurrence) []any {
	var pattern string
	if o.RepeatType == model.RepeatCustom && o.RepeatPattern != nil {
		pattern = encodeJSON(o.RepeatPattern, "")
	}
	repeatType := o.RepeatType
	if !repeatType.Valid() {
		repeatType = model.RepeatNone
	}
	status := o.Status
	if status == "" {
		status = model.StatusActive
	}
	origin := o.Origin
	if origin == "" {
		origin = model.OriginLocal
	}
	return []any{
		o.GroupID, o.Title, o.Description, o.Date.Format(model.DateLayout), formatOptionalDate(o.EndDate),
		o.StartTime, o.EndTime, boolInt(o.AllDay), string(repeatType), pattern,
		formatOptionalDate(o.RepeatEndDate), o.RepeatCount, encodeJSON(o.Reminders, "[]"),
		boolInt(o.NotificationsEnabled), encodeJSON(o.Checklist, "[]"), string(status), string(origin),
		boolInt(o.Hidden),
	}
}

const insertOccurrence = `INSERT INTO occurrences (user_id, group_id, title, description, date, end_date,
	start_time, end_time, all_day, repeat_type, repeat_pattern, repeat_end_date, repeat_count,
	notification_reminders, notifications_enabled, checklist, status, origin, hidden)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateOccurrence = `UPDATE occurrences SET group_id = ?, title = ?, description = ?, date = ?, end_date = ?,
	start_time = ?, end_time = ?, all_day = ?, repeat_type = ?, repeat_pattern = ?, repeat_end_date = ?,
	repeat_count = ?, notification_reminders = ?, notifications_enabled = ?, checklist = ?, status = ?,
	origin = ?, hidden = ?
	WHERE id = ? AND deleted_at IS NULL`

func insertWith(q querier, o *model.Occurrence) (int64, error) {
	args := append([]any{o.UserID}, occurrenceArgs(o)...)
	result, err := q.Exec(insertOccurrence, args...)
	if err != nil {
		return 0, fmt.Errorf("insert occurrence: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func getWith(q querier, id int64) (*model.Occurrence, error) {
	row := q.QueryRow(`SELECT `+occurrenceCols+` FROM occurrences WHERE id = ? AND deleted_at IS NULL`, id)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get occurrence: %w", err)
	}
	return o, nil
}

func listWith(q querier, query string, args ...any) ([]model.Occurrence, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var out []model.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *OccurrenceStore) Create(o *model.Occurrence) (*model.Occurrence, error) {
	id, err := insertWith(s.db, o)
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// GetByID returns a non-deleted occurrence, or nil when none exists.
func (s *OccurrenceStore) GetByID(id int64) (*model.Occurrence, error) {
	return getWith(s.db, id)
}

func (s *OccurrenceStore) Update(o *model.Occurrence) (*model.Occurrence, error) {
	args := append(occurrenceArgs(o), o.ID)
	if _, err := s.db.Exec(updateOccurrence, args...); err != nil {
		return nil, fmt.Errorf("update occurrence: %w", err)
	}
	return s.GetByID(o.ID)
}

func (s *OccurrenceStore) SetStatus(id int64, status model.Status) error {
	_, err := s.db.Exec(`UPDATE occurrences SET status = ? WHERE id = ? AND deleted_at IS NULL`, string(status), id)
	if err != nil {
		return fmt.Errorf("set occurrence status: %w", err)
	}
	return nil
}

func (s *OccurrenceStore) SoftDelete(id int64) error {
	_, err := s.db.Exec(`UPDATE occurrences SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete occurrence: %w", err)
	}
	return nil
}

// SoftDeleteGroup deletes every live occurrence of a group and returns them
// as they were before deletion.
func (s *OccurrenceStore) SoftDeleteGroup(groupID string) ([]model.Occurrence, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	removed, err := listWith(tx, `SELECT `+occurrenceCols+` FROM occurrences
		WHERE group_id = ? AND deleted_at IS NULL ORDER BY date ASC, id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE occurrences SET deleted_at = CURRENT_TIMESTAMP
		WHERE group_id = ? AND deleted_at IS NULL`, groupID); err != nil {
		return nil, fmt.Errorf("soft delete group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// GroupWrite is the result of regenerating a group.
type GroupWrite struct {
	Base     *model.Occurrence
	Siblings []model.Occurrence
	Removed  []model.Occurrence
}

// ReplaceGroup writes base (inserting it when ID is zero), soft-deletes every
// other live member of its group and inserts siblings, all in one
// transaction. Siblings inherit user and group from base.
func (s *OccurrenceStore) ReplaceGroup(base *model.Occurrence, siblings []model.Occurrence) (*GroupWrite, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	baseID := base.ID
	if baseID == 0 {
		if baseID, err = insertWith(tx, base); err != nil {
			return nil, err
		}
	} else {
		args := append(occurrenceArgs(base), baseID)
		if _, err := tx.Exec(updateOccurrence, args...); err != nil {
			return nil, fmt.Errorf("update base occurrence: %w", err)
		}
	}

	removed, err := listWith(tx, `SELECT `+occurrenceCols+` FROM occurrences
		WHERE group_id = ? AND id != ? AND deleted_at IS NULL ORDER BY date ASC, id ASC`, base.GroupID, baseID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE occurrences SET deleted_at = CURRENT_TIMESTAMP
		WHERE group_id = ? AND id != ? AND deleted_at IS NULL`, base.GroupID, baseID); err != nil {
		return nil, fmt.Errorf("clear group siblings: %w", err)
	}

	ids := make([]int64, 0, len(siblings))
	for i := range siblings {
		sib := siblings[i]
		sib.UserID = base.UserID
		sib.GroupID = base.GroupID
		id, err := insertWith(tx, &sib)
		if err != nil {
			return nil, fmt.Errorf("insert sibling %s: %w", sib.Date.Format(model.DateLayout), err)
		}
		ids = append(ids, id)
	}

	w := &GroupWrite{Removed: removed}
	if w.Base, err = getWith(tx, baseID); err != nil {
		return nil, err
	}
	for _, id := range ids {
		sib, err := getWith(tx, id)
		if err != nil {
			return nil, err
		}
		w.Siblings = append(w.Siblings, *sib)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

// ListByGroup returns the live members of a group ordered by date.
func (s *OccurrenceStore) ListByGroup(groupID string) ([]model.Occurrence, error) {
	return listWith(s.db, `SELECT `+occurrenceCols+` FROM occurrences
		WHERE group_id = ? AND deleted_at IS NULL ORDER BY date ASC, id ASC`, groupID)
}

// ListByRange returns a user's visible occurrences whose span intersects
// [from, to], inclusive.
func (s *OccurrenceStore) ListByRange(userID int64, from, to time.Time) ([]model.Occurrence, error) {
	return listWith(s.db, `SELECT `+occurrenceCols+` FROM occurrences
		WHERE user_id = ? AND deleted_at IS NULL AND hidden = 0
		  AND date <= ? AND COALESCE(end_date, date) >= ?
		ORDER BY date ASC, all_day DESC, start_time ASC, id ASC`,
		userID, to.Format(model.DateLayout), from.Format(model.DateLayout))
}

// ListExportable returns every live, locally created occurrence of a user.
func (s *OccurrenceStore) ListExportable(userID int64) ([]model.Occurrence, error) {
	return listWith(s.db, `SELECT `+occurrenceCols+` FROM occurrences
		WHERE user_id = ? AND deleted_at IS NULL AND origin = 'local'
		ORDER BY date ASC, id ASC`, userID)
}

// HideByOrigin hides every live occurrence of a user with the given origin.
func (s *OccurrenceStore) HideByOrigin(userID int64, origin model.Origin) (int64, error) {
	result, err := s.db.Exec(`UPDATE occurrences SET hidden = 1
		WHERE user_id = ? AND origin = ? AND hidden = 0 AND deleted_at IS NULL`, userID, string(origin))
	if err != nil {
		return 0, fmt.Errorf("hide occurrences: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// UnhideGroup makes every live member of a group visible again.
func (s *OccurrenceStore) UnhideGroup(groupID string) (int64, error) {
	result, err := s.db.Exec(`UPDATE occurrences SET hidden = 0
		WHERE group_id = ? AND hidden = 1 AND deleted_at IS NULL`, groupID)
	if err != nil {
		return 0, fmt.Errorf("unhide group: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListReminderCandidates returns active, visible occurrences with
// notifications enabled and at least one reminder, whose date lies in
// [from, to], joined with their owner.
func (s *OccurrenceStore) ListReminderCandidates(from, to time.Time) ([]model.ReminderCandidate, error) {
	rows, err := s.db.Query(`SELECT o.id, o.user_id, o.group_id, o.title, o.description, o.date, o.end_date,
			o.start_time, o.end_time, o.all_day, o.repeat_type, o.repeat_pattern, o.repeat_end_date,
			o.repeat_count, o.notification_reminders, o.notifications_enabled, o.checklist, o.status,
			o.origin, o.hidden, o.deleted_at, o.created_at, o.updated_at,
			u.email, u.name, u.timezone
		FROM occurrences o
		JOIN users u ON u.id = o.user_id
		WHERE o.deleted_at IS NULL AND o.hidden = 0 AND o.notifications_enabled = 1
		  AND o.status = 'active' AND o.notification_reminders NOT IN ('', '[]')
		  AND o.date >= ? AND o.date <= ?
		ORDER BY o.date ASC, o.id ASC`,
		from.Format(model.DateLayout), to.Format(model.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []model.ReminderCandidate
	for rows.Next() {
		var c model.ReminderCandidate
		o, err := scanOccurrence(candidateScanner{rows: rows, c: &c})
		if err != nil {
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		c.Occurrence = *o
		out = append(out, c)
	}
	return out, rows.Err()
}

// candidateScanner appends the owner columns to an occurrence scan.
type candidateScanner struct {
	rows *sql.Rows
	c    *model.ReminderCandidate
}

func (cs candidateScanner) Scan(dest ...any) error {
	return cs.rows.Scan(append(dest, &cs.c.Email, &cs.c.Name, &cs.c.Timezone)...)
}
