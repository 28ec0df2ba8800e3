// Package planner applies user writes to occurrences: it validates input,
// materialises recurring groups and hands the result to the calendar mirror.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/recurrence"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// ErrNotFound is returned when the occurrence does not exist or belongs to
// another user.
var ErrNotFound = errors.New("occurrence not found")

// ValidationError reports invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Scope selects whether an update or delete applies to one occurrence or
// its whole group.
type Scope string

const (
	ScopeSingle Scope = "single"
	ScopeGroup  Scope = "group"
)

// ParseScope maps a request value to a Scope. Empty means single.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeSingle:
		return ScopeSingle, nil
	case ScopeGroup:
		return ScopeGroup, nil
	}
	return "", invalid("scope", "must be single or group")
}

// Input is the user-editable part of an occurrence.
type Input struct {
	Title                string
	Description          string
	Date                 time.Time
	EndDate              *time.Time
	StartTime            string
	EndTime              string
	AllDay               bool
	RepeatType           model.RepeatType
	RepeatPattern        *model.RepeatPattern
	RepeatEndDate        *time.Time
	RepeatCount          int
	Reminders            []model.ReminderOffset
	NotificationsEnabled bool
	Checklist            []model.ChecklistItem
}

// Validate normalises in and reports the first invalid field.
func (in *Input) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title", "is required")
	}
	if in.Date.IsZero() {
		return invalid("date", "is required")
	}
	in.Date = model.DayOf(in.Date)
	if in.EndDate != nil {
		end := model.DayOf(*in.EndDate)
		if end.Before(in.Date) {
			return invalid("end_date", "must not be before date")
		}
		in.EndDate = &end
		if end.Equal(in.Date) {
			in.EndDate = nil
		}
	}

	if in.AllDay {
		in.StartTime, in.EndTime = "", ""
	}
	var ok bool
	if in.StartTime != "" {
		if in.StartTime, ok = normalizeClock(in.StartTime); !ok {
			return invalid("start_time", "must be HH:MM")
		}
	}
	if in.EndTime != "" {
		if in.StartTime == "" {
			return invalid("end_time", "requires start_time")
		}
		if in.EndTime, ok = normalizeClock(in.EndTime); !ok {
			return invalid("end_time", "must be HH:MM")
		}
		if in.EndDate == nil && in.EndTime < in.StartTime {
			return invalid("end_time", "must not be before start_time")
		}
	}

	if in.RepeatType == "" {
		in.RepeatType = model.RepeatNone
	}
	if !in.RepeatType.Valid() {
		return invalid("repeat_type", "is not a known repeat type")
	}
	if in.RepeatCount < 0 {
		return invalid("repeat_count", "must not be negative")
	}
	if in.RepeatType == model.RepeatCustom {
		p := in.RepeatPattern
		if p == nil {
			return invalid("repeat_pattern", "is required for custom repeats")
		}
		switch p.Unit {
		case model.UnitDays, model.UnitWeeks, model.UnitMonths, model.UnitYears:
		default:
			return invalid("repeat_pattern.unit", "must be days, weeks, months or years")
		}
		if p.Interval < 1 {
			return invalid("repeat_pattern.interval", "must be at least 1")
		}
		for _, wd := range p.Weekdays {
			if wd < 0 || wd > 6 {
				return invalid("repeat_pattern.weekdays", "must be 0-6")
			}
		}
	} else {
		in.RepeatPattern = nil
	}

	for _, r := range in.Reminders {
		if r.Value < 0 {
			return invalid("notification_reminders", "must not be negative")
		}
		switch r.Unit {
		case model.ReminderMinutes, model.ReminderHours, model.ReminderDays, model.ReminderWeeks:
		default:
			return invalid("notification_reminders", "unit must be minutes, hours, days or weeks")
		}
		if r.Duration() > model.MaxReminderOffset {
			return invalid("notification_reminders", "must not be more than 4 weeks")
		}
	}
	if in.Checklist == nil {
		in.Checklist = []model.ChecklistItem{}
	}
	return nil
}

func normalizeClock(s string) (string, bool) {
	hh, mm, ok := model.ParseClock(s)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hh, mm), true
}

// apply copies the content fields of in onto o. With recurring set the
// repeat definition is copied too.
func (in *Input) apply(o *model.Occurrence, recurring bool) {
	o.Title = in.Title
	o.Description = in.Description
	o.Date = in.Date
	o.EndDate = in.EndDate
	o.StartTime = in.StartTime
	o.EndTime = in.EndTime
	o.AllDay = in.AllDay || in.StartTime == ""
	o.Reminders = slices.Clone(in.Reminders)
	o.NotificationsEnabled = in.NotificationsEnabled
	o.Checklist = slices.Clone(in.Checklist)
	if recurring {
		o.RepeatType = in.RepeatType
		o.RepeatPattern = in.RepeatPattern
		o.RepeatEndDate = in.RepeatEndDate
		o.RepeatCount = in.RepeatCount
	}
}

// Mirror is the part of the calendar mirror that follows user writes.
type Mirror interface {
	ExportMany(ctx context.Context, userID int64, occs []model.Occurrence) mirror.Summary
	Remove(ctx context.Context, occ *model.Occurrence) error
}

type Service struct {
	occurrences *store.OccurrenceStore
	mirror      Mirror
	logger      *slog.Logger
}

func New(occurrences *store.OccurrenceStore, m Mirror, logger *slog.Logger) *Service {
	return &Service{occurrences: occurrences, mirror: m, logger: logger}
}

// Create stores a new occurrence and the siblings its repeat rule expands
// to, then exports them.
func (s *Service) Create(ctx context.Context, userID int64, in Input) (*store.GroupWrite, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	base := &model.Occurrence{
		UserID:  userID,
		GroupID: uuid.NewString(),
		Status:  model.StatusActive,
		Origin:  model.OriginLocal,
	}
	in.apply(base, true)

	w, err := s.occurrences.ReplaceGroup(base, recurrence.Materialize(base))
	if err != nil {
		return nil, fmt.Errorf("create occurrence group: %w", err)
	}
	s.export(ctx, userID, w)
	return w, nil
}

// Get returns an occurrence owned by userID.
func (s *Service) Get(userID, id int64) (*model.Occurrence, error) {
	o, err := s.occurrences.GetByID(id)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// Update edits an occurrence. With ScopeSingle only that occurrence
// changes and its repeat definition is left alone. With ScopeGroup the
// edited occurrence becomes the base of its group and every other member
// is regenerated from the new rule.
func (s *Service) Update(ctx context.Context, userID, id int64, in Input, scope Scope) (*store.GroupWrite, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	cur, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	if scope != ScopeGroup {
		in.apply(cur, false)
		updated, err := s.occurrences.Update(cur)
		if err != nil {
			return nil, fmt.Errorf("update occurrence: %w", err)
		}
		w := &store.GroupWrite{Base: updated}
		s.export(ctx, userID, w)
		return w, nil
	}

	in.apply(cur, true)
	w, err := s.occurrences.ReplaceGroup(cur, recurrence.Materialize(cur))
	if err != nil {
		return nil, fmt.Errorf("regenerate occurrence group: %w", err)
	}
	s.remove(ctx, w.Removed)
	s.export(ctx, userID, w)
	return w, nil
}

// Delete soft-deletes an occurrence, or its whole group, and returns what
// was removed.
func (s *Service) Delete(ctx context.Context, userID, id int64, scope Scope) ([]model.Occurrence, error) {
	cur, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	var removed []model.Occurrence
	if scope == ScopeGroup {
		removed, err = s.occurrences.SoftDeleteGroup(cur.GroupID)
		if err != nil {
			return nil, fmt.Errorf("delete occurrence group: %w", err)
		}
	} else {
		if err := s.occurrences.SoftDelete(cur.ID); err != nil {
			return nil, fmt.Errorf("delete occurrence: %w", err)
		}
		removed = []model.Occurrence{*cur}
	}
	s.remove(ctx, removed)
	return removed, nil
}

// SetStatus marks an occurrence active, completed or cancelled.
func (s *Service) SetStatus(ctx context.Context, userID, id int64, status model.Status) (*model.Occurrence, error) {
	switch status {
	case model.StatusActive, model.StatusCompleted, model.StatusCancelled:
	default:
		return nil, invalid("status", "must be active, completed or cancelled")
	}
	if _, err := s.Get(userID, id); err != nil {
		return nil, err
	}
	if err := s.occurrences.SetStatus(id, status); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	o, err := s.occurrences.GetByID(id)
	if err != nil {
		return nil, err
	}
	s.export(ctx, userID, &store.GroupWrite{Base: o})
	return o, nil
}

// export mirrors a committed write. Failures are logged only.
func (s *Service) export(ctx context.Context, userID int64, w *store.GroupWrite) {
	occs := append([]model.Occurrence{*w.Base}, w.Siblings...)
	sum := s.mirror.ExportMany(ctx, userID, occs)
	if sum.Failed > 0 {
		s.logger.Warn("mirror export after write", "user_id", userID, "group_id", w.Base.GroupID, "failed", sum.Failed)
	}
}

func (s *Service) remove(ctx context.Context, occs []model.Occurrence) {
	for i := range occs {
		if err := s.mirror.Remove(ctx, &occs[i]); err != nil {
			s.logger.Warn("mirror remove after delete", "occurrence_id", occs[i].ID, "error", err)
		}
	}
}
