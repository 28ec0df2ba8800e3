package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// ClockLayout is the wire and storage format of wall-clock times.
const ClockLayout = "15:04"

type RepeatType string

const (
	RepeatNone     RepeatType = "none"
	RepeatDaily    RepeatType = "daily"
	RepeatWeekly   RepeatType = "weekly"
	RepeatMonthly  RepeatType = "monthly"
	RepeatYearly   RepeatType = "yearly"
	RepeatWeekdays RepeatType = "weekdays"
	RepeatWeekends RepeatType = "weekends"
	RepeatCustom   RepeatType = "custom"
)

// Valid reports whether t is one of the known repeat types.
func (t RepeatType) Valid() bool {
	switch t {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly,
		RepeatWeekdays, RepeatWeekends, RepeatCustom:
		return true
	}
	return false
}

type RepeatUnit string

const (
	UnitDays   RepeatUnit = "days"
	UnitWeeks  RepeatUnit = "weeks"
	UnitMonths RepeatUnit = "months"
	UnitYears  RepeatUnit = "years"
)

// RepeatPattern is the custom part of a recurrence definition, persisted as
// JSON in occurrences.repeat_pattern. Weekdays use time.Weekday numbering
// (0 = Sunday).
type RepeatPattern struct {
	Unit     RepeatUnit `json:"unit"`
	Interval int        `json:"interval"`
	Weekdays []int      `json:"weekdays,omitempty"`
	EndDate  string     `json:"end_date,omitempty"`
	Count    int        `json:"count,omitempty"`
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Origin records which side of a calendar mirror created a record.
type Origin string

const (
	OriginLocal    Origin = "local"
	OriginExternal Origin = "external"
)

type ReminderUnit string

const (
	ReminderMinutes ReminderUnit = "minutes"
	ReminderHours   ReminderUnit = "hours"
	ReminderDays    ReminderUnit = "days"
	ReminderWeeks   ReminderUnit = "weeks"
)

// MaxReminderOffset is the longest reminder offset accepted, matching the
// four week limit of Google Calendar overrides.
const MaxReminderOffset = 4 * 7 * 24 * time.Hour

// ReminderOffset is how long before an occurrence starts a reminder fires.
type ReminderOffset struct {
	Value int          `json:"value"`
	Unit  ReminderUnit `json:"unit"`
}

// Duration converts the offset to a time.Duration. Unknown units count as minutes.
func (r ReminderOffset) Duration() time.Duration {
	v := time.Duration(r.Value)
	switch r.Unit {
	case ReminderHours:
		return v * time.Hour
	case ReminderDays:
		return v * 24 * time.Hour
	case ReminderWeeks:
		return v * 7 * 24 * time.Hour
	default:
		return v * time.Minute
	}
}

// Before returns the instant the offset ends at start. Days and weeks are
// calendar steps in start's location, so they keep the wall-clock time
// across DST changes.
func (r ReminderOffset) Before(start time.Time) time.Time {
	switch r.Unit {
	case ReminderDays:
		return start.AddDate(0, 0, -r.Value)
	case ReminderWeeks:
		return start.AddDate(0, 0, -7*r.Value)
	default:
		return start.Add(-r.Duration())
	}
}

// Minutes returns the offset length in whole minutes.
func (r ReminderOffset) Minutes() int {
	return int(r.Duration() / time.Minute)
}

func (r ReminderOffset) String() string {
	unit := string(r.Unit)
	if r.Value == 1 {
		unit = strings.TrimSuffix(unit, "s")
	}
	return fmt.Sprintf("%d %s", r.Value, unit)
}

// OffsetFromMinutes expresses a minute count in the largest unit that divides it exactly.
func OffsetFromMinutes(minutes int) ReminderOffset {
	switch {
	case minutes > 0 && minutes%(7*24*60) == 0:
		return ReminderOffset{Value: minutes / (7 * 24 * 60), Unit: ReminderWeeks}
	case minutes > 0 && minutes%(24*60) == 0:
		return ReminderOffset{Value: minutes / (24 * 60), Unit: ReminderDays}
	case minutes > 0 && minutes%60 == 0:
		return ReminderOffset{Value: minutes / 60, Unit: ReminderHours}
	}
	return ReminderOffset{Value: minutes, Unit: ReminderMinutes}
}

type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Occurrence is one concrete calendar entry. Date and EndDate are calendar
// days at 00:00 UTC; StartTime and EndTime are "HH:MM" wall-clock values in
// the owner's timezone, empty for all-day entries.
type Occurrence struct {
	ID                   int64            `json:"id"`
	UserID               int64            `json:"user_id"`
	GroupID              string           `json:"group_id"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	Date                 time.Time        `json:"date"`
	EndDate              *time.Time       `json:"end_date"`
	StartTime            string           `json:"start_time"`
	EndTime              string           `json:"end_time"`
	AllDay               bool             `json:"all_day"`
	RepeatType           RepeatType       `json:"repeat_type"`
	RepeatPattern        *RepeatPattern   `json:"repeat_pattern"`
	RepeatEndDate        *time.Time       `json:"repeat_end_date"`
	RepeatCount          int              `json:"repeat_count"`
	Reminders            []ReminderOffset `json:"notification_reminders"`
	NotificationsEnabled bool             `json:"notifications_enabled"`
	Checklist            []ChecklistItem  `json:"checklist"`
	Status               Status           `json:"status"`
	Origin               Origin           `json:"origin"`
	Hidden               bool             `json:"hidden"`
	DeletedAt            *time.Time       `json:"deleted_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// IsAllDay reports whether the occurrence has no wall-clock start.
func (o *Occurrence) IsAllDay() bool {
	return o.AllDay || o.StartTime == ""
}

// SpanDays is the number of days between Date and EndDate.
func (o *Occurrence) SpanDays() int {
	if o.EndDate == nil {
		return 0
	}
	return int(o.EndDate.Sub(o.Date).Hours() / 24)
}

// StartIn returns the instant the occurrence starts in loc. All-day entries
// start at local midnight.
func (o *Occurrence) StartIn(loc *time.Location) time.Time {
	y, m, d := o.Date.Date()
	if o.IsAllDay() {
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	hh, mm, ok := ParseClock(o.StartTime)
	if !ok {
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

// ParseClock parses an "HH:MM" value.
func ParseClock(s string) (hour, minute int, ok bool) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// ParseDate parses a "YYYY-MM-DD" value into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DayOf truncates t to its calendar day at 00:00 UTC.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
