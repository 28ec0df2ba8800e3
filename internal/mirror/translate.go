package mirror

import (
	"errors"
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/origin"
	"github.com/dukerupert/alwaysplan/internal/recurrence"
	"github.com/dukerupert/alwaysplan/internal/store"
)

const (
	// wallClockLayout is the zone-less dateTime form paired with timeZone.
	wallClockLayout = "2006-01-02T15:04:05"

	maxOverrides     = 5
	maxOverrideMins  = 40320
	defaultReminder  = 30
	untitledSummary  = "(No title)"
	defaultTimedSpan = time.Hour
)

var errNoStart = errors.New("event has no start")

// ToEvent renders an occurrence as an external event. Recurrence is never
// written: every sibling is mirrored as its own event.
func ToEvent(o *model.Occurrence, loc *time.Location) *calendar.Event {
	ev := &calendar.Event{
		Summary:     o.Title,
		Description: o.Description,
		Reminders:   toReminders(o),
	}

	if o.IsAllDay() {
		last := o.Date
		if o.EndDate != nil {
			last = *o.EndDate
		}
		ev.Start = &calendar.EventDateTime{Date: o.Date.Format(model.DateLayout)}
		ev.End = &calendar.EventDateTime{Date: last.AddDate(0, 0, 1).Format(model.DateLayout)}
		return ev
	}

	start := o.StartIn(loc)
	end := start.Add(defaultTimedSpan)
	if hh, mm, ok := model.ParseClock(o.EndTime); ok {
		endDay := o.Date
		if o.EndDate != nil {
			endDay = *o.EndDate
		}
		y, m, d := endDay.Date()
		if e := time.Date(y, m, d, hh, mm, 0, 0, loc); e.After(start) {
			end = e
		}
	}
	ev.Start = &calendar.EventDateTime{DateTime: start.Format(wallClockLayout), TimeZone: loc.String()}
	ev.End = &calendar.EventDateTime{DateTime: end.Format(wallClockLayout), TimeZone: loc.String()}
	return ev
}

func toReminders(o *model.Occurrence) *calendar.EventReminders {
	r := &calendar.EventReminders{ForceSendFields: []string{"UseDefault"}}
	if !o.NotificationsEnabled {
		return r
	}
	for _, off := range o.Reminders {
		if len(r.Overrides) == maxOverrides {
			break
		}
		mins := min(off.Minutes(), maxOverrideMins)
		r.Overrides = append(r.Overrides, &calendar.EventReminder{
			Method:          "popup",
			Minutes:         int64(mins),
			ForceSendFields: []string{"Minutes"},
		})
	}
	return r
}

// FromEvent translates an external event into an occurrence in loc. The
// result has no user, group or origin set.
func FromEvent(ev *calendar.Event, loc *time.Location) (*model.Occurrence, error) {
	if ev.Start == nil || (ev.Start.Date == "" && ev.Start.DateTime == "") {
		return nil, errNoStart
	}

	title := ev.Summary
	if title == "" {
		title = untitledSummary
	}
	o := &model.Occurrence{
		Title:       title,
		Description: origin.StripMarker(ev.Description),
		Status:      model.StatusActive,
		Checklist:   []model.ChecklistItem{},
	}

	if ev.Start.Date != "" {
		date, err := model.ParseDate(ev.Start.Date)
		if err != nil {
			return nil, fmt.Errorf("parse start date: %w", err)
		}
		o.Date = date
		o.AllDay = true
		if ev.End != nil && ev.End.Date != "" {
			if end, err := model.ParseDate(ev.End.Date); err == nil {
				// External end dates are exclusive.
				if last := end.AddDate(0, 0, -1); last.After(date) {
					o.EndDate = &last
				}
			}
		}
	} else {
		start, err := parseDateTime(ev.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("parse start: %w", err)
		}
		o.Date = model.DayOf(localDay(start))
		o.StartTime = start.Format(model.ClockLayout)
		if ev.End != nil && ev.End.DateTime != "" {
			if end, err := parseDateTime(ev.End, loc); err == nil && end.After(start) {
				o.EndTime = end.Format(model.ClockLayout)
				// An event ending exactly at midnight stays on its start day.
				if endDay := localDay(end.Add(-time.Nanosecond)); endDay.After(localDay(start)) {
					ed := model.DayOf(endDay)
					o.EndDate = &ed
				}
			}
		}
	}

	o.Reminders = fromReminders(ev.Reminders)
	o.NotificationsEnabled = len(o.Reminders) > 0
	recurrence.DecodeRRule(ev.Recurrence).Apply(o)
	return o, nil
}

// localDay returns the calendar day of t in its own location as UTC midnight.
func localDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// parseDateTime reads an RFC 3339 value, or a wall-clock value in the
// event's timeZone, and returns it in loc.
func parseDateTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
		return t.In(loc), nil
	}
	src := model.LoadLocation(dt.TimeZone, loc)
	t, err := time.ParseInLocation(wallClockLayout, dt.DateTime, src)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

func fromReminders(r *calendar.EventReminders) []model.ReminderOffset {
	if r == nil || r.UseDefault {
		return []model.ReminderOffset{{Value: defaultReminder, Unit: model.ReminderMinutes}}
	}
	out := []model.ReminderOffset{}
	for _, o := range r.Overrides {
		if o == nil || o.Minutes < 0 {
			continue
		}
		out = append(out, model.OffsetFromMinutes(int(o.Minutes)))
	}
	return out
}

// EventFingerprint computes the matching key of an external event in loc.
func EventFingerprint(ev *calendar.Event, loc *time.Location) (string, bool) {
	if ev.Start == nil {
		return "", false
	}
	if ev.Start.Date != "" {
		date, err := model.ParseDate(ev.Start.Date)
		if err != nil {
			return "", false
		}
		return store.Fingerprint(ev.Summary, date, "", true), true
	}
	start, err := parseDateTime(ev.Start, loc)
	if err != nil {
		return "", false
	}
	return store.Fingerprint(ev.Summary, localDay(start), start.Format(model.ClockLayout), false), true
}
