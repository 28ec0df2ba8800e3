// Package ics renders a user's occurrences as a read-only iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/origin"
)

const productID = "-//AlwaysPlan//Occurrence Feed//EN"

// UID is the stable iCalendar identifier of an occurrence.
func UID(occurrenceID int64) string {
	return fmt.Sprintf("occurrence-%d@alwaysplan", occurrenceID)
}

// Build renders occs as a calendar. Times are written in UTC; all-day
// entries use DATE values with an exclusive end.
func Build(name string, occs []model.Occurrence, loc *time.Location, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(loc.String())

	for i := range occs {
		addEvent(cal, &occs[i], loc, stamp)
	}
	return cal
}

func addEvent(cal *ical.Calendar, o *model.Occurrence, loc *time.Location, stamp time.Time) {
	ev := cal.AddEvent(UID(o.ID))
	ev.SetDtStampTime(stamp)
	ev.SetCreatedTime(o.CreatedAt)
	ev.SetModifiedAt(o.UpdatedAt)
	ev.SetSummary(o.Title)
	if desc := origin.StripMarker(o.Description); desc != "" {
		ev.SetDescription(desc)
	}

	if o.IsAllDay() {
		last := o.Date
		if o.EndDate != nil {
			last = *o.EndDate
		}
		ev.SetAllDayStartAt(o.Date)
		ev.SetAllDayEndAt(last.AddDate(0, 0, 1))
	} else {
		start := o.StartIn(loc)
		end := start.Add(time.Hour)
		if hh, mm, ok := model.ParseClock(o.EndTime); ok {
			day := o.Date
			if o.EndDate != nil {
				day = *o.EndDate
			}
			y, m, d := day.Date()
			if e := time.Date(y, m, d, hh, mm, 0, 0, loc); e.After(start) {
				end = e
			}
		}
		ev.SetStartAt(start)
		ev.SetEndAt(end)
	}

	switch o.Status {
	case model.StatusCancelled:
		ev.SetStatus(ical.ObjectStatusCancelled)
	case model.StatusCompleted:
		ev.SetStatus(ical.ObjectStatusCompleted)
	default:
		ev.SetStatus(ical.ObjectStatusConfirmed)
	}

	if !o.NotificationsEnabled {
		return
	}
	for _, r := range o.Reminders {
		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(fmt.Sprintf("-PT%dM", r.Minutes()))
		alarm.SetProperty(ical.ComponentPropertyDescription, o.Title)
	}
}

// Write serialises the feed to w.
func Write(w io.Writer, name string, occs []model.Occurrence, loc *time.Location, stamp time.Time) error {
	return Build(name, occs, loc, stamp).SerializeTo(w)
}
