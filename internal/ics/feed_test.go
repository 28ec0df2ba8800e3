package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/alwaysplan/internal/model"
)

func TestWriteFeed(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	end := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	occs := []model.Occurrence{
		{
			ID:                   1,
			Title:                "Dentist",
			Description:          "Bring card\nAlwaysPlanID: 1",
			Date:                 time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			StartTime:            "09:00",
			EndTime:              "09:45",
			NotificationsEnabled: true,
			Reminders:            []model.ReminderOffset{{Value: 1, Unit: model.ReminderHours}},
			Status:               model.StatusActive,
		},
		{
			ID:      2,
			Title:   "Trip",
			Date:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			EndDate: &end,
			AllDay:  true,
			Status:  model.StatusCancelled,
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, "Pat", occs, denver, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"PRODID:" + productID,
		"UID:occurrence-1@alwaysplan",
		"DTSTART:20250310T150000Z",
		"DTEND:20250310T154500Z",
		"TRIGGER:-PT60M",
		"DTSTART;VALUE=DATE:20250310",
		"DTEND;VALUE=DATE:20250313",
		"STATUS:CANCELLED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("feed missing %q", want)
		}
	}
	if strings.Contains(out, "AlwaysPlanID") {
		t.Error("origin marker should not leak into the feed")
	}

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse feed: %v", err)
	}
	if n := len(cal.Events()); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}
