package model

import (
	"fmt"
	"time"
)

// NotificationSend records one dispatched reminder. Bucket is ScheduledAt
// truncated to the scheduler tolerance, in unix seconds.
type NotificationSend struct {
	ID            int64     `json:"id"`
	OccurrenceID  int64     `json:"occurrence_id"`
	OffsetMinutes int       `json:"offset_minutes"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Bucket        int64     `json:"bucket"`
	SentAt        time.Time `json:"sent_at"`
}

// ReminderCandidate is an occurrence with the owner details needed to compute
// and deliver its reminders.
type ReminderCandidate struct {
	Occurrence Occurrence
	Email      string
	Name       string
	Timezone   string
}

// Reminder is one due reminder handed to a notifier.
type Reminder struct {
	UserID       int64
	Email        string
	Name         string
	OccurrenceID int64
	Title        string
	Offset       ReminderOffset
	StartsAt     time.Time
	AllDay       bool
}

// Text is the one-line notification body.
func (r Reminder) Text() string {
	if r.AllDay {
		return fmt.Sprintf("%s is on %s", r.Title, r.StartsAt.Format("Mon, Jan 2"))
	}
	return fmt.Sprintf("%s starts in %s at %s", r.Title, r.Offset, r.StartsAt.Format("3:04 PM"))
}
