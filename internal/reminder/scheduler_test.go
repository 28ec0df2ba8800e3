package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/database"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
)

type recorder struct {
	mu   sync.Mutex
	got  []model.Reminder
	err  error
	hold chan struct{}
	in   chan struct{}
}

func (r *recorder) Notify(ctx context.Context, rem model.Reminder) error {
	if r.in != nil {
		r.in <- struct{}{}
	}
	if r.hold != nil {
		<-r.hold
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rem)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type harness struct {
	occurrences *store.OccurrenceStore
	sends       *store.SendLogStore
	users       *store.UserStore
	notifier    *recorder
	sched       *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		occurrences: store.NewOccurrenceStore(db),
		sends:       store.NewSendLogStore(db),
		users:       store.NewUserStore(db),
		notifier:    &recorder{},
	}
	h.sched = NewScheduler(h.occurrences, h.sends, h.notifier, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) occurrence(t *testing.T, tz string, o model.Occurrence) *model.Occurrence {
	t.Helper()
	u, err := h.users.Create(tz+"@example.com", "Pat", tz)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	o.UserID = u.ID
	o.GroupID = "g"
	o.NotificationsEnabled = true
	created, err := h.occurrences.Create(&o)
	if err != nil {
		t.Fatalf("create occurrence: %v", err)
	}
	return created
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2025, 3, 10, hh, mm, ss, 0, time.UTC)
}

func dentist() model.Occurrence {
	return model.Occurrence{
		Title:     "Dentist",
		Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime: "09:00",
		Reminders: []model.ReminderOffset{{Value: 30, Unit: model.ReminderMinutes}},
	}
}

func TestTickTwiceInSameWindowSendsOnce(t *testing.T) {
	h := newHarness(t)
	occ := h.occurrence(t, "UTC", dentist())
	ctx := context.Background()

	first := h.sched.Tick(ctx, at(8, 30, 10))
	second := h.sched.Tick(ctx, at(8, 30, 40))

	if first.Sent != 1 || first.Due != 1 {
		t.Errorf("first tick = %+v, want 1 sent", first)
	}
	if second.Sent != 0 || second.Duplicates != 1 {
		t.Errorf("second tick = %+v, want 1 duplicate", second)
	}
	if n := h.notifier.count(); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
	recs, _ := h.sends.ListByOccurrence(occ.ID)
	if len(recs) != 1 {
		t.Fatalf("send records = %d, want 1", len(recs))
	}
	if recs[0].OffsetMinutes != 30 {
		t.Errorf("offset = %d, want 30", recs[0].OffsetMinutes)
	}

	got := h.notifier.got[0]
	if got.Title != "Dentist" || got.Email != "UTC@example.com" || !got.StartsAt.Equal(at(9, 0, 0)) {
		t.Errorf("reminder = %+v", got)
	}
}

func TestTickOutsideToleranceSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.occurrence(t, "UTC", dentist())

	for _, now := range []time.Time{at(8, 28, 0), at(8, 31, 30), at(9, 0, 0)} {
		if res := h.sched.Tick(context.Background(), now); res.Due != 0 {
			t.Errorf("tick at %s = %+v, want nothing due", now.Format(time.TimeOnly), res)
		}
	}
	if h.notifier.count() != 0 {
		t.Error("no reminder should be delivered")
	}
}

func TestTickAllDayUsesLocalMidnight(t *testing.T) {
	h := newHarness(t)
	h.occurrence(t, "America/Denver", model.Occurrence{
		Title:     "Birthday",
		Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		AllDay:    true,
		Reminders: []model.ReminderOffset{{Value: 1, Unit: model.ReminderDays}},
	})

	// Midnight on 2025-03-09 in Denver is 07:00 UTC.
	res := h.sched.Tick(context.Background(), time.Date(2025, 3, 9, 7, 0, 20, 0, time.UTC))
	if res.Sent != 1 {
		t.Fatalf("tick = %+v, want 1 sent", res)
	}
	if !h.notifier.got[0].AllDay {
		t.Error("reminder should be flagged all-day")
	}
}

func TestTickWeekOffsetKeepsWallClockAcrossDST(t *testing.T) {
	h := newHarness(t)
	h.occurrence(t, "America/Denver", model.Occurrence{
		Title:     "Standup",
		Date:      time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		StartTime: "09:00",
		Reminders: []model.ReminderOffset{{Value: 1, Unit: model.ReminderWeeks}},
	})
	ctx := context.Background()

	// 09:00 MDT on 03-12 minus a fixed 168h would be 08:00 MST on 03-05.
	if res := h.sched.Tick(ctx, time.Date(2025, 3, 5, 15, 0, 20, 0, time.UTC)); res.Due != 0 {
		t.Errorf("tick at 08:00 local = %+v, want nothing due", res)
	}
	// 09:00 MST on 2025-03-05 is 16:00 UTC.
	if res := h.sched.Tick(ctx, time.Date(2025, 3, 5, 16, 0, 20, 0, time.UTC)); res.Sent != 1 {
		t.Fatalf("tick at 09:00 local = %+v, want 1 sent", res)
	}
}

func TestLongestReminderComesDueWithShortLookahead(t *testing.T) {
	h := newHarness(t)
	h.sched = NewScheduler(h.occurrences, h.sends, h.notifier, Config{Lookahead: 24 * time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.occurrence(t, "UTC", model.Occurrence{
		Title:     "Passport renewal",
		Date:      time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC),
		StartTime: "09:00",
		Reminders: []model.ReminderOffset{{Value: 4, Unit: model.ReminderWeeks}},
	})

	if res := h.sched.Tick(context.Background(), at(9, 0, 10)); res.Sent != 1 {
		t.Fatalf("tick = %+v, want 1 sent", res)
	}
}

func TestTickExcludesInactiveOccurrences(t *testing.T) {
	h := newHarness(t)
	done := h.occurrence(t, "UTC", dentist())
	if err := h.occurrences.SetStatus(done.ID, model.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}

	hidden := dentist()
	hidden.Hidden = true
	h.occurrence(t, "Etc/UTC", hidden)

	quiet := dentist()
	quiet.UserID = done.UserID
	quiet.GroupID = "quiet"
	if _, err := h.occurrences.Create(&quiet); err != nil {
		t.Fatalf("create: %v", err)
	}

	res := h.sched.Tick(context.Background(), at(8, 30, 0))
	if res.Due != 0 || h.notifier.count() != 0 {
		t.Errorf("tick = %+v, deliveries = %d, want nothing", res, h.notifier.count())
	}
}

func TestDeliveryFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	occ := h.occurrence(t, "UTC", dentist())
	h.notifier.err = errors.New("smtp down")
	ctx := context.Background()

	res := h.sched.Tick(ctx, at(8, 30, 0))
	if res.Failed != 1 || res.Sent != 0 {
		t.Errorf("tick = %+v, want 1 failed", res)
	}
	recs, _ := h.sends.ListByOccurrence(occ.ID)
	if len(recs) != 1 {
		t.Fatalf("send records = %d, want 1", len(recs))
	}

	h.notifier.err = nil
	if res := h.sched.Tick(ctx, at(8, 30, 50)); res.Duplicates != 1 {
		t.Errorf("retry tick = %+v, want duplicate", res)
	}
	if n := h.notifier.count(); n != 1 {
		t.Errorf("notifier calls = %d, want 1", n)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.occurrence(t, "UTC", dentist())
	h.notifier.hold = make(chan struct{})
	h.notifier.in = make(chan struct{}, 1)
	ctx := context.Background()

	results := make(chan TickResult, 1)
	go func() { results <- h.sched.Tick(ctx, at(8, 30, 0)) }()

	select {
	case <-h.notifier.in:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never reached delivery")
	}

	if res := h.sched.Tick(ctx, at(8, 30, 0)); !res.Skipped {
		t.Errorf("overlapping tick = %+v, want skipped", res)
	}
	close(h.notifier.hold)

	if res := <-results; res.Sent != 1 {
		t.Errorf("first tick = %+v, want 1 sent", res)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.occurrence(t, "UTC", dentist())
	h.notifier.in = make(chan struct{}, 8)
	h.sched.cfg.Interval = 10 * time.Millisecond
	h.sched.now = func() time.Time { return at(8, 30, 0) }

	h.sched.Start(context.Background())
	select {
	case <-h.notifier.in:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never delivered")
	}
	h.sched.Stop()

	if n := h.notifier.count(); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
}

func TestCleanupRemovesOldRecords(t *testing.T) {
	h := newHarness(t)
	occ := h.occurrence(t, "UTC", dentist())
	h.sched.Tick(context.Background(), at(8, 30, 0))

	h.sched.Cleanup(time.Now())
	if recs, _ := h.sends.ListByOccurrence(occ.ID); len(recs) != 1 {
		t.Fatalf("fresh record removed: %d left", len(recs))
	}
	h.sched.Cleanup(time.Now().Add(31 * 24 * time.Hour))
	if recs, _ := h.sends.ListByOccurrence(occ.ID); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	var calls int
	ok := NotifierFunc(func(ctx context.Context, r model.Reminder) error { calls++; return nil })
	bad := NotifierFunc(func(ctx context.Context, r model.Reminder) error { calls++; return errors.New("boom") })

	err := Fanout{bad, nil, ok}.Notify(context.Background(), model.Reminder{})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
