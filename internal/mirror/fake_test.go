package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/dukerupert/alwaysplan/internal/database"
	"github.com/dukerupert/alwaysplan/internal/gcal"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// fakeCalendar is an in-memory gcal.Calendar.
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	order   []string
	nextID  int
	listErr error

	// dropPrivate simulates a service that discards private properties.
	dropPrivate bool

	inserts, updates, deletes int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]*calendar.Event{}}
}

func (f *fakeCalendar) add(ev *calendar.Event) *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ev
	if cp.Id == "" {
		f.nextID++
		cp.Id = fmt.Sprintf("ev-%d", f.nextID)
	}
	if f.dropPrivate {
		cp.ExtendedProperties = nil
	}
	f.events[cp.Id] = &cp
	f.order = append(f.order, cp.Id)
	return &cp
}

func (f *fakeCalendar) get(id string) *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id]
}

func (f *fakeCalendar) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, id)
}

func (f *fakeCalendar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeCalendar) List(ctx context.Context, from, to time.Time) ([]*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*calendar.Event
	for _, id := range f.order {
		if ev, ok := f.events[id]; ok {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCalendar) Insert(ctx context.Context, ev *calendar.Event) (*calendar.Event, error) {
	f.mu.Lock()
	f.inserts++
	f.mu.Unlock()
	return f.add(ev), nil
}

func (f *fakeCalendar) Update(ctx context.Context, id string, ev *calendar.Event) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if _, ok := f.events[id]; !ok {
		return nil, fmt.Errorf("update event %s: %w", id, gcal.ErrNotFound)
	}
	cp := *ev
	cp.Id = id
	f.events[id] = &cp
	return &cp, nil
}

func (f *fakeCalendar) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if _, ok := f.events[id]; !ok {
		return fmt.Errorf("delete event %s: %w", id, gcal.ErrNotFound)
	}
	delete(f.events, id)
	return nil
}

type fakeProvider struct {
	cal gcal.Calendar
	err error
}

func (p *fakeProvider) ClientFor(ctx context.Context, userID int64) (gcal.Calendar, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.cal, nil
}

type env struct {
	db          *sql.DB
	occurrences *store.OccurrenceStore
	links       *store.SyncLinkStore
	settings    *store.SyncSettingsStore
	user        *model.User
	cal         *fakeCalendar
	provider    *fakeProvider
	mirror      *Mirror
}

func newEnv(t *testing.T, tz string) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	u, err := users.Create("a@example.com", "A", tz)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	e := &env{
		db:          db,
		occurrences: store.NewOccurrenceStore(db),
		links:       store.NewSyncLinkStore(db),
		settings:    store.NewSyncSettingsStore(db),
		user:        u,
		cal:         newFakeCalendar(),
	}
	e.provider = &fakeProvider{cal: e.cal}
	e.mirror = New(e.occurrences, e.links, e.settings, users, e.provider, Config{}, discardLogger())
	e.mirror.now = func() time.Time { return time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC) }
	return e
}

func (e *env) enableExport(t *testing.T) {
	t.Helper()
	if err := e.settings.SetExport(e.user.ID, true); err != nil {
		t.Fatalf("enable export: %v", err)
	}
}

func (e *env) enableImport(t *testing.T) {
	t.Helper()
	if err := e.settings.SetImport(e.user.ID, true); err != nil {
		t.Fatalf("enable import: %v", err)
	}
}

func (e *env) create(t *testing.T, o model.Occurrence) *model.Occurrence {
	t.Helper()
	o.UserID = e.user.ID
	if o.GroupID == "" {
		o.GroupID = "g-" + o.Title + o.Date.Format(model.DateLayout)
	}
	created, err := e.occurrences.Create(&o)
	if err != nil {
		t.Fatalf("create occurrence: %v", err)
	}
	return created
}

func (e *env) countOccurrences(t *testing.T) int {
	t.Helper()
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM occurrences WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		t.Fatalf("count occurrences: %v", err)
	}
	return n
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
