// Package mirror keeps a user's occurrences and their external calendar in
// step without creating duplicates on either side.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/dukerupert/alwaysplan/internal/gcal"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/origin"
	"github.com/dukerupert/alwaysplan/internal/recurrence"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// Provider resolves the external calendar of a user.
type Provider interface {
	ClientFor(ctx context.Context, userID int64) (gcal.Calendar, error)
}

// Outcome is the result of exporting a single occurrence.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeMatched
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeMatched:
		return "matched"
	case OutcomeUpdated:
		return "updated"
	}
	return "skipped"
}

// Summary counts what a pass did. Per-item failures are counted, never
// returned.
type Summary struct {
	Created  int `json:"created"`
	Matched  int `json:"matched"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Removed  int `json:"removed"`
}

func (s *Summary) count(o Outcome) {
	switch o {
	case OutcomeCreated:
		s.Created++
	case OutcomeMatched:
		s.Matched++
	case OutcomeUpdated:
		s.Updated++
	default:
		s.Skipped++
	}
}

// Config tunes the mirror.
type Config struct {
	// ImportPast and ImportFuture bound the import window around now.
	ImportPast   time.Duration
	ImportFuture time.Duration

	// Location is used for users without a valid timezone.
	Location *time.Location
}

type Mirror struct {
	occurrences *store.OccurrenceStore
	links       *store.SyncLinkStore
	settings    *store.SyncSettingsStore
	users       *store.UserStore
	provider    Provider
	codec       origin.Codec
	cfg         Config
	locks       userLocks
	now         func() time.Time
	logger      *slog.Logger
}

func New(occurrences *store.OccurrenceStore, links *store.SyncLinkStore, settings *store.SyncSettingsStore,
	users *store.UserStore, provider Provider, cfg Config, logger *slog.Logger) *Mirror {
	if cfg.ImportPast == 0 {
		cfg.ImportPast = 30 * 24 * time.Hour
	}
	if cfg.ImportFuture == 0 {
		cfg.ImportFuture = 365 * 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Mirror{
		occurrences: occurrences,
		links:       links,
		settings:    settings,
		users:       users,
		provider:    provider,
		codec:       origin.Default,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// pass is the state of one sync run for one user.
type pass struct {
	userID int64
	cal    gcal.Calendar
	loc    *time.Location
	bulk   bool

	// from and to bound the candidate listing; zero means the window of
	// the first occurrence that needs it.
	from, to time.Time

	// candidates holds unlinked external events by fingerprint, in listing
	// order. Claimed events are removed.
	candidates map[string][]string
	loaded     bool
	listErr    error
}

// cover widens the candidate window to include occ.
func (p *pass) cover(occ *model.Occurrence) {
	from, to := occurrenceWindow(occ)
	if p.from.IsZero() || from.Before(p.from) {
		p.from = from
	}
	if p.to.IsZero() || to.After(p.to) {
		p.to = to
	}
}

// load lists the external events of the pass window and indexes the
// unlinked ones. Later calls are no-ops.
func (m *Mirror) load(ctx context.Context, p *pass) {
	if p.loaded {
		return
	}
	p.loaded = true
	p.candidates = map[string][]string{}

	events, err := p.cal.List(ctx, p.from, p.to)
	if err != nil {
		p.listErr = err
		return
	}
	for _, ev := range events {
		if ev.Status == "cancelled" || ev.Id == "" {
			continue
		}
		linked, err := m.links.GetByExternalID(p.userID, ev.Id)
		if err != nil {
			p.listErr = err
			return
		}
		if linked != nil {
			continue
		}
		key, ok := EventFingerprint(ev, p.loc)
		if !ok {
			continue
		}
		p.candidates[key] = append(p.candidates[key], ev.Id)
	}
}

// claim returns the first unclaimed event with the given fingerprint.
func (p *pass) claim(key string) (string, bool) {
	ids := p.candidates[key]
	if len(ids) == 0 {
		return "", false
	}
	p.candidates[key] = ids[1:]
	return ids[0], true
}

func (m *Mirror) location(userID int64) *time.Location {
	u, err := m.users.GetByID(userID)
	if err != nil || u == nil {
		return m.cfg.Location
	}
	return u.Location(m.cfg.Location)
}

// exportPass opens a pass when export may run for the user. requireEnabled
// is false for explicit bulk commands.
func (m *Mirror) exportPass(ctx context.Context, userID int64, requireEnabled, bulk bool) (*pass, error) {
	if requireEnabled {
		st, err := m.settings.Get(userID)
		if err != nil {
			return nil, err
		}
		if !st.ExportEnabled {
			return nil, nil
		}
	}
	cal, err := m.provider.ClientFor(ctx, userID)
	if errors.Is(err, gcal.ErrNotConnected) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pass{userID: userID, cal: cal, loc: m.location(userID), bulk: bulk}, nil
}

// Export mirrors a single occurrence in real time. Resulting links are not
// bulk-persisted. It is a no-op when export is off, no calendar is
// connected, or the occurrence was imported.
func (m *Mirror) Export(ctx context.Context, occ *model.Occurrence) (Outcome, error) {
	if occ == nil || occ.Origin == model.OriginExternal || occ.DeletedAt != nil {
		return OutcomeSkipped, nil
	}
	unlock := m.locks.lock(occ.UserID)
	defer unlock()

	p, err := m.exportPass(ctx, occ.UserID, true, false)
	if err != nil || p == nil {
		return OutcomeSkipped, err
	}
	return m.exportOne(ctx, p, occ)
}

// ExportMany mirrors several occurrences of one user in a single pass, the
// way Export does for one.
func (m *Mirror) ExportMany(ctx context.Context, userID int64, occs []model.Occurrence) Summary {
	var sum Summary
	if len(occs) == 0 {
		return sum
	}
	unlock := m.locks.lock(userID)
	defer unlock()

	p, err := m.exportPass(ctx, userID, true, false)
	if err != nil {
		m.logger.Error("export pass", "user_id", userID, "error", err)
		sum.Failed = len(occs)
		return sum
	}
	if p == nil {
		sum.Skipped = len(occs)
		return sum
	}
	m.exportList(ctx, p, occs, &sum)
	return sum
}

// ExportAll mirrors every live, locally created occurrence of a user. With
// persist set it is the explicit "sync and persist" command: it runs even
// when export is off and marks every resulting link bulk-persisted.
func (m *Mirror) ExportAll(ctx context.Context, userID int64, persist bool) Summary {
	var sum Summary
	unlock := m.locks.lock(userID)
	defer unlock()

	p, err := m.exportPass(ctx, userID, !persist, persist)
	if err != nil {
		m.logger.Error("export pass", "user_id", userID, "error", err)
		sum.Failed++
		return sum
	}
	if p == nil {
		return sum
	}
	occs, err := m.occurrences.ListExportable(userID)
	if err != nil {
		m.logger.Error("list exportable occurrences", "user_id", userID, "error", err)
		sum.Failed++
		return sum
	}
	m.exportList(ctx, p, occs, &sum)
	m.logger.Info("export pass complete", "user_id", userID, "persist", persist,
		"created", sum.Created, "matched", sum.Matched, "updated", sum.Updated, "failed", sum.Failed)
	return sum
}

func (m *Mirror) exportList(ctx context.Context, p *pass, occs []model.Occurrence, sum *Summary) {
	for i := range occs {
		p.cover(&occs[i])
	}
	for i := range occs {
		if ctx.Err() != nil {
			sum.Failed += len(occs) - i
			return
		}
		out, err := m.exportOne(ctx, p, &occs[i])
		if err != nil {
			m.logger.Warn("export occurrence", "user_id", p.userID, "occurrence_id", occs[i].ID, "error", err)
			sum.Failed++
			continue
		}
		sum.count(out)
	}
}

// exportOne runs the export state machine for one occurrence: update a
// linked event, else claim a matching unlinked event, else create one.
func (m *Mirror) exportOne(ctx context.Context, p *pass, occ *model.Occurrence) (Outcome, error) {
	if occ.Origin == model.OriginExternal {
		return OutcomeSkipped, nil
	}
	key := store.OccurrenceFingerprint(occ)
	ev := ToEvent(occ, p.loc)
	m.codec.Stamp(ev, origin.Tag{OccurrenceID: occ.ID})

	link, err := m.links.GetByOccurrence(occ.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if link != nil {
		_, err := p.cal.Update(ctx, link.ExternalEventID, ev)
		switch {
		case err == nil:
			if err := m.links.Touch(occ.ID, key, p.bulk); err != nil {
				return OutcomeSkipped, err
			}
			return OutcomeUpdated, nil
		case errors.Is(err, gcal.ErrNotFound):
			m.logger.Info("linked event gone, relinking", "occurrence_id", occ.ID, "event_id", link.ExternalEventID)
			if err := m.links.Unlink(occ.ID); err != nil {
				return OutcomeSkipped, err
			}
		default:
			return OutcomeSkipped, err
		}
	}

	p.cover(occ)
	m.load(ctx, p)
	if p.listErr != nil {
		return OutcomeSkipped, fmt.Errorf("list candidate events: %w", p.listErr)
	}
	if id, ok := p.claim(key); ok {
		_, err := m.links.Link(model.SyncLink{
			OccurrenceID:    occ.ID,
			UserID:          occ.UserID,
			ExternalEventID: id,
			Fingerprint:     key,
			BulkPersisted:   p.bulk,
			Origin:          model.OriginLocal,
		})
		if err == nil {
			return OutcomeMatched, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return OutcomeSkipped, err
		}
	}

	created, err := p.cal.Insert(ctx, ev)
	if err != nil {
		return OutcomeSkipped, err
	}
	if _, err := m.links.Link(model.SyncLink{
		OccurrenceID:    occ.ID,
		UserID:          occ.UserID,
		ExternalEventID: created.Id,
		Fingerprint:     key,
		BulkPersisted:   p.bulk,
		Origin:          model.OriginLocal,
	}); err != nil {
		return OutcomeSkipped, fmt.Errorf("link created event %s: %w", created.Id, err)
	}
	return OutcomeCreated, nil
}

// occurrenceWindow is a listing range that contains every external event
// whose fingerprint could equal the occurrence's, whatever the zone offset.
func occurrenceWindow(occ *model.Occurrence) (time.Time, time.Time) {
	from := occ.Date.AddDate(0, 0, -1)
	to := occ.Date.AddDate(0, 0, 2)
	if occ.EndDate != nil {
		to = occ.EndDate.AddDate(0, 0, 2)
	}
	return from, to
}

// ImportAll pulls external events in the import window into local
// occurrences.
func (m *Mirror) ImportAll(ctx context.Context, userID int64) Summary {
	var sum Summary
	unlock := m.locks.lock(userID)
	defer unlock()

	st, err := m.settings.Get(userID)
	if err != nil {
		m.logger.Error("load sync settings", "user_id", userID, "error", err)
		sum.Failed++
		return sum
	}
	if !st.ImportEnabled {
		return sum
	}
	cal, err := m.provider.ClientFor(ctx, userID)
	if errors.Is(err, gcal.ErrNotConnected) {
		return sum
	}
	if err != nil {
		m.logger.Error("calendar client", "user_id", userID, "error", err)
		sum.Failed++
		return sum
	}

	now := m.now()
	events, err := cal.List(ctx, now.Add(-m.cfg.ImportPast), now.Add(m.cfg.ImportFuture))
	if err != nil {
		m.logger.Error("list external events", "user_id", userID, "error", err)
		sum.Failed++
		return sum
	}

	loc := m.location(userID)
	from := now.Add(-m.cfg.ImportPast).In(loc)
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		imported, err := m.importOne(userID, ev, loc, from)
		switch {
		case err != nil:
			m.logger.Warn("import event", "user_id", userID, "event_id", ev.Id, "error", err)
			sum.Failed++
		case imported:
			sum.Imported++
		default:
			sum.Skipped++
		}
	}
	m.logger.Info("import pass complete", "user_id", userID,
		"imported", sum.Imported, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum
}

func (m *Mirror) importOne(userID int64, ev *calendar.Event, loc *time.Location, from time.Time) (bool, error) {
	if ev.Status == "cancelled" || ev.Id == "" {
		return false, nil
	}

	link, err := m.links.GetByExternalID(userID, ev.Id)
	if err != nil {
		return false, err
	}
	if link != nil {
		return false, m.revealLinked(link)
	}
	if _, echo := m.codec.Read(ev); echo {
		return false, nil
	}

	occ, err := FromEvent(ev, loc)
	if err != nil {
		return false, err
	}
	occ.UserID = userID
	occ.GroupID = uuid.NewString()
	occ.Origin = model.OriginExternal
	if occ.RepeatType != model.RepeatNone {
		resume(occ, ev.Recurrence, from)
	}

	w, err := m.occurrences.ReplaceGroup(occ, recurrence.Materialize(occ))
	if err != nil {
		return false, err
	}
	_, err = m.links.Link(model.SyncLink{
		OccurrenceID:    w.Base.ID,
		UserID:          userID,
		ExternalEventID: ev.Id,
		Fingerprint:     store.OccurrenceFingerprint(w.Base),
		Origin:          model.OriginExternal,
	})
	if err != nil {
		if _, rerr := m.occurrences.SoftDeleteGroup(occ.GroupID); rerr != nil {
			m.logger.Error("roll back unlinked import", "group_id", occ.GroupID, "error", rerr)
		}
		return false, fmt.Errorf("link imported event: %w", err)
	}
	return true, nil
}

// resume moves the base of a series that started before the import window
// to its first instance inside the window, so the materialised siblings
// cover the window instead of the series' first year.
func resume(occ *model.Occurrence, lines []string, from time.Time) {
	y, mo, d := from.Date()
	next, skipped, ok := recurrence.Resume(lines, occ.Date, time.Date(y, mo, d, 0, 0, 0, 0, time.UTC))
	if !ok {
		return
	}
	if occ.EndDate != nil {
		end := next.Add(occ.EndDate.Sub(occ.Date))
		occ.EndDate = &end
	}
	occ.Date = next
	if occ.RepeatCount > 0 {
		occ.RepeatCount = max(occ.RepeatCount-skipped, 1)
	}
}

// revealLinked un-hides an imported group hidden by an earlier import
// disable.
func (m *Mirror) revealLinked(link *model.SyncLink) error {
	occ, err := m.occurrences.GetByID(link.OccurrenceID)
	if err != nil || occ == nil || !occ.Hidden {
		return err
	}
	_, err = m.occurrences.UnhideGroup(occ.GroupID)
	return err
}

// Purge deletes the external events of every link that is local and not
// bulk-persisted, and removes those links. Other links are untouched.
func (m *Mirror) Purge(ctx context.Context, userID int64) Summary {
	var sum Summary
	unlock := m.locks.lock(userID)
	defer unlock()

	links, err := m.links.ListPurgeable(userID)
	if err != nil {
		m.logger.Error("list purgeable links", "user_id", userID, "error", err)
		sum.Failed++
		return sum
	}
	if len(links) == 0 {
		return sum
	}
	cal, err := m.provider.ClientFor(ctx, userID)
	if err != nil {
		m.logger.Error("calendar client", "user_id", userID, "error", err)
		sum.Failed += len(links)
		return sum
	}

	for _, l := range links {
		if err := cal.Delete(ctx, l.ExternalEventID); err != nil && !errors.Is(err, gcal.ErrNotFound) {
			m.logger.Warn("delete external event", "user_id", userID, "event_id", l.ExternalEventID, "error", err)
			sum.Failed++
			continue
		}
		if err := m.links.Unlink(l.OccurrenceID); err != nil {
			sum.Failed++
			continue
		}
		sum.Removed++
	}
	m.logger.Info("purge complete", "user_id", userID, "removed", sum.Removed, "failed", sum.Failed)
	return sum
}

// Remove handles the local deletion of an occurrence. A locally originated
// link has its external event deleted while export is on, and is dropped.
// Links of imported occurrences are kept so the event is not imported again.
func (m *Mirror) Remove(ctx context.Context, occ *model.Occurrence) error {
	unlock := m.locks.lock(occ.UserID)
	defer unlock()

	link, err := m.links.GetByOccurrence(occ.ID)
	if err != nil || link == nil {
		return err
	}
	if link.Origin == model.OriginExternal {
		return nil
	}

	st, err := m.settings.Get(occ.UserID)
	if err != nil {
		return err
	}
	if st.ExportEnabled {
		cal, err := m.provider.ClientFor(ctx, occ.UserID)
		if err != nil && !errors.Is(err, gcal.ErrNotConnected) {
			return err
		}
		if cal != nil {
			if err := cal.Delete(ctx, link.ExternalEventID); err != nil && !errors.Is(err, gcal.ErrNotFound) {
				return err
			}
		}
	}
	return m.links.Unlink(occ.ID)
}
