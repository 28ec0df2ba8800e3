// Package reminder dispatches occurrence reminders at most once each.
package reminder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// Config tunes the scheduler. Zero values take the defaults.
type Config struct {
	// Interval between ticks. It is also the due tolerance.
	Interval time.Duration
	// Lookahead bounds how far ahead occurrence dates are scanned. It is
	// never shorter than model.MaxReminderOffset plus a day.
	Lookahead time.Duration
	// Retention is how long send records are kept.
	Retention time.Duration
	// CleanupInterval is how often expired send records are removed.
	CleanupInterval time.Duration
	// DeliveryTimeout bounds a single notifier call.
	DeliveryTimeout time.Duration
	// Location is used for users without a valid timezone.
	Location *time.Location
}

const lookBehind = 8 * 24 * time.Hour

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 35 * 24 * time.Hour
	}
	if floor := model.MaxReminderOffset + 24*time.Hour; c.Lookahead < floor {
		c.Lookahead = floor
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 30 * time.Second
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// TickResult reports what a tick did.
type TickResult struct {
	// Skipped is set when another tick was still running.
	Skipped    bool
	Due        int
	Sent       int
	Duplicates int
	Failed     int
}

// Scheduler periodically checks for due reminders.
type Scheduler struct {
	mu          sync.RWMutex
	occurrences *store.OccurrenceStore
	sends       *store.SendLogStore
	notifier    Notifier
	cfg         Config
	running     atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(occurrences *store.OccurrenceStore, sends *store.SendLogStore, notifier Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.normalize()
	return &Scheduler{
		occurrences: occurrences,
		sends:       sends,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// Start begins the scheduler loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		cleanup := time.NewTicker(s.cfg.CleanupInterval)
		defer cleanup.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx, s.now())
			case <-cleanup.C:
				s.Cleanup(s.now())
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick dispatches every reminder due at now. An overlapping call returns
// at once with Skipped set. Cancellation is checked between occurrences.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	var res TickResult
	if !s.running.CompareAndSwap(false, true) {
		res.Skipped = true
		return res
	}
	defer s.running.Store(false)

	candidates, err := s.occurrences.ListReminderCandidates(
		model.DayOf(now.Add(-lookBehind)),
		model.DayOf(now.Add(s.cfg.Lookahead)).AddDate(0, 0, 1),
	)
	if err != nil {
		s.logger.Error("list reminder candidates", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		s.dispatch(ctx, now, &candidates[i], &res)
	}
	if res.Sent > 0 || res.Failed > 0 {
		s.logger.Info("reminder tick", "due", res.Due, "sent", res.Sent,
			"duplicates", res.Duplicates, "failed", res.Failed)
	}
	return res
}

func (s *Scheduler) dispatch(ctx context.Context, now time.Time, c *model.ReminderCandidate, res *TickResult) {
	occ := &c.Occurrence
	loc := model.LoadLocation(c.Timezone, s.cfg.Location)
	start := occ.StartIn(loc)

	for _, off := range occ.Reminders {
		scheduled := off.Before(start)
		if delta := now.Sub(scheduled); delta < -s.cfg.Interval || delta > s.cfg.Interval {
			continue
		}
		res.Due++

		inserted, err := s.sends.TryRecord(model.NotificationSend{
			OccurrenceID:  occ.ID,
			OffsetMinutes: off.Minutes(),
			ScheduledAt:   scheduled,
			Bucket:        store.Bucket(scheduled, s.cfg.Interval),
		})
		if err != nil {
			s.logger.Error("record reminder", "occurrence_id", occ.ID, "error", err)
			res.Failed++
			continue
		}
		if !inserted {
			res.Duplicates++
			continue
		}

		r := model.Reminder{
			UserID:       occ.UserID,
			Email:        c.Email,
			Name:         c.Name,
			OccurrenceID: occ.ID,
			Title:        occ.Title,
			Offset:       off,
			StartsAt:     start,
			AllDay:       occ.IsAllDay(),
		}
		// Delivery outlives a stop request; the record is already written.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
		err = s.notifier.Notify(dctx, r)
		cancel()
		if err != nil {
			s.logger.Warn("deliver reminder", "occurrence_id", occ.ID, "offset", off.String(), "error", err)
			res.Failed++
			continue
		}
		res.Sent++
	}
}

// Cleanup removes send records older than the retention.
func (s *Scheduler) Cleanup(now time.Time) {
	n, err := s.sends.CleanupBefore(now.Add(-s.cfg.Retention))
	if err != nil {
		s.logger.Error("cleanup send records", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("cleaned up send records", "removed", n)
	}
}
