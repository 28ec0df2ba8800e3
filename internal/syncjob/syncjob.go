// Package syncjob runs periodic import and export passes for every user
// with a sync direction enabled.
package syncjob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/alwaysplan/internal/logging"
	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// Syncer runs the passes.
type Syncer interface {
	ImportAll(ctx context.Context, userID int64) mirror.Summary
	ExportAll(ctx context.Context, userID int64, persist bool) mirror.Summary
}

// Result totals one run over all users.
type Result struct {
	Users    int
	Imported mirror.Summary
	Exported mirror.Summary
}

type Job struct {
	spec     string
	settings *store.SyncSettingsStore
	syncer   Syncer
	logger   *slog.Logger
}

// New validates spec, a robfig/cron schedule such as "@every 15m" or
// "*/15 * * * *".
func New(spec string, settings *store.SyncSettingsStore, syncer Syncer, logger *slog.Logger) (*Job, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", spec, err)
	}
	return &Job{spec: spec, settings: settings, syncer: syncer, logger: logger}, nil
}

// RunOnce syncs every enabled user once: import first, then export.
func (j *Job) RunOnce(ctx context.Context) Result {
	var res Result
	enabled, err := j.settings.ListEnabled()
	if err != nil {
		j.logger.Error("list sync settings", "error", err)
		return res
	}

	for _, st := range enabled {
		if ctx.Err() != nil {
			break
		}
		res.Users++
		if st.ImportEnabled {
			add(&res.Imported, j.syncer.ImportAll(ctx, st.UserID))
		}
		if st.ExportEnabled {
			add(&res.Exported, j.syncer.ExportAll(ctx, st.UserID, false))
		}
	}
	j.logger.Info("sync run complete", "users", res.Users,
		"imported", res.Imported.Imported, "exported", res.Exported.Created+res.Exported.Matched+res.Exported.Updated,
		"failed", res.Imported.Failed+res.Exported.Failed)
	return res
}

func add(dst *mirror.Summary, s mirror.Summary) {
	dst.Created += s.Created
	dst.Matched += s.Matched
	dst.Updated += s.Updated
	dst.Failed += s.Failed
	dst.Imported += s.Imported
	dst.Skipped += s.Skipped
	dst.Removed += s.Removed
}

// Run schedules RunOnce and blocks until ctx is done. A run still in
// progress when the next one is due is not overlapped, and Run waits for
// it before returning.
func (j *Job) Run(ctx context.Context) error {
	cl := logging.Cron(j.logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(j.spec, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sync job: %w", err)
	}
	c.Start()
	j.logger.Info("sync job started", "schedule", j.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("sync job stopped")
	return nil
}
