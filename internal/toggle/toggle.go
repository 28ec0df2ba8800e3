// Package toggle applies the side effects of turning calendar import and
// export on or off.
package toggle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// Mirror is the part of mirror.Mirror a transition drives.
type Mirror interface {
	ExportAll(ctx context.Context, userID int64, persist bool) mirror.Summary
	Purge(ctx context.Context, userID int64) mirror.Summary
}

// Result describes what a toggle command did.
type Result struct {
	Enabled bool           `json:"enabled"`
	Changed bool           `json:"changed"`
	Sync    mirror.Summary `json:"sync"`
	Hidden  int64          `json:"hidden"`
}

type Machine struct {
	settings    *store.SyncSettingsStore
	occurrences *store.OccurrenceStore
	mirror      Mirror
	logger      *slog.Logger
}

func New(settings *store.SyncSettingsStore, occurrences *store.OccurrenceStore, m Mirror, logger *slog.Logger) *Machine {
	return &Machine{settings: settings, occurrences: occurrences, mirror: m, logger: logger}
}

// SetExport persists the export flag. Enabling exports every local
// occurrence; disabling purges the events of links that were not
// bulk-persisted.
func (m *Machine) SetExport(ctx context.Context, userID int64, enabled bool) (Result, error) {
	res := Result{Enabled: enabled}
	cur, err := m.settings.Get(userID)
	if err != nil {
		return res, fmt.Errorf("get sync settings: %w", err)
	}
	if cur.ExportEnabled == enabled {
		return res, nil
	}
	if err := m.settings.SetExport(userID, enabled); err != nil {
		return res, fmt.Errorf("set export: %w", err)
	}
	res.Changed = true

	if enabled {
		res.Sync = m.mirror.ExportAll(ctx, userID, false)
	} else {
		res.Sync = m.mirror.Purge(ctx, userID)
	}
	m.logger.Info("export toggled", "user_id", userID, "enabled", enabled,
		"created", res.Sync.Created, "matched", res.Sync.Matched, "removed", res.Sync.Removed, "failed", res.Sync.Failed)
	return res, nil
}

// SetImport persists the import flag. Disabling hides every imported
// occurrence and leaves the external calendar alone. Enabling does nothing
// retroactively; the next import pass picks events up.
func (m *Machine) SetImport(ctx context.Context, userID int64, enabled bool) (Result, error) {
	res := Result{Enabled: enabled}
	cur, err := m.settings.Get(userID)
	if err != nil {
		return res, fmt.Errorf("get sync settings: %w", err)
	}
	if cur.ImportEnabled == enabled {
		return res, nil
	}
	if err := m.settings.SetImport(userID, enabled); err != nil {
		return res, fmt.Errorf("set import: %w", err)
	}
	res.Changed = true

	if !enabled {
		n, err := m.occurrences.HideByOrigin(userID, model.OriginExternal)
		if err != nil {
			return res, fmt.Errorf("hide imported occurrences: %w", err)
		}
		res.Hidden = n
	}
	m.logger.Info("import toggled", "user_id", userID, "enabled", enabled, "hidden", res.Hidden)
	return res, nil
}
