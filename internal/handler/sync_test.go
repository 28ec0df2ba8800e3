package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/toggle"
)

type fakeSyncer struct {
	exports []bool
	imports int
}

func (f *fakeSyncer) ExportAll(ctx context.Context, userID int64, persist bool) mirror.Summary {
	f.exports = append(f.exports, persist)
	return mirror.Summary{Created: 2, Matched: 1}
}

func (f *fakeSyncer) Purge(ctx context.Context, userID int64) mirror.Summary {
	return mirror.Summary{Removed: 4}
}

func (f *fakeSyncer) ImportAll(ctx context.Context, userID int64) mirror.Summary {
	f.imports++
	return mirror.Summary{Imported: 3, Skipped: 1}
}

func newSyncHandler(env *testEnv, syncer *fakeSyncer) *SyncHandler {
	machine := toggle.New(env.settings, env.occurrences, syncer, discardLogger())
	return NewSyncHandler(syncer, machine, env.settings, env.pub, discardLogger())
}

func TestSyncSettingsDefaultOff(t *testing.T) {
	env := setupEnv(t)
	h := newSyncHandler(env, &fakeSyncer{})

	rec := httptest.NewRecorder()
	h.GetSettings(rec, request("GET", "/api/sync/settings", env.user, nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[model.SyncSettings](t, rec)
	if got.ImportEnabled || got.ExportEnabled {
		t.Errorf("settings = %+v, want both off", got)
	}
}

func TestSyncUpdateSettingsRunsTransitions(t *testing.T) {
	env := setupEnv(t)
	syncer := &fakeSyncer{}
	h := newSyncHandler(env, syncer)

	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, request("PUT", "/api/sync/settings", env.user, map[string]bool{"export_enabled": true}, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[settingsResponse](t, rec)
	if !resp.Settings.ExportEnabled || resp.Settings.ImportEnabled {
		t.Errorf("settings = %+v", resp.Settings)
	}
	if resp.Export == nil || !resp.Export.Changed || resp.Export.Sync.Created != 2 {
		t.Errorf("export result = %+v", resp.Export)
	}
	if resp.Import != nil {
		t.Errorf("import should not run, got %+v", resp.Import)
	}
	if len(syncer.exports) != 1 || syncer.exports[0] {
		t.Errorf("exports = %v, want one non-persisting pass", syncer.exports)
	}
	if types := env.pub.types(); len(types) != 1 || types[0] != "sync_settings_updated" {
		t.Errorf("published %v", types)
	}

	rec = httptest.NewRecorder()
	h.UpdateSettings(rec, request("PUT", "/api/sync/settings", env.user, map[string]bool{"export_enabled": false, "import_enabled": false}, ""))
	resp = decode[settingsResponse](t, rec)
	if resp.Export == nil || resp.Export.Sync.Removed != 4 {
		t.Errorf("disable export = %+v", resp.Export)
	}
	if resp.Import == nil || resp.Import.Changed {
		t.Errorf("import already off should be unchanged, got %+v", resp.Import)
	}
}

func TestSyncUpdateSettingsRequiresAFlag(t *testing.T) {
	env := setupEnv(t)
	h := newSyncHandler(env, &fakeSyncer{})

	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, request("PUT", "/api/sync/settings", env.user, map[string]any{}, ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSyncManualPasses(t *testing.T) {
	env := setupEnv(t)
	syncer := &fakeSyncer{}
	h := newSyncHandler(env, syncer)

	rec := httptest.NewRecorder()
	h.Export(rec, request("POST", "/api/sync/export", env.user, nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if len(syncer.exports) != 1 || !syncer.exports[0] {
		t.Errorf("manual export should persist links, got %v", syncer.exports)
	}

	rec = httptest.NewRecorder()
	h.Import(rec, request("POST", "/api/sync/import", env.user, nil, ""))
	if got := decode[mirror.Summary](t, rec); got.Imported != 3 {
		t.Errorf("import summary = %+v", got)
	}
	if syncer.imports != 1 {
		t.Errorf("imports = %d", syncer.imports)
	}
	types := env.pub.types()
	if len(types) != 2 || types[0] != "sync_exported" || types[1] != "sync_imported" {
		t.Errorf("published %v", types)
	}
}
