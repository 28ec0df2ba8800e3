package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/toggle"
	"github.com/dukerupert/alwaysplan/internal/websocket"
)

// Syncer runs on-demand mirror passes. mirror.Mirror satisfies it.
type Syncer interface {
	ExportAll(ctx context.Context, userID int64, persist bool) mirror.Summary
	ImportAll(ctx context.Context, userID int64) mirror.Summary
}

// Toggler applies import and export flag transitions. toggle.Machine
// satisfies it.
type Toggler interface {
	SetExport(ctx context.Context, userID int64, enabled bool) (toggle.Result, error)
	SetImport(ctx context.Context, userID int64, enabled bool) (toggle.Result, error)
}

// SettingsReader reads the stored toggles. store.SyncSettingsStore satisfies it.
type SettingsReader interface {
	Get(userID int64) (*model.SyncSettings, error)
}

type SyncHandler struct {
	syncer   Syncer
	toggles  Toggler
	settings SettingsReader
	pub      Publisher
	logger   *slog.Logger
}

func NewSyncHandler(syncer Syncer, toggles Toggler, settings SettingsReader, pub Publisher, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, toggles: toggles, settings: settings, pub: pub, logger: logger}
}

// GetSettings handles GET /api/sync/settings
func (h *SyncHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	s, err := h.settings.Get(userID)
	if err != nil {
		h.logger.Error("get sync settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get sync settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type settingsRequest struct {
	ImportEnabled *bool `json:"import_enabled"`
	ExportEnabled *bool `json:"export_enabled"`
}

type settingsResponse struct {
	Settings *model.SyncSettings `json:"settings"`
	Import   *toggle.Result      `json:"import,omitempty"`
	Export   *toggle.Result      `json:"export,omitempty"`
}

// UpdateSettings handles PUT /api/sync/settings. Each flag present in the
// body runs its transition; absent flags are left alone.
func (h *SyncHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ImportEnabled == nil && req.ExportEnabled == nil {
		writeError(w, http.StatusBadRequest, "import_enabled or export_enabled is required")
		return
	}

	var resp settingsResponse
	if req.ImportEnabled != nil {
		res, err := h.toggles.SetImport(r.Context(), userID, *req.ImportEnabled)
		if err != nil {
			h.logger.Error("set import", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update import setting")
			return
		}
		resp.Import = &res
	}
	if req.ExportEnabled != nil {
		res, err := h.toggles.SetExport(r.Context(), userID, *req.ExportEnabled)
		if err != nil {
			h.logger.Error("set export", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update export setting")
			return
		}
		resp.Export = &res
	}

	s, err := h.settings.Get(userID)
	if err != nil {
		h.logger.Error("get sync settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get sync settings")
		return
	}
	resp.Settings = s

	publish(h.pub, userID, websocket.NewMessage("sync_settings", "updated", 0, map[string]any{
		"import_enabled": s.ImportEnabled,
		"export_enabled": s.ExportEnabled,
	}))
	writeJSON(w, http.StatusOK, resp)
}

// Export handles POST /api/sync/export. It mirrors every local occurrence
// and marks the links bulk-persisted, so a later export disable keeps them.
func (h *SyncHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	sum := h.syncer.ExportAll(r.Context(), userID, true)
	h.logger.Info("bulk export", "user_id", userID, "created", sum.Created, "updated", sum.Updated, "failed", sum.Failed)

	publish(h.pub, userID, websocket.NewMessage("sync", "exported", 0, map[string]any{"failed": sum.Failed}))
	writeJSON(w, http.StatusOK, sum)
}

// Import handles POST /api/sync/import
func (h *SyncHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	sum := h.syncer.ImportAll(r.Context(), userID)
	h.logger.Info("manual import", "user_id", userID, "imported", sum.Imported, "failed", sum.Failed)

	if sum.Imported > 0 {
		publish(h.pub, userID, websocket.NewMessage("sync", "imported", 0, map[string]any{"imported": sum.Imported}))
	}
	writeJSON(w, http.StatusOK, sum)
}
