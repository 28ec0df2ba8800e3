package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/gcal"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/websocket"
)

// Connector runs the calendar consent flow. gcal.Connector satisfies it.
type Connector interface {
	AuthURL(userID int64) string
	Complete(ctx context.Context, state, code string) (int64, error)
	Disconnect(userID int64) error
}

// CredentialReader reports whether a calendar is linked.
// store.CredentialStore satisfies it.
type CredentialReader interface {
	Get(userID int64) (*model.CalendarCredential, error)
}

type OAuthHandler struct {
	connector Connector
	creds     CredentialReader
	pub       Publisher
	baseURL   string
	logger    *slog.Logger
}

func NewOAuthHandler(c Connector, creds CredentialReader, pub Publisher, baseURL string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{connector: c, creds: creds, pub: pub, baseURL: baseURL, logger: logger}
}

// Start handles GET /oauth/google/start
func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.connector.AuthURL(auth.UserID(r.Context())), http.StatusFound)
}

// Callback handles GET /oauth/google/callback. The state parameter
// identifies the user, so the route is not behind authentication.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.logger.Warn("oauth consent denied", "error", e)
		http.Redirect(w, r, h.baseURL+"/?calendar=denied", http.StatusSeeOther)
		return
	}

	userID, err := h.connector.Complete(r.Context(), q.Get("state"), q.Get("code"))
	if errors.Is(err, gcal.ErrInvalidState) {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	if err != nil {
		h.logger.Error("complete oauth", "error", err)
		writeError(w, http.StatusBadGateway, "failed to connect calendar")
		return
	}

	h.logger.Info("calendar connected", "user_id", userID)
	publish(h.pub, userID, websocket.NewMessage("calendar", "connected", 0, nil))
	http.Redirect(w, r, h.baseURL+"/?calendar=connected", http.StatusSeeOther)
}

// Status handles GET /api/calendar/connection
func (h *OAuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	cred, err := h.creds.Get(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get calendar credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get connection")
		return
	}
	resp := map[string]any{"connected": cred != nil}
	if cred != nil {
		resp["calendar_id"] = cred.CalendarID
		resp["connected_at"] = cred.CreatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Disconnect handles DELETE /api/calendar/connection
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.connector.Disconnect(userID); err != nil {
		h.logger.Error("disconnect calendar", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect calendar")
		return
	}
	publish(h.pub, userID, websocket.NewMessage("calendar", "disconnected", 0, nil))
	w.WriteHeader(http.StatusNoContent)
}
