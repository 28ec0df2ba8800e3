package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// ReminderNotifier delivers a reminder. push.Notifier satisfies it.
type ReminderNotifier interface {
	Notify(ctx context.Context, r model.Reminder) error
}

type PushHandler struct {
	pushStore *store.PushStore
	notifier  ReminderNotifier
	publicKey string
	now       func() time.Time
	logger    *slog.Logger
}

// NewPushHandler manages subscriptions. notifier may be nil, in which case
// TestNotification reports the feature as unavailable.
func NewPushHandler(ps *store.PushStore, notifier ReminderNotifier, vapidPublicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, notifier: notifier, publicKey: vapidPublicKey, now: time.Now, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscriptions
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}

	sub, err := h.pushStore.CreateSubscription(userID, req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.pushStore.DeleteSubscription(id, userID); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}

// TestNotification handles POST /api/push/test. It goes through the same
// notifier as reminders, so expired subscriptions are pruned here too.
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "push delivery is not configured")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	reminder := model.Reminder{
		UserID:   ac.UserID,
		Email:    ac.Email,
		Title:    "Test notification",
		StartsAt: h.now().In(auth.Location(r.Context(), time.UTC)),
		AllDay:   true,
	}
	if err := h.notifier.Notify(r.Context(), reminder); err != nil {
		h.logger.Warn("test push failed", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusBadGateway, "push delivery failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
