package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/planner"
	"github.com/dukerupert/alwaysplan/internal/store"
	"github.com/dukerupert/alwaysplan/internal/websocket"
)

// Planner is the write path for occurrences. planner.Service satisfies it.
type Planner interface {
	Create(ctx context.Context, userID int64, in planner.Input) (*store.GroupWrite, error)
	Get(userID, id int64) (*model.Occurrence, error)
	Update(ctx context.Context, userID, id int64, in planner.Input, scope planner.Scope) (*store.GroupWrite, error)
	Delete(ctx context.Context, userID, id int64, scope planner.Scope) ([]model.Occurrence, error)
	SetStatus(ctx context.Context, userID, id int64, status model.Status) (*model.Occurrence, error)
}

// OccurrenceLister reads a user's calendar. store.OccurrenceStore satisfies it.
type OccurrenceLister interface {
	ListByRange(userID int64, from, to time.Time) ([]model.Occurrence, error)
}

type OccurrenceHandler struct {
	planner     Planner
	occurrences OccurrenceLister
	pub         Publisher
	now         func() time.Time
	loc         *time.Location
	logger      *slog.Logger
}

func NewOccurrenceHandler(p Planner, occurrences OccurrenceLister, pub Publisher, loc *time.Location, logger *slog.Logger) *OccurrenceHandler {
	return &OccurrenceHandler{planner: p, occurrences: occurrences, pub: pub, now: time.Now, loc: loc, logger: logger}
}

type occurrenceRequest struct {
	Title                string                 `json:"title"`
	Description          string                 `json:"description"`
	Date                 string                 `json:"date"`
	EndDate              string                 `json:"end_date"`
	StartTime            string                 `json:"start_time"`
	EndTime              string                 `json:"end_time"`
	AllDay               bool                   `json:"all_day"`
	RepeatType           model.RepeatType       `json:"repeat_type"`
	RepeatPattern        *model.RepeatPattern   `json:"repeat_pattern"`
	RepeatEndDate        string                 `json:"repeat_end_date"`
	RepeatCount          int                    `json:"repeat_count"`
	Reminders            []model.ReminderOffset `json:"notification_reminders"`
	NotificationsEnabled *bool                  `json:"notifications_enabled"`
	Checklist            []model.ChecklistItem  `json:"checklist"`
}

func optionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := model.ParseDate(s)
	if err != nil {
		return nil, &planner.ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return &t, nil
}

func (req *occurrenceRequest) input() (planner.Input, error) {
	in := planner.Input{
		Title:                req.Title,
		Description:          req.Description,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		AllDay:               req.AllDay,
		RepeatType:           req.RepeatType,
		RepeatPattern:        req.RepeatPattern,
		RepeatCount:          req.RepeatCount,
		Reminders:            req.Reminders,
		NotificationsEnabled: true,
		Checklist:            req.Checklist,
	}
	if req.NotificationsEnabled != nil {
		in.NotificationsEnabled = *req.NotificationsEnabled
	}
	if req.Date != "" {
		d, err := model.ParseDate(req.Date)
		if err != nil {
			return in, &planner.ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
		}
		in.Date = d
	}
	var err error
	if in.EndDate, err = optionalDate("end_date", req.EndDate); err != nil {
		return in, err
	}
	if in.RepeatEndDate, err = optionalDate("repeat_end_date", req.RepeatEndDate); err != nil {
		return in, err
	}
	return in, nil
}

// writeErr maps planner errors onto HTTP statuses.
func (h *OccurrenceHandler) writeErr(w http.ResponseWriter, op string, err error) {
	var verr *planner.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, planner.ErrNotFound):
		writeError(w, http.StatusNotFound, "occurrence not found")
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

type groupResponse struct {
	Occurrence *model.Occurrence  `json:"occurrence"`
	Siblings   []model.Occurrence `json:"siblings"`
	Removed    []int64            `json:"removed,omitempty"`
}

func newGroupResponse(gw *store.GroupWrite) groupResponse {
	resp := groupResponse{Occurrence: gw.Base, Siblings: gw.Siblings}
	if resp.Siblings == nil {
		resp.Siblings = []model.Occurrence{}
	}
	for _, o := range gw.Removed {
		resp.Removed = append(resp.Removed, o.ID)
	}
	return resp
}

func (h *OccurrenceHandler) decode(w http.ResponseWriter, r *http.Request) (planner.Input, bool) {
	var req occurrenceRequest
	if !decodeJSON(w, r, &req) {
		return planner.Input{}, false
	}
	in, err := req.input()
	if err != nil {
		h.writeErr(w, "parse occurrence", err)
		return in, false
	}
	return in, true
}

// Create handles POST /api/occurrences
func (h *OccurrenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	in, ok := h.decode(w, r)
	if !ok {
		return
	}

	gw, err := h.planner.Create(r.Context(), userID, in)
	if err != nil {
		h.writeErr(w, "create occurrence", err)
		return
	}

	publish(h.pub, userID, websocket.NewMessage("occurrence", "created", gw.Base.ID,
		map[string]any{"group_id": gw.Base.GroupID, "count": 1 + len(gw.Siblings)}))
	writeJSON(w, http.StatusCreated, newGroupResponse(gw))
}

// List handles GET /api/occurrences?from=YYYY-MM-DD&to=YYYY-MM-DD. The
// range defaults to the next 30 days in the user's timezone.
func (h *OccurrenceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	today := model.DayOf(h.now().In(auth.Location(r.Context(), h.loc)))

	from, err := parseDateParam(r, "from", today)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDateParam(r, "to", from.AddDate(0, 0, 30))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	occs, err := h.occurrences.ListByRange(userID, from, to)
	if err != nil {
		h.logger.Error("list occurrences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list occurrences")
		return
	}
	if occs == nil {
		occs = []model.Occurrence{}
	}
	writeJSON(w, http.StatusOK, occs)
}

// Get handles GET /api/occurrences/{id}
func (h *OccurrenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	o, err := h.planner.Get(auth.UserID(r.Context()), id)
	if err != nil {
		h.writeErr(w, "get occurrence", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Update handles PUT /api/occurrences/{id}?scope=single|group
func (h *OccurrenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	scope, err := planner.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		h.writeErr(w, "parse scope", err)
		return
	}
	in, ok := h.decode(w, r)
	if !ok {
		return
	}

	gw, err := h.planner.Update(r.Context(), userID, id, in, scope)
	if err != nil {
		h.writeErr(w, "update occurrence", err)
		return
	}

	publish(h.pub, userID, websocket.NewMessage("occurrence", "updated", gw.Base.ID,
		map[string]any{"group_id": gw.Base.GroupID, "scope": string(scope)}))
	writeJSON(w, http.StatusOK, newGroupResponse(gw))
}

// Delete handles DELETE /api/occurrences/{id}?scope=single|group
func (h *OccurrenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	scope, err := planner.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		h.writeErr(w, "parse scope", err)
		return
	}

	removed, err := h.planner.Delete(r.Context(), userID, id, scope)
	if err != nil {
		h.writeErr(w, "delete occurrence", err)
		return
	}

	ids := make([]int64, 0, len(removed))
	for _, o := range removed {
		ids = append(ids, o.ID)
	}
	publish(h.pub, userID, websocket.NewMessage("occurrence", "deleted", id, map[string]any{"removed": ids}))
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

// SetStatus handles POST /api/occurrences/{id}/status
func (h *OccurrenceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.planner.SetStatus(r.Context(), userID, id, req.Status)
	if err != nil {
		h.writeErr(w, "set status", err)
		return
	}

	publish(h.pub, userID, websocket.NewMessage("occurrence", "updated", o.ID, map[string]any{"status": string(o.Status)}))
	writeJSON(w, http.StatusOK, o)
}
