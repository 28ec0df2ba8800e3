package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/ics"
	"github.com/dukerupert/alwaysplan/internal/model"
)

// FeedHandler serves a read-only iCalendar subscription of a user's
// occurrences.
type FeedHandler struct {
	occurrences OccurrenceLister
	past        time.Duration
	future      time.Duration
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
}

// NewFeedHandler serves occurrences from past before today to future after.
func NewFeedHandler(occurrences OccurrenceLister, past, future time.Duration, loc *time.Location, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{occurrences: occurrences, past: past, future: future, loc: loc, now: time.Now, logger: logger}
}

// Calendar handles GET /api/calendar.ics
func (h *FeedHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	loc := auth.Location(r.Context(), h.loc)
	now := h.now()
	today := model.DayOf(now.In(loc))

	occs, err := h.occurrences.ListByRange(ac.UserID, today.Add(-h.past), today.Add(h.future))
	if err != nil {
		h.logger.Error("list feed occurrences", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="alwaysplan.ics"`)
	if err := ics.Write(w, "AlwaysPlan", occs, loc, now.UTC()); err != nil {
		h.logger.Error("write calendar feed", "user_id", ac.UserID, "error", err)
	}
}

// FeedSigner issues feed tokens. auth.FeedSigner satisfies it.
type FeedSigner interface {
	Issue(userID int64, apiToken string, now time.Time) (string, error)
}

// UserReader loads a user. store.UserStore satisfies it.
type UserReader interface {
	GetByID(id int64) (*model.User, error)
}

// FeedLinkHandler hands out subscription URLs that carry a signed feed token
// instead of the API token.
type FeedLinkHandler struct {
	signer  FeedSigner
	users   UserReader
	baseURL string
	now     func() time.Time
	logger  *slog.Logger
}

func NewFeedLinkHandler(signer FeedSigner, users UserReader, baseURL string, logger *slog.Logger) *FeedLinkHandler {
	return &FeedLinkHandler{signer: signer, users: users, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now, logger: logger}
}

type feedLinkResponse struct {
	URL string `json:"url"`
}

// Link handles POST /api/calendar/feed
func (h *FeedLinkHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	u, err := h.users.GetByID(userID)
	if err != nil {
		h.logger.Error("get user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue feed link")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	token, err := h.signer.Issue(u.ID, u.APIToken, h.now())
	if err != nil {
		h.logger.Error("issue feed token", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue feed link")
		return
	}
	writeJSON(w, http.StatusOK, feedLinkResponse{URL: h.baseURL + "/calendar.ics?feed=" + url.QueryEscape(token)})
}
