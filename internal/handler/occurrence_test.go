package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/planner"
)

func newOccurrenceHandler(env *testEnv) *OccurrenceHandler {
	svc := planner.New(env.occurrences, nopMirror{}, discardLogger())
	h := NewOccurrenceHandler(svc, env.occurrences, env.pub, time.UTC, discardLogger())
	h.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func weeklyBody(count int) map[string]any {
	return map[string]any{
		"title":        "Piano lesson",
		"date":         "2025-03-03",
		"start_time":   "16:00",
		"end_time":     "17:00",
		"repeat_type":  "weekly",
		"repeat_count": count,
		"notification_reminders": []map[string]any{
			{"value": 30, "unit": "minutes"},
		},
	}
}

func createWeekly(t *testing.T, h *OccurrenceHandler, env *testEnv, count int) groupResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Create(rec, request("POST", "/api/occurrences", env.user, weeklyBody(count), ""))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	return decode[groupResponse](t, rec)
}

func TestOccurrenceCreate(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)

	resp := createWeekly(t, h, env, 3)

	if resp.Occurrence.Title != "Piano lesson" || !resp.Occurrence.NotificationsEnabled {
		t.Errorf("base = %+v", resp.Occurrence)
	}
	if len(resp.Siblings) != 2 {
		t.Fatalf("siblings = %d, want 2", len(resp.Siblings))
	}
	if got := resp.Siblings[1].Date.Format(model.DateLayout); got != "2025-03-17" {
		t.Errorf("last sibling = %s, want 2025-03-17", got)
	}
	if types := env.pub.types(); !slices.Equal(types, []string{"occurrence_created"}) {
		t.Errorf("published %v", types)
	}
	if env.pub.to[0] != env.user.ID {
		t.Errorf("published to user %d", env.pub.to[0])
	}
}

func TestOccurrenceCreateValidation(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing title", map[string]any{"date": "2025-03-03"}, "title"},
		{"bad date", map[string]any{"title": "x", "date": "03/03/2025"}, "date"},
		{"bad end date", map[string]any{"title": "x", "date": "2025-03-03", "end_date": "soon"}, "end_date"},
		{"bad clock", map[string]any{"title": "x", "date": "2025-03-03", "start_time": "25:00"}, "start_time"},
		{"unknown repeat", map[string]any{"title": "x", "date": "2025-03-03", "repeat_type": "hourly"}, "repeat_type"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.Create(rec, request("POST", "/api/occurrences", env.user, tt.body, ""))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rec.Code)
			continue
		}
		if got := decode[map[string]string](t, rec)["field"]; got != tt.field {
			t.Errorf("%s: field = %q, want %q", tt.name, got, tt.field)
		}
	}

	rec := httptest.NewRecorder()
	h.Create(rec, request("POST", "/api/occurrences", env.user, map[string]any{"title": "x", "colour": "red"}, ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want 400", rec.Code)
	}
}

func TestOccurrenceGetAndList(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)
	resp := createWeekly(t, h, env, 3)

	rec := httptest.NewRecorder()
	h.Get(rec, request("GET", "/", env.user, nil, fmt.Sprint(resp.Occurrence.ID)))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.List(rec, request("GET", "/api/occurrences?from=2025-03-05&to=2025-03-31", env.user, nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if got := decode[[]model.Occurrence](t, rec); len(got) != 2 {
		t.Errorf("listed %d, want 2", len(got))
	}

	// Default window starts today (2025-03-01) and spans 30 days.
	rec = httptest.NewRecorder()
	h.List(rec, request("GET", "/api/occurrences", env.user, nil, ""))
	if got := decode[[]model.Occurrence](t, rec); len(got) != 3 {
		t.Errorf("default window listed %d, want 3", len(got))
	}

	rec = httptest.NewRecorder()
	h.List(rec, request("GET", "/api/occurrences?from=2025-03-10&to=2025-03-01", env.user, nil, ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want 400", rec.Code)
	}
}

func TestOccurrenceOtherUserIsNotFound(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)
	resp := createWeekly(t, h, env, 1)

	other, err := env.users.Create("bob@example.com", "Bob", "UTC")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	id := fmt.Sprint(resp.Occurrence.ID)

	rec := httptest.NewRecorder()
	h.Get(rec, request("GET", "/", other, nil, id))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Delete(rec, request("DELETE", "/", other, nil, id))
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete status = %d, want 404", rec.Code)
	}
}

func TestOccurrenceUpdateScopes(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)
	resp := createWeekly(t, h, env, 3)
	id := fmt.Sprint(resp.Occurrence.ID)

	body := weeklyBody(2)
	body["title"] = "Piano recital"

	rec := httptest.NewRecorder()
	h.Update(rec, request("PUT", "/?scope=everything", env.user, body, id))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad scope status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Update(rec, request("PUT", "/", env.user, body, id))
	if rec.Code != http.StatusOK {
		t.Fatalf("single update status = %d: %s", rec.Code, rec.Body.String())
	}
	single := decode[groupResponse](t, rec)
	if single.Occurrence.Title != "Piano recital" || len(single.Siblings) != 0 {
		t.Errorf("single update = %+v", single)
	}

	rec = httptest.NewRecorder()
	h.Update(rec, request("PUT", "/?scope=group", env.user, body, id))
	if rec.Code != http.StatusOK {
		t.Fatalf("group update status = %d: %s", rec.Code, rec.Body.String())
	}
	group := decode[groupResponse](t, rec)
	if len(group.Siblings) != 1 || len(group.Removed) != 2 {
		t.Errorf("group update siblings=%d removed=%d, want 1 and 2", len(group.Siblings), len(group.Removed))
	}
}

func TestOccurrenceDeleteGroup(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)
	resp := createWeekly(t, h, env, 3)

	rec := httptest.NewRecorder()
	h.Delete(rec, request("DELETE", "/?scope=group", env.user, nil, fmt.Sprint(resp.Occurrence.ID)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	left, err := env.occurrences.ListByGroup(resp.Occurrence.GroupID)
	if err != nil {
		t.Fatalf("list group: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("%d occurrences left in group", len(left))
	}
	last := env.pub.msgs[len(env.pub.msgs)-1]
	if last.Type != "occurrence_deleted" {
		t.Errorf("last message = %s", last.Type)
	}
}

func TestOccurrenceSetStatus(t *testing.T) {
	env := setupEnv(t)
	h := newOccurrenceHandler(env)
	resp := createWeekly(t, h, env, 1)
	id := fmt.Sprint(resp.Occurrence.ID)

	rec := httptest.NewRecorder()
	h.SetStatus(rec, request("POST", "/", env.user, map[string]string{"status": "completed"}, id))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.Occurrence](t, rec); got.Status != model.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}

	rec = httptest.NewRecorder()
	h.SetStatus(rec, request("POST", "/", env.user, map[string]string{"status": "snoozed"}, id))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status code = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.SetStatus(rec, request("POST", "/", env.user, map[string]string{"status": "active"}, "abc"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id code = %d, want 400", rec.Code)
	}
}
