package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/alwaysplan/internal/gcal"
)

type fakeConnector struct {
	userID       int64
	err          error
	disconnected []int64
}

func (f *fakeConnector) AuthURL(userID int64) string {
	return "https://accounts.example.com/auth?state=s-1"
}

func (f *fakeConnector) Complete(ctx context.Context, state, code string) (int64, error) {
	if state != "s-1" {
		return 0, gcal.ErrInvalidState
	}
	return f.userID, f.err
}

func (f *fakeConnector) Disconnect(userID int64) error {
	f.disconnected = append(f.disconnected, userID)
	return nil
}

func TestOAuthStartRedirects(t *testing.T) {
	env := setupEnv(t)
	h := NewOAuthHandler(&fakeConnector{}, env.creds, env.pub, "https://plan.example.com", discardLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, request("GET", "/oauth/google/start", env.user, nil, ""))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://accounts.example.com/auth?state=s-1" {
		t.Errorf("location = %q", loc)
	}
}

func TestOAuthCallback(t *testing.T) {
	env := setupEnv(t)
	conn := &fakeConnector{userID: env.user.ID}
	h := NewOAuthHandler(conn, env.creds, env.pub, "https://plan.example.com", discardLogger())

	rec := httptest.NewRecorder()
	h.Callback(rec, request("GET", "/oauth/google/callback?state=s-1&code=c", nil, nil, ""))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "https://plan.example.com/?calendar=connected" {
		t.Errorf("location = %q", loc)
	}
	if types := env.pub.types(); len(types) != 1 || types[0] != "calendar_connected" {
		t.Errorf("published %v", types)
	}

	rec = httptest.NewRecorder()
	h.Callback(rec, request("GET", "/oauth/google/callback?state=stale&code=c", nil, nil, ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("stale state status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Callback(rec, request("GET", "/oauth/google/callback?error=access_denied", nil, nil, ""))
	if loc := rec.Header().Get("Location"); loc != "https://plan.example.com/?calendar=denied" {
		t.Errorf("denied location = %q", loc)
	}

	conn.err = errors.New("exchange failed")
	rec = httptest.NewRecorder()
	h.Callback(rec, request("GET", "/oauth/google/callback?state=s-1&code=c", nil, nil, ""))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("exchange failure status = %d, want 502", rec.Code)
	}
}

func TestOAuthStatusAndDisconnect(t *testing.T) {
	env := setupEnv(t)
	conn := &fakeConnector{}
	h := NewOAuthHandler(conn, env.creds, env.pub, "", discardLogger())

	rec := httptest.NewRecorder()
	h.Status(rec, request("GET", "/api/calendar/connection", env.user, nil, ""))
	if got := decode[map[string]any](t, rec); got["connected"] != false {
		t.Errorf("status = %v, want disconnected", got)
	}

	if err := env.creds.Put(env.user.ID, "primary", []byte("sealed")); err != nil {
		t.Fatalf("put credential: %v", err)
	}
	rec = httptest.NewRecorder()
	h.Status(rec, request("GET", "/api/calendar/connection", env.user, nil, ""))
	got := decode[map[string]any](t, rec)
	if got["connected"] != true || got["calendar_id"] != "primary" {
		t.Errorf("status = %v", got)
	}

	rec = httptest.NewRecorder()
	h.Disconnect(rec, request("DELETE", "/api/calendar/connection", env.user, nil, ""))
	if rec.Code != http.StatusNoContent {
		t.Errorf("disconnect status = %d", rec.Code)
	}
	if len(conn.disconnected) != 1 || conn.disconnected[0] != env.user.ID {
		t.Errorf("disconnected = %v", conn.disconnected)
	}
}
