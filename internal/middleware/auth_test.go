package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/database"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
)

func setupAuthMiddlewareDB(t *testing.T) *store.UserStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewUserStore(db)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireUserNoToken(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	handler := RequireUser(us, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/api/occurrences", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestRequireUserInvalidToken(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	handler := RequireUser(us, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireUserValidToken(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, err := us.Create("ada@example.com", "Ada", "America/Denver")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	var got auth.AuthContext
	handler := RequireUser(us, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer "+u.APIToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UserID != u.ID || got.Timezone != "America/Denver" {
		t.Errorf("auth context = %+v", got)
	}
}

func TestRequireUserQueryToken(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, err := us.Create("ada@example.com", "Ada", "UTC")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	reached := false
	handler := RequireUser(us, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = auth.UserID(r.Context()) == u.ID
	}))

	req := httptest.NewRequest("GET", "/api/calendar.ics?token="+u.APIToken, nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !reached {
		t.Error("query token should authenticate")
	}
}

type failingLookup struct{}

func (failingLookup) GetByToken(string) (*model.User, error) { return nil, io.ErrUnexpectedEOF }

func TestRequireUserLookupError(t *testing.T) {
	handler := RequireUser(failingLookup{}, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		header, query, want string
	}{
		{"Bearer abc", "", "abc"},
		{"Basic Zm9vOmJhcg==", "q", "q"},
		{"", "q", "q"},
		{"", "", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/?token="+tt.query, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := Token(req); got != tt.want {
			t.Errorf("Token(%q, %q) = %q, want %q", tt.header, tt.query, got, tt.want)
		}
	}
}

func TestRequireFeedToken(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, err := us.Create("feed@example.com", "Feed", "Europe/Paris")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	signer, _ := auth.NewFeedSigner("secret")
	token, _ := signer.Issue(u.ID, u.APIToken, time.Now())

	var got auth.AuthContext
	handler := RequireFeedToken(signer, us, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/calendar.ics?feed="+token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.UserID != u.ID || got.Timezone != "Europe/Paris" {
		t.Errorf("auth context = %+v", got)
	}

	// Rotating the API token revokes the feed URL.
	if _, err := us.RotateToken(u.ID); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/calendar.ics?feed="+token, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("after rotation status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/calendar.ics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}
}

func TestRequireFeedTokenUnknownUser(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	signer, _ := auth.NewFeedSigner("secret")
	token, _ := signer.Issue(999, "whatever", time.Now())

	handler := RequireFeedToken(signer, us, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/calendar.ics?feed="+token, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
