package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/database"
	"github.com/dukerupert/alwaysplan/internal/mirror"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/store"
	"github.com/dukerupert/alwaysplan/internal/websocket"
)

type testEnv struct {
	users       *store.UserStore
	occurrences *store.OccurrenceStore
	settings    *store.SyncSettingsStore
	push        *store.PushStore
	creds       *store.CredentialStore
	user        *model.User
	pub         *recordingPublisher
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		users:       store.NewUserStore(db),
		occurrences: store.NewOccurrenceStore(db),
		settings:    store.NewSyncSettingsStore(db),
		push:        store.NewPushStore(db),
		creds:       store.NewCredentialStore(db),
		pub:         &recordingPublisher{},
	}
	env.user, err = env.users.Create("ada@example.com", "Ada", "America/Denver")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return env
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// request builds a request authenticated as u, with an optional JSON body
// and path id.
func request(method, target string, u *model.User, body any, id string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if u != nil {
		req = req.WithContext(auth.WithAuth(context.Background(), auth.FromUser(u)))
	}
	if id != "" {
		req.SetPathValue("id", id)
	}
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []websocket.Message
	to   []int64
}

func (p *recordingPublisher) Publish(userID int64, msg websocket.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.to = append(p.to, userID)
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Type
	}
	return out
}

type nopMirror struct{}

func (nopMirror) ExportMany(context.Context, int64, []model.Occurrence) mirror.Summary {
	return mirror.Summary{}
}

func (nopMirror) Remove(context.Context, *model.Occurrence) error { return nil }
