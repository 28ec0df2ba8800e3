package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/handler"
	"github.com/dukerupert/alwaysplan/internal/middleware"
	"github.com/dukerupert/alwaysplan/internal/store"
	ws "github.com/dukerupert/alwaysplan/internal/websocket"
)

// Deps are the components the HTTP surface maps onto.
type Deps struct {
	Users        *store.UserStore
	Occurrences  *store.OccurrenceStore
	SyncSettings *store.SyncSettingsStore
	Credentials  *store.CredentialStore
	Push         *store.PushStore

	Planner handler.Planner
	Syncer  handler.Syncer
	Toggles handler.Toggler
	// Connector is nil when no calendar OAuth client is configured.
	Connector handler.Connector
	// FeedSigner is nil when no secret key is configured; feed links are
	// then unavailable.
	FeedSigner *auth.FeedSigner
	// PushNotifier backs the test notification route; may be nil.
	PushNotifier handler.ReminderNotifier
	Hub          *ws.Hub

	VAPIDPublicKey string
	BaseURL        string
	Location       *time.Location
	FeedPast       time.Duration
	FeedFuture     time.Duration
	OriginPatterns []string
}

type Server struct {
	deps         Deps
	occurrenceH  *handler.OccurrenceHandler
	syncH        *handler.SyncHandler
	feedH        *handler.FeedHandler
	feedLinkH    *handler.FeedLinkHandler
	pushH        *handler.PushHandler
	oauthH       *handler.OAuthHandler
	apiLimiter   *middleware.RateLimiter
	oauthLimiter *middleware.RateLimiter
	logger       *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	if d.Location == nil {
		d.Location = time.UTC
	}
	s := &Server{
		deps:         d,
		occurrenceH:  handler.NewOccurrenceHandler(d.Planner, d.Occurrences, d.Hub, d.Location, logger.With("component", "occurrence")),
		syncH:        handler.NewSyncHandler(d.Syncer, d.Toggles, d.SyncSettings, d.Hub, logger.With("component", "sync")),
		feedH:        handler.NewFeedHandler(d.Occurrences, d.FeedPast, d.FeedFuture, d.Location, logger.With("component", "feed")),
		apiLimiter:   middleware.NewRateLimiter(300, time.Minute),
		oauthLimiter: middleware.NewRateLimiter(10, time.Minute),
		logger:       logger,
	}
	if d.Push != nil && d.VAPIDPublicKey != "" {
		s.pushH = handler.NewPushHandler(d.Push, d.PushNotifier, d.VAPIDPublicKey, logger.With("component", "push_handler"))
	}
	if d.FeedSigner != nil {
		s.feedLinkH = handler.NewFeedLinkHandler(d.FeedSigner, d.Users, d.BaseURL, logger.With("component", "feed"))
	}
	if d.Connector != nil {
		s.oauthH = handler.NewOAuthHandler(d.Connector, d.Credentials, d.Hub, d.BaseURL, logger.With("component", "oauth"))
	}
	return s
}

// RateLimiters returns the limiters so their expired windows can be swept.
func (s *Server) RateLimiters() []*middleware.RateLimiter {
	return []*middleware.RateLimiter{s.apiLimiter, s.oauthLimiter}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	if s.oauthH != nil {
		limit := middleware.RateLimit(s.oauthLimiter, middleware.RealIP)
		outerMux.Handle("GET /oauth/google/callback", limit(http.HandlerFunc(s.oauthH.Callback)))
	}
	if s.feedLinkH != nil {
		requireFeed := middleware.RequireFeedToken(s.deps.FeedSigner, s.deps.Users, s.logger.With("component", "auth"))
		limit := middleware.RateLimit(s.apiLimiter, middleware.ByUser)
		outerMux.Handle("GET /calendar.ics", requireFeed(limit(http.HandlerFunc(s.feedH.Calendar))))
	}

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	requireUser := middleware.RequireUser(s.deps.Users, s.logger.With("component", "auth"))
	limit := middleware.RateLimit(s.apiLimiter, middleware.ByUser)
	outerMux.Handle("/", requireUser(limit(protectedMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Occurrences
	mux.HandleFunc("GET /api/occurrences", s.occurrenceH.List)
	mux.HandleFunc("POST /api/occurrences", s.occurrenceH.Create)
	mux.HandleFunc("GET /api/occurrences/{id}", s.occurrenceH.Get)
	mux.HandleFunc("PUT /api/occurrences/{id}", s.occurrenceH.Update)
	mux.HandleFunc("DELETE /api/occurrences/{id}", s.occurrenceH.Delete)
	mux.HandleFunc("POST /api/occurrences/{id}/status", s.occurrenceH.SetStatus)

	// Calendar mirror
	mux.HandleFunc("GET /api/sync/settings", s.syncH.GetSettings)
	mux.HandleFunc("PUT /api/sync/settings", s.syncH.UpdateSettings)
	mux.HandleFunc("POST /api/sync/export", s.syncH.Export)
	mux.HandleFunc("POST /api/sync/import", s.syncH.Import)

	if s.oauthH != nil {
		mux.HandleFunc("GET /oauth/google/start", s.oauthH.Start)
		mux.HandleFunc("GET /api/calendar/connection", s.oauthH.Status)
		mux.HandleFunc("DELETE /api/calendar/connection", s.oauthH.Disconnect)
	}

	// Subscription feed
	mux.HandleFunc("GET /api/calendar.ics", s.feedH.Calendar)
	if s.feedLinkH != nil {
		mux.HandleFunc("POST /api/calendar/feed", s.feedLinkH.Link)
	}

	// Push notification routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.deps.Hub, s.deps.OriginPatterns, s.logger.With("component", "websocket")))
}
