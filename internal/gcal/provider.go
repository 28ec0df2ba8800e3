package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/dukerupert/alwaysplan/internal/cache"
	"github.com/dukerupert/alwaysplan/internal/secret"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// clientTTL bounds how long a built client is reused before the credential
// is read again.
const clientTTL = 30 * time.Minute

// OAuthConfig holds the Google OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Configured reports whether a client registration is present.
func (c OAuthConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// NewOAuth2Config builds the oauth2 configuration for calendar event access.
func NewOAuth2Config(c OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{calendar.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}
}

// Provider builds per-user calendar clients from stored credentials.
type Provider struct {
	oauth   *oauth2.Config
	creds   *store.CredentialStore
	box     *secret.Box
	clients *cache.Cache[int64, Calendar]
	opts    []option.ClientOption
	logger  *slog.Logger
}

// NewProvider creates a Provider. Extra options are appended to every
// calendar.Service it creates.
func NewProvider(oauth *oauth2.Config, creds *store.CredentialStore, box *secret.Box, clients *cache.Cache[int64, Calendar], logger *slog.Logger, opts ...option.ClientOption) *Provider {
	return &Provider{
		oauth:   oauth,
		creds:   creds,
		box:     box,
		clients: clients,
		opts:    opts,
		logger:  logger,
	}
}

// NewClientCache returns a cache sized for Provider.
func NewClientCache() *cache.Cache[int64, Calendar] {
	return cache.New[int64, Calendar](clientTTL)
}

// ClientFor returns the calendar of a user, or ErrNotConnected.
func (p *Provider) ClientFor(ctx context.Context, userID int64) (Calendar, error) {
	if c, ok := p.clients.Get(userID); ok {
		return c, nil
	}

	cred, err := p.creds.Get(userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNotConnected
	}
	tok, err := p.openToken(cred.SealedToken)
	if err != nil {
		return nil, fmt.Errorf("open credential for user %d: %w", userID, err)
	}

	// The client outlives the request that built it.
	bg := context.WithoutCancel(ctx)
	src := &savingSource{
		base:   p.oauth.TokenSource(bg, tok),
		last:   tok.AccessToken,
		save:   func(t *oauth2.Token) error { return p.storeToken(userID, cred.CalendarID, t) },
		logger: p.logger.With("user_id", userID),
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(bg, src))}, p.opts...)
	svc, err := calendar.NewService(bg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	c := NewClient(svc, cred.CalendarID)
	p.clients.Set(userID, c)
	return c, nil
}

// Forget drops a cached client so the next call re-reads the credential.
func (p *Provider) Forget(userID int64) {
	p.clients.Delete(userID)
}

func (p *Provider) openToken(sealed []byte) (*oauth2.Token, error) {
	raw, err := p.box.Open(sealed)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func (p *Provider) storeToken(userID int64, calendarID string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	sealed, err := p.box.Seal(raw)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	return p.creds.Put(userID, calendarID, sealed)
}

// savingSource persists a token whenever the underlying source refreshes it.
type savingSource struct {
	base   oauth2.TokenSource
	save   func(*oauth2.Token) error
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.save(tok); err != nil {
			s.logger.Error("save refreshed token", "error", err)
		}
	}
	return tok, nil
}

// Unconfigured stands in for Provider when no OAuth client is registered.
// Every user reads as not connected.
type Unconfigured struct{}

func (Unconfigured) ClientFor(context.Context, int64) (Calendar, error) {
	return nil, ErrNotConnected
}
