package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/dukerupert/alwaysplan/internal/cache"
	"github.com/dukerupert/alwaysplan/internal/secret"
	"github.com/dukerupert/alwaysplan/internal/store"
)

// ErrInvalidState is returned for an unknown or expired OAuth state.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// Connector runs the OAuth consent flow that links a user's calendar.
type Connector struct {
	oauth    *oauth2.Config
	states   *cache.Cache[string, int64]
	creds    *store.CredentialStore
	box      *secret.Box
	provider *Provider
}

// NewConnector creates a Connector. Pending states live in states until the
// callback consumes them or their TTL runs out.
func NewConnector(oauth *oauth2.Config, states *cache.Cache[string, int64], creds *store.CredentialStore, box *secret.Box, provider *Provider) *Connector {
	return &Connector{oauth: oauth, states: states, creds: creds, box: box, provider: provider}
}

// AuthURL starts a consent flow for userID.
func (c *Connector) AuthURL(userID int64) string {
	state := uuid.NewString()
	c.states.Set(state, userID)
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Complete exchanges the authorization code, seals the token and stores it.
// It returns the user the flow was started for.
func (c *Connector) Complete(ctx context.Context, state, code string) (int64, error) {
	userID, ok := c.states.Take(state)
	if !ok {
		return 0, ErrInvalidState
	}
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("exchange code: %w", err)
	}
	if tok.RefreshToken == "" {
		return 0, errors.New("exchange code: no refresh token granted")
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return 0, fmt.Errorf("encode token: %w", err)
	}
	sealed, err := c.box.Seal(raw)
	if err != nil {
		return 0, fmt.Errorf("seal token: %w", err)
	}
	if err := c.creds.Put(userID, "primary", sealed); err != nil {
		return 0, err
	}
	c.provider.Forget(userID)
	return userID, nil
}

// Disconnect removes the stored credential.
func (c *Connector) Disconnect(userID int64) error {
	if err := c.creds.Delete(userID); err != nil {
		return err
	}
	c.provider.Forget(userID)
	return nil
}
