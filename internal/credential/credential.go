// Package credential exchanges the rotating refresh token for short-lived
// access tokens and persists every rotated refresh token before handing the
// new access token back.
package credential

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"tools.zach/dev/mentionbot/internal/store"
)

// Config describes the token endpoint and client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Manager holds the current access and refresh tokens. It is safe for
// concurrent use.
type Manager struct {
	oauth  *oauth2.Config
	store  store.Store
	client *http.Client

	mu      sync.RWMutex
	access  string
	refresh string
	expiry  time.Time
}

// New returns a Manager that starts from refreshToken. client carries the
// token endpoint requests; nil means [http.DefaultClient].
func New(cfg Config, st store.Store, client *http.Client, refreshToken string) *Manager {
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:   st,
		client:  client,
		refresh: refreshToken,
	}
}

// Refresh exchanges the held refresh token for a new token pair. On success
// the rotated refresh token is written to the store before Refresh returns.
// On failure the error is logged, the previous tokens are kept, and nil is
// returned; callers treat that as "no refresh this time".
func (m *Manager) Refresh(ctx context.Context) *oauth2.Token {
	m.mu.RLock()
	current := m.refresh
	m.mu.RUnlock()

	if current == "" {
		slog.Error("token refresh skipped: no refresh token available")
		return nil
	}

	if m.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	}
	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: current}).Token()
	if err != nil {
		slog.Error("token refresh failed", "error", err)
		return nil
	}

	m.mu.Lock()
	m.access = tok.AccessToken
	m.expiry = tok.Expiry
	if tok.RefreshToken != "" {
		m.refresh = tok.RefreshToken
	}
	rotated := m.refresh
	m.mu.Unlock()

	// The old token is already revoked; a shutdown arriving now must not
	// cancel the write of its replacement.
	if err := m.store.Set(context.WithoutCancel(ctx), store.KeyRefreshToken, rotated); err != nil {
		slog.Error("persisting refresh token failed", "error", err)
	}

	slog.Info("access token refreshed", "expires", tok.Expiry.Format(time.RFC3339), "rotated", rotated != current)
	return tok
}

// AccessToken returns the most recent access token, or "" before the first
// successful refresh.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

// RefreshToken returns the refresh token that the next Refresh will use.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

// Expiry returns the expiry of the current access token. The zero time
// means unknown.
func (m *Manager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiry
}
