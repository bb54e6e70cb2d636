// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/clock"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/secret"
)

// ErrNoToken is returned by TokenHolder.Token before the first
// successful refresh.
var ErrNoToken = errors.New("directory: no admin token acquired yet")

// TokenConfig configures a TokenHolder.
type TokenConfig struct {
	// BaseURL is the Keycloak base URL.
	BaseURL string

	// Realm is the realm the client authenticates against.
	Realm string

	ClientID string

	// ClientSecret may be nil for public clients such as admin-cli.
	ClientSecret *secret.Buffer

	// Username and Password select the password grant. When Username
	// is empty the client credentials grant is used.
	Username string
	Password *secret.Buffer

	// HTTPClient carries token requests. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// Clock drives Run. If nil, clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// OnRefresh, if set, is called after every refresh attempt with
	// its result.
	OnRefresh func(err error)
}

// TokenHolder owns the directory admin token. Token is safe to call
// from any goroutine while Run refreshes in the background.
type TokenHolder struct {
	fetch      func(ctx context.Context) (*oauth2.Token, error)
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
	onRefresh  func(err error)

	mu    sync.RWMutex
	token *oauth2.Token
}

// TokenURL returns the OpenID Connect token endpoint of realm.
func TokenURL(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm + "/protocol/openid-connect/token"
}

// NewTokenHolder creates a TokenHolder. No token is fetched until
// Refresh is called. The secret buffers must stay open for the
// holder's lifetime.
func NewTokenHolder(config TokenConfig) (*TokenHolder, error) {
	if config.BaseURL == "" || config.Realm == "" {
		return nil, fmt.Errorf("directory: BaseURL and Realm are required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("directory: ClientID is required")
	}
	if config.Username != "" && config.Password == nil {
		return nil, fmt.Errorf("directory: password grant for %q needs a Password", config.Username)
	}

	holder := &TokenHolder{
		httpClient: config.HTTPClient,
		clock:      config.Clock,
		logger:     config.Logger,
		onRefresh:  config.OnRefresh,
	}
	if holder.httpClient == nil {
		holder.httpClient = http.DefaultClient
	}
	if holder.clock == nil {
		holder.clock = clock.Real()
	}
	if holder.logger == nil {
		holder.logger = slog.Default()
	}

	tokenURL := TokenURL(config.BaseURL, config.Realm)
	clientSecret := func() string {
		if config.ClientSecret == nil {
			return ""
		}
		return config.ClientSecret.String()
	}

	if config.Username == "" {
		holder.fetch = func(ctx context.Context) (*oauth2.Token, error) {
			grant := clientcredentials.Config{
				ClientID:     config.ClientID,
				ClientSecret: clientSecret(),
				TokenURL:     tokenURL,
				AuthStyle:    oauth2.AuthStyleInParams,
			}
			return grant.Token(ctx)
		}
	} else {
		holder.fetch = func(ctx context.Context) (*oauth2.Token, error) {
			grant := oauth2.Config{
				ClientID:     config.ClientID,
				ClientSecret: clientSecret(),
				Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			}
			return grant.PasswordCredentialsToken(ctx, config.Username, config.Password.String())
		}
	}
	return holder, nil
}

// Token returns the current access token. It does not check expiry:
// a request made with a lapsed token is rejected by Keycloak.
func (h *TokenHolder) Token() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == nil {
		return "", ErrNoToken
	}
	return h.token.AccessToken, nil
}

// Refresh fetches a new token and replaces the current one. On failure
// the previous token is kept.
func (h *TokenHolder) Refresh(ctx context.Context) error {
	token, err := h.fetch(context.WithValue(ctx, oauth2.HTTPClient, h.httpClient))
	if err == nil && token.AccessToken == "" {
		err = errors.New("token response has no access_token")
	}
	if err == nil {
		h.mu.Lock()
		h.token = token
		h.mu.Unlock()
	}
	if h.onRefresh != nil {
		h.onRefresh(err)
	}
	if err != nil {
		return fmt.Errorf("directory: refreshing admin token: %w", err)
	}

	h.logger.Debug("refreshed directory admin token", "expires_at", token.Expiry.Format(time.RFC3339))
	return nil
}

// Run refreshes the token every interval until ctx is cancelled.
// Failures are logged; the next tick tries again.
func (h *TokenHolder) Run(ctx context.Context, interval time.Duration) {
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
				h.logger.Warn("directory token refresh failed", "error", err)
			}
		}
	}
}
