// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/netutil"
)

// DefaultPageSize is the number of groups requested per page.
const DefaultPageSize = 100

// TokenSource supplies the bearer token for admin requests.
// *TokenHolder implements it.
type TokenSource interface {
	Token() (string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the Keycloak base URL, e.g. "https://sso.example.org".
	BaseURL string

	// Realm holds the users being looked up.
	Realm string

	Tokens TokenSource

	// HTTPClient carries admin requests. If nil, netutil.NewClient(0).
	HTTPClient *http.Client

	// PageSize overrides DefaultPageSize.
	PageSize int

	Logger *slog.Logger
}

// Client calls the Keycloak admin REST API.
type Client struct {
	baseURL    string
	realm      string
	tokens     TokenSource
	httpClient *http.Client
	pageSize   int
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("directory: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("directory: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.Realm == "" {
		return nil, fmt.Errorf("directory: Realm is required")
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("directory: Tokens is required")
	}

	client := &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		realm:      config.Realm,
		tokens:     config.Tokens,
		httpClient: config.HTTPClient,
		pageSize:   config.PageSize,
		logger:     config.Logger,
	}
	if client.httpClient == nil {
		client.httpClient = netutil.NewClient(0)
	}
	if client.pageSize <= 0 {
		client.pageSize = DefaultPageSize
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client, nil
}

// Group is a Keycloak group as returned with briefRepresentation=false.
type Group struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the first non-empty value of the named attribute.
func (g Group) Attribute(name string) string {
	for _, value := range g.Attributes[name] {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// UserGroups lists every group the user is a direct member of,
// following pagination until a short page.
func (c *Client) UserGroups(ctx context.Context, userID string) ([]Group, error) {
	if userID == "" {
		return nil, fmt.Errorf("directory: user ID is required")
	}
	path := "/admin/realms/" + url.PathEscape(c.realm) + "/users/" + url.PathEscape(userID) + "/groups"

	var groups []Group
	for first := 0; ; first += c.pageSize {
		query := url.Values{
			"briefRepresentation": {"false"},
			"first":               {strconv.Itoa(first)},
			"max":                 {strconv.Itoa(c.pageSize)},
		}
		var page []Group
		if err := c.get(ctx, path, query, &page); err != nil {
			return nil, err
		}
		groups = append(groups, page...)
		if len(page) < c.pageSize {
			break
		}
	}

	c.logger.Debug("listed directory groups", "directory_user_id", userID, "count", len(groups))
	return groups, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("directory: failed to create request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("directory: GET %s failed: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return &APIError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
	if err := netutil.DecodeResponse(response.Body, result); err != nil {
		return fmt.Errorf("directory: decoding GET %s: %w", path, err)
	}
	return nil
}

// APIError is a non-200 response from the admin API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404,
// which Keycloak returns for unknown user IDs.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
