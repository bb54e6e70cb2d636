// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

// SynapseAdmin calls the Synapse admin HTTP API with the session's
// token. The bot account must be a Synapse server admin.
type SynapseAdmin struct {
	session *DirectSession
}

// NewSynapseAdmin wraps session for admin API calls.
func NewSynapseAdmin(session *DirectSession) *SynapseAdmin {
	return &SynapseAdmin{session: session}
}

// SynapseUser is the subset of GET /_synapse/admin/v2/users/{userId}
// the bot reads.
type SynapseUser struct {
	Name        ref.UserID   `json:"name"`
	DisplayName string       `json:"displayname,omitempty"`
	Deactivated bool         `json:"deactivated"`
	ExternalIDs []ExternalID `json:"external_ids"`
}

// ExternalID links a Synapse account to an identity at an SSO provider.
type ExternalID struct {
	AuthProvider string `json:"auth_provider"`
	ExternalID   string `json:"external_id"`
}

// User fetches a user's admin record. An unknown user fails with
// M_NOT_FOUND.
func (a *SynapseAdmin) User(ctx context.Context, userID ref.UserID) (*SynapseUser, error) {
	path := "/_synapse/admin/v2/users/" + url.PathEscape(userID.String())
	body, err := a.session.client.doRequest(ctx, http.MethodGet, path, a.session.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: admin lookup of %s failed: %w", userID, err)
	}

	var user SynapseUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse admin user response: %w", err)
	}
	return &user, nil
}

// ExternalIDs returns the user's linked SSO identities.
func (a *SynapseAdmin) ExternalIDs(ctx context.Context, userID ref.UserID) ([]ExternalID, error) {
	user, err := a.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ExternalIDs, nil
}
