// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/directory"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

// ErrIdentityNotFound means the Matrix user has no linked directory
// identity. It is an expected outcome, not a failure.
var ErrIdentityNotFound = errors.New("provision: user has no directory identity")

// DirectoryLookup returns the directory groups of a Matrix user.
// Implementations return an error wrapping ErrIdentityNotFound when the
// user has no directory identity.
type DirectoryLookup interface {
	WorkshopGroups(ctx context.Context, userID ref.UserID) ([]workshop.Group, error)
}

// IdentitySource lists the SSO identities linked to a Matrix account.
// *messaging.SynapseAdmin implements it.
type IdentitySource interface {
	ExternalIDs(ctx context.Context, userID ref.UserID) ([]messaging.ExternalID, error)
}

// GroupSource lists a directory user's groups. *directory.Client
// implements it.
type GroupSource interface {
	UserGroups(ctx context.Context, userID string) ([]directory.Group, error)
}

// Directory implements DirectoryLookup with the Synapse admin API
// (Matrix user to Keycloak user ID) and the Keycloak admin API
// (Keycloak user to groups).
//
// Only users of the bot's own homeserver can have a linked identity:
// Synapse's admin API refuses lookups of remote users with 400 M_UNKNOWN
// rather than M_NOT_FOUND, so federated users are answered with
// ErrIdentityNotFound before the admin API is asked.
type Directory struct {
	Identities IdentitySource
	Groups     GroupSource

	// Server is the homeserver's own server name. Users on other
	// servers have no directory identity. Zero disables the check.
	Server ref.ServerName

	// Provider is the Synapse auth_provider whose external_id is the
	// Keycloak user ID.
	Provider string

	// SlugAttribute and NameAttribute name the group attributes
	// holding the workshop slug and display name.
	SlugAttribute string
	NameAttribute string
}

// WorkshopGroups resolves userID to its directory identity and returns
// every group of that identity. Groups without workshop attributes are
// included with an empty Slug; workshop.Classify discards them.
func (d *Directory) WorkshopGroups(ctx context.Context, userID ref.UserID) ([]workshop.Group, error) {
	directoryUserID, err := d.directoryUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := d.Groups.UserGroups(ctx, directoryUserID)
	if directory.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s links to unknown directory user %s", ErrIdentityNotFound, userID, directoryUserID)
	}
	if err != nil {
		return nil, err
	}

	result := make([]workshop.Group, 0, len(groups))
	for _, group := range groups {
		result = append(result, workshop.Group{
			Name:        group.Name,
			Slug:        group.Attribute(d.SlugAttribute),
			DisplayName: group.Attribute(d.NameAttribute),
		})
	}
	return result, nil
}

func (d *Directory) directoryUserID(ctx context.Context, userID ref.UserID) (string, error) {
	if !d.Server.IsZero() && userID.Server() != d.Server {
		return "", fmt.Errorf("%w: %s is not a local user", ErrIdentityNotFound, userID)
	}
	externalIDs, err := d.Identities.ExternalIDs(ctx, userID)
	if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		return "", fmt.Errorf("%w: %s is unknown to the homeserver", ErrIdentityNotFound, userID)
	}
	if err != nil {
		return "", err
	}
	for _, externalID := range externalIDs {
		if externalID.AuthProvider == d.Provider && externalID.ExternalID != "" {
			return externalID.ExternalID, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no %s identity", ErrIdentityNotFound, userID, d.Provider)
}
