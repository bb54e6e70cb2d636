// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

// Session is the set of Matrix operations the provisioning code performs.
// *DirectSession implements it against a homeserver; tests substitute an
// in-memory homeserver.
//
// Connection management (Sync, WhoAmI, Close) is not part of the
// interface: only the binary's run loop uses it, on the concrete type.
type Session interface {
	// UserID returns the bot's own Matrix user ID.
	UserID() ref.UserID

	// ResolveAlias resolves a room alias to a room ID.
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// CreateRoom creates a new Matrix room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// JoinRoom joins a room by ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// InviteUser invites a user to a room.
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// SendMessage sends an m.room.message event.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)

	// GetStateEvent fetches a state event's raw content.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// SendStateEvent sets a state event.
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)

	// JoinedMembers lists the users joined to a room.
	JoinedMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error)

	// GetAccountData fetches global account data of the given type.
	GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error)

	// SetAccountData replaces global account data of the given type.
	SetAccountData(ctx context.Context, eventType ref.EventType, content any) error
}

var _ Session = (*DirectSession)(nil)
