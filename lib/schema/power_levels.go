// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

// PowerLevels is a typed representation of the Matrix m.room.power_levels
// state event content, used for inspecting an existing room's levels.
// Writes go through GrantPowerLevels, which keeps fields this type does
// not model.
//
// Pointer-to-int fields distinguish "not set" (nil, omitted from JSON) from
// "explicitly set to 0" (pointer to 0). This preserves server defaults for
// fields the caller doesn't touch.
type PowerLevels struct {
	Users         map[string]int `json:"users,omitempty"`
	UsersDefault  *int           `json:"users_default,omitempty"`
	Events        map[string]int `json:"events,omitempty"`
	EventsDefault *int           `json:"events_default,omitempty"`
	StateDefault  *int           `json:"state_default,omitempty"`
	Invite        *int           `json:"invite,omitempty"`
	Ban           *int           `json:"ban,omitempty"`
	Kick          *int           `json:"kick,omitempty"`
	Redact        *int           `json:"redact,omitempty"`
	Notifications map[string]int `json:"notifications,omitempty"`
}

// UserLevel returns the power level for a Matrix user ID. If the user
// has an explicit entry in the Users map, that value is returned. Otherwise
// falls back to UsersDefault, and to 0 when that is also unset.
func (powerLevels *PowerLevels) UserLevel(userID ref.UserID) int {
	if level, ok := powerLevels.Users[userID.String()]; ok {
		return level
	}
	if powerLevels.UsersDefault != nil {
		return *powerLevels.UsersDefault
	}
	return 0
}

// StateSession is the subset of the Matrix client-server API needed for
// state event read-modify-write operations. Satisfied implicitly by
// messaging.DirectSession.
type StateSession interface {
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)
}

// PowerLevelGrants maps users to the level they should hold after a
// GrantPowerLevels call.
type PowerLevelGrants struct {
	Users map[ref.UserID]int
}

// GrantPowerLevels reads the current m.room.power_levels state event from
// a room, sets the level of every granted user, and writes the event
// back. Users not named in grants keep their existing levels, and every
// other field of the event is written back unchanged, including fields
// PowerLevels does not model. One GET and one PUT regardless of how many
// users are granted.
func GrantPowerLevels(ctx context.Context, session StateSession, roomID ref.RoomID, grants PowerLevelGrants) error {
	content, err := session.GetStateEvent(ctx, roomID, MatrixEventTypePowerLevels, "")
	if err != nil {
		return fmt.Errorf("reading power levels for %s: %w", roomID, err)
	}

	merged, err := mergeUserLevels(content, grants.Users)
	if err != nil {
		return fmt.Errorf("parsing power levels for %s: %w", roomID, err)
	}

	if _, err := session.SendStateEvent(ctx, roomID, MatrixEventTypePowerLevels, "", merged); err != nil {
		return fmt.Errorf("writing power levels for %s: %w", roomID, err)
	}
	return nil
}

// mergeUserLevels applies user grants to raw power levels content,
// leaving every other top-level key as the homeserver returned it.
func mergeUserLevels(content json.RawMessage, grants map[ref.UserID]int) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = make(map[string]json.RawMessage)
		}
	}

	users := make(map[string]int)
	if raw, ok := fields["users"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &users); err != nil {
			return nil, fmt.Errorf("users: %w", err)
		}
	}
	for userID, level := range grants {
		users[userID.String()] = level
	}

	encoded, err := json.Marshal(users)
	if err != nil {
		return nil, err
	}
	fields["users"] = encoded
	return fields, nil
}
