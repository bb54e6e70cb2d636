// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"

// DirectContent is the m.direct global account data content: a map from
// the other party's user ID to the rooms that are DMs with them. Keys
// are plain strings so entries written by other clients round-trip
// even when this process cannot parse them.
type DirectContent map[string][]string

// Rooms returns the DM rooms recorded for userID, skipping entries that
// are not valid room IDs.
func (direct DirectContent) Rooms(userID ref.UserID) []ref.RoomID {
	var rooms []ref.RoomID
	for _, raw := range direct[userID.String()] {
		roomID, err := ref.ParseRoomID(raw)
		if err != nil {
			continue
		}
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Add records roomID as a DM with userID. Returns false if the room was
// already recorded.
func (direct DirectContent) Add(userID ref.UserID, roomID ref.RoomID) bool {
	key := userID.String()
	for _, existing := range direct[key] {
		if existing == roomID.String() {
			return false
		}
	}
	direct[key] = append(direct[key], roomID.String())
	return true
}
