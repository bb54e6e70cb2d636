// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"

// Standard Matrix event types used by the bot.
const (
	MatrixEventTypeRoomMember        ref.EventType = "m.room.member"
	MatrixEventTypeRoomMessage       ref.EventType = "m.room.message"
	MatrixEventTypeRoomName          ref.EventType = "m.room.name"
	MatrixEventTypeRoomTopic         ref.EventType = "m.room.topic"
	MatrixEventTypePowerLevels       ref.EventType = "m.room.power_levels"
	MatrixEventTypeJoinRules         ref.EventType = "m.room.join_rules"
	MatrixEventTypeHistoryVisibility ref.EventType = "m.room.history_visibility"

	// MatrixEventTypeSpaceChild is sent in a space with the child room
	// ID as state key.
	MatrixEventTypeSpaceChild ref.EventType = "m.space.child"

	// MatrixEventTypeSpaceParent is sent in a child room with the space
	// room ID as state key.
	MatrixEventTypeSpaceParent ref.EventType = "m.space.parent"

	// MatrixEventTypeDirect is the global account data type that maps
	// user IDs to the DM room IDs shared with them.
	MatrixEventTypeDirect ref.EventType = "m.direct"
)

// Membership values for m.room.member content.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// MsgTypeText is the msgtype of plain and formatted text messages.
const MsgTypeText = "m.text"

// FormatHTML is the only "format" value defined for formatted_body.
const FormatHTML = "org.matrix.custom.html"

// RoomTypeSpace marks a room as a space in m.room.create content.
const RoomTypeSpace = "m.space"

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
}

// RoomNameContent is the content of an m.room.name state event.
type RoomNameContent struct {
	Name string `json:"name"`
}

// RoomTopicContent is the content of an m.room.topic state event.
type RoomTopicContent struct {
	Topic string `json:"topic"`
}

// HistoryVisibilityContent is the content of an
// m.room.history_visibility state event.
type HistoryVisibilityContent struct {
	HistoryVisibility string `json:"history_visibility"`
}
