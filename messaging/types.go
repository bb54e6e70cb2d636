// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/schema"
)

// LoginRequest is the body of POST /login with m.login.password.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	DeviceID                 string         `json:"device_id,omitempty"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier is the m.id.user login identifier.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// Room creation presets.
const (
	PresetPrivateChat        = "private_chat"
	PresetTrustedPrivateChat = "trusted_private_chat"
	PresetPublicChat         = "public_chat"
)

// Room directory visibility.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name        string       `json:"name,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	Alias       string       `json:"room_alias_name,omitempty"` // localpart, without # or :server
	RoomVersion string       `json:"room_version,omitempty"`
	Visibility  string       `json:"visibility,omitempty"`
	Preset      string       `json:"preset,omitempty"`
	Invite      []ref.UserID `json:"invite,omitempty"`
	// IsDirect flags the invites as a DM in the invitees' m.room.member
	// events.
	IsDirect                  bool                `json:"is_direct,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"` // {"type": "m.space"} for spaces
	InitialState    []StateEvent   `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent is a state event included in CreateRoomRequest.InitialState.
type StateEvent struct {
	Type     ref.EventType `json:"type"`
	StateKey string        `json:"state_key"`
	Content  any           `json:"content"`
}

// MessageContent is the content of an m.room.message event. Format and
// FormattedBody carry the HTML rendering of a dual-body message.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: schema.MsgTypeText, Body: body}
}

// NewFormattedMessage creates a text message with an HTML rendering.
// An empty html produces a plain message.
func NewFormattedMessage(body, html string) MessageContent {
	content := NewTextMessage(body)
	if html != "" {
		content.Format = schema.FormatHTML
		content.FormattedBody = html
	}
	return content
}

// Event is a Matrix event as delivered by /sync.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds unsigned data attached to events.
type EventUnsigned struct {
	Age           int64          `json:"age,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	PrevContent   map[string]any `json:"prev_content,omitempty"`
}

// ContentString returns the string value of a top-level content key, or
// "" if absent or not a string.
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// PrevContentString is ContentString for unsigned.prev_content.
func (e Event) PrevContentString(key string) string {
	if e.Unsigned == nil {
		return ""
	}
	value, _ := e.Unsigned.PrevContent[key].(string)
	return value
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send the timeout parameter even when zero
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
// Map keys use ref.RoomID's TextUnmarshaler for validation.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// SendEventResponse is returned by SendMessage, SendEvent, and SendStateEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// JoinedMembersResponse is returned by GET /rooms/{roomId}/joined_members.
// Keys are user IDs.
type JoinedMembersResponse struct {
	Joined map[ref.UserID]JoinedMember `json:"joined"`
}

// JoinedMember is one entry of JoinedMembersResponse.
type JoinedMember struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
