// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"

// SpaceChildContent is the content of an m.space.child state event. The
// state key is the child room ID. Clients treat a child event without
// via as removed, so Via must always carry at least one server.
type SpaceChildContent struct {
	Via []string `json:"via"`

	// Suggested asks clients to highlight the child when showing the
	// space, e.g. by offering it when a member first opens the space.
	Suggested bool `json:"suggested,omitempty"`
}

// SpaceParentContent is the content of an m.space.parent state event.
// The state key is the space room ID.
type SpaceParentContent struct {
	Via       []string `json:"via"`
	Canonical bool     `json:"canonical,omitempty"`
}

// JoinRuleRestricted admits users who satisfy one of the allow
// conditions of m.room.join_rules, without an invite.
const JoinRuleRestricted = "restricted"

// JoinRuleAllowRoomMembership is the allow condition type that admits
// members of another room, typically the parent space.
const JoinRuleAllowRoomMembership = "m.room_membership"

// JoinRulesContent is the content of an m.room.join_rules state event.
type JoinRulesContent struct {
	JoinRule string          `json:"join_rule"`
	Allow    []JoinRuleAllow `json:"allow,omitempty"`
}

// JoinRuleAllow is one entry of a restricted join rule's allow list.
type JoinRuleAllow struct {
	Type   string     `json:"type"`
	RoomID ref.RoomID `json:"room_id"`
}

// RestrictedToSpace returns join rules that let members of space join
// without an invite.
func RestrictedToSpace(space ref.RoomID) JoinRulesContent {
	return JoinRulesContent{
		JoinRule: JoinRuleRestricted,
		Allow: []JoinRuleAllow{
			{Type: JoinRuleAllowRoomMembership, RoomID: space},
		},
	}
}
