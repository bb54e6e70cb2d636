// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workshop

import (
	"fmt"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
)

// Kind distinguishes the two rooms each workshop has.
type Kind int

const (
	// KindSpace is the workshop's Matrix space (creation type m.space).
	// Its alias is the slug plus Naming.Suffix.
	KindSpace Kind = iota

	// KindGeneralRoom is the workshop's default chat room, nested under
	// the space and joinable by the space's members. Its alias adds
	// Naming.GeneralSuffix to the space alias.
	KindGeneralRoom
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	if k == KindGeneralRoom {
		return "general_room"
	}
	return "space"
}

// RoomIdentity names one workshop room. RoomID is zero until the
// alias has been resolved or the room created.
type RoomIdentity struct {
	// LocalAliasPart is sent as room_alias_name on creation.
	LocalAliasPart string
	FullAlias      ref.RoomAlias
	RoomID         ref.RoomID
}

// Naming derives room aliases from workshop slugs.
type Naming struct {
	// Server is the server part of every alias.
	Server ref.ServerName

	// Suffix is appended to every localpart. Usually empty.
	Suffix string

	// GeneralSuffix is appended after Suffix for the general room,
	// e.g. "-general".
	GeneralSuffix string
}

// Alias returns the identity of the workshop's room of the given kind,
// with RoomID unset. The same slug and kind always produce the same
// alias. Slugs that do not form a valid alias localpart are rejected.
func (n Naming) Alias(slug string, kind Kind) (RoomIdentity, error) {
	if slug == "" {
		return RoomIdentity{}, fmt.Errorf("workshop: empty slug")
	}
	localpart := slug + n.Suffix
	if kind == KindGeneralRoom {
		if n.GeneralSuffix == "" {
			return RoomIdentity{}, fmt.Errorf("workshop: general room suffix is empty, general room alias would equal the space alias")
		}
		localpart += n.GeneralSuffix
	}
	alias, err := ref.NewRoomAlias(localpart, n.Server)
	if err != nil {
		return RoomIdentity{}, fmt.Errorf("workshop: %s alias for slug %q: %w", kind, slug, err)
	}
	return RoomIdentity{LocalAliasPart: localpart, FullAlias: alias}, nil
}
