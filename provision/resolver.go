// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/schema"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Session messaging.Session
	Naming  workshop.Naming

	// RoomVersion is passed to createRoom when non-empty.
	RoomVersion string

	// GeneralRoomPublic creates general rooms with the public_chat
	// preset instead of restricting joins to space members.
	GeneralRoomPublic bool

	// GeneralRoomTopic renders the topic of a new general room. May be
	// nil for no topic.
	GeneralRoomTopic func(ws workshop.WorkshopGroup, space workshop.RoomIdentity) (string, error)

	Metrics *Metrics
	Logger  *slog.Logger
}

// Resolver finds workshop rooms by alias and creates the missing ones.
type Resolver struct {
	session           messaging.Session
	naming            workshop.Naming
	roomVersion       string
	generalRoomPublic bool
	generalRoomTopic  func(workshop.WorkshopGroup, workshop.RoomIdentity) (string, error)
	metrics           *Metrics
	logger            *slog.Logger

	// flight coalesces concurrent resolve-or-create calls per alias.
	flight singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(config ResolverConfig) *Resolver {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		session:           config.Session,
		naming:            config.Naming,
		roomVersion:       config.RoomVersion,
		generalRoomPublic: config.GeneralRoomPublic,
		generalRoomTopic:  config.GeneralRoomTopic,
		metrics:           config.Metrics,
		logger:            logger,
	}
}

// resolution is the shared result of one coalesced resolve-or-create.
type resolution struct {
	identity workshop.RoomIdentity
	existed  bool
}

// LookupSpace resolves the workshop's space alias without creating
// anything. found is false only when the homeserver reports the alias
// as unknown.
func (r *Resolver) LookupSpace(ctx context.Context, ws workshop.WorkshopGroup) (identity workshop.RoomIdentity, found bool, err error) {
	identity, err = r.naming.Alias(ws.Slug, workshop.KindSpace)
	if err != nil {
		return identity, false, err
	}
	roomID, found, err := messaging.LookupAlias(ctx, r.session, identity.FullAlias)
	if err != nil {
		return identity, false, fmt.Errorf("looking up space %s: %w", identity.FullAlias, err)
	}
	identity.RoomID = roomID
	return identity, found, nil
}

// ResolveOrCreateSpace returns the workshop's space, creating it if its
// alias is unknown. existed reports whether the space was already
// there.
func (r *Resolver) ResolveOrCreateSpace(ctx context.Context, ws workshop.WorkshopGroup) (identity workshop.RoomIdentity, existed bool, err error) {
	identity, err = r.naming.Alias(ws.Slug, workshop.KindSpace)
	if err != nil {
		return identity, false, err
	}
	return r.resolveOrCreate(ctx, identity, workshop.KindSpace, func() (messaging.CreateRoomRequest, error) {
		return messaging.CreateRoomRequest{
			Name:            ws.DisplayName,
			Alias:           identity.LocalAliasPart,
			RoomVersion:     r.roomVersion,
			Visibility:      messaging.VisibilityPrivate,
			Preset:          messaging.PresetPrivateChat,
			CreationContent: map[string]any{"type": schema.RoomTypeSpace},
		}, nil
	})
}

// ResolveOrCreateGeneralRoom returns the workshop's general room,
// creating it if its alias is unknown. A new room is restricted to
// members of space unless the resolver is configured for public
// general rooms; with a zero space.RoomID it is invite-only.
func (r *Resolver) ResolveOrCreateGeneralRoom(ctx context.Context, ws workshop.WorkshopGroup, space workshop.RoomIdentity) (identity workshop.RoomIdentity, existed bool, err error) {
	identity, err = r.naming.Alias(ws.Slug, workshop.KindGeneralRoom)
	if err != nil {
		return identity, false, err
	}
	return r.resolveOrCreate(ctx, identity, workshop.KindGeneralRoom, func() (messaging.CreateRoomRequest, error) {
		request := messaging.CreateRoomRequest{
			Name:        ws.DisplayName + " General",
			Alias:       identity.LocalAliasPart,
			RoomVersion: r.roomVersion,
		}
		if r.generalRoomTopic != nil {
			topic, err := r.generalRoomTopic(ws, space)
			if err != nil {
				return request, fmt.Errorf("rendering general room topic: %w", err)
			}
			request.Topic = topic
		}

		switch {
		case r.generalRoomPublic:
			request.Preset = messaging.PresetPublicChat
			request.Visibility = messaging.VisibilityPublic
		case !space.RoomID.IsZero():
			request.Preset = messaging.PresetPrivateChat
			request.Visibility = messaging.VisibilityPrivate
			request.InitialState = []messaging.StateEvent{
				{Type: schema.MatrixEventTypeJoinRules, Content: schema.RestrictedToSpace(space.RoomID)},
				{Type: schema.MatrixEventTypeHistoryVisibility, Content: schema.HistoryVisibilityContent{HistoryVisibility: "shared"}},
			}
		default:
			request.Preset = messaging.PresetPrivateChat
			request.Visibility = messaging.VisibilityPrivate
		}
		return request, nil
	})
}

// resolveOrCreate looks up identity's alias and creates the room when
// the alias is unknown. Only M_NOT_FOUND leads to creation. Concurrent
// calls for the same alias share one lookup and at most one creation.
// A failed creation (including an alias taken by another process) is
// returned, not retried.
func (r *Resolver) resolveOrCreate(ctx context.Context, identity workshop.RoomIdentity, kind workshop.Kind,
	buildRequest func() (messaging.CreateRoomRequest, error),
) (workshop.RoomIdentity, bool, error) {
	key := kind.String() + "/" + identity.FullAlias.String()
	value, err, _ := r.flight.Do(key, func() (any, error) {
		roomID, found, err := messaging.LookupAlias(ctx, r.session, identity.FullAlias)
		if err != nil {
			return nil, fmt.Errorf("looking up %s %s: %w", kind, identity.FullAlias, err)
		}
		if found {
			identity.RoomID = roomID
			return resolution{identity: identity, existed: true}, nil
		}

		request, err := buildRequest()
		if err != nil {
			return nil, err
		}
		response, err := r.session.CreateRoom(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("creating %s %s: %w", kind, identity.FullAlias, err)
		}
		r.metrics.roomCreated(kind)
		r.logger.Info("created workshop room",
			"kind", kind.String(),
			"alias", identity.FullAlias.String(),
			"room_id", response.RoomID.String(),
		)
		identity.RoomID = response.RoomID
		return resolution{identity: identity, existed: false}, nil
	})
	if err != nil {
		return identity, false, err
	}
	result := value.(resolution)
	return result.identity, result.existed, nil
}

// NestRoomUnderSpace links room into space with a suggested
// m.space.child event on the space and a canonical m.space.parent event
// on the room. Both
// are state events keyed by the other room's ID, so repeating the call
// overwrites them with identical content.
func (r *Resolver) NestRoomUnderSpace(ctx context.Context, space, room ref.RoomID) error {
	via := []string{r.naming.Server.String()}

	if _, err := r.session.SendStateEvent(ctx, space, schema.MatrixEventTypeSpaceChild, room.String(),
		schema.SpaceChildContent{Via: via, Suggested: true}); err != nil {
		return fmt.Errorf("adding %s as child of space %s: %w", room, space, err)
	}
	if _, err := r.session.SendStateEvent(ctx, room, schema.MatrixEventTypeSpaceParent, space.String(),
		schema.SpaceParentContent{Via: via, Canonical: true}); err != nil {
		return fmt.Errorf("setting space %s as parent of %s: %w", space, room, err)
	}
	return nil
}

// GrantAdminPower sets level for every user in room's power levels,
// keeping all other users and fields.
func (r *Resolver) GrantAdminPower(ctx context.Context, room ref.RoomID, userIDs []ref.UserID, level int) error {
	grants := schema.PowerLevelGrants{Users: make(map[ref.UserID]int, len(userIDs))}
	for _, userID := range userIDs {
		grants.Users[userID] = level
	}
	return schema.GrantPowerLevels(ctx, r.session, room, grants)
}
