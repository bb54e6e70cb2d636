// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/msgtemplate"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/schema"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

// Invite outcome label values.
const (
	inviteSent          = "sent"
	inviteAlreadyMember = "already_member"
	inviteForbidden     = "forbidden"
	inviteFailed        = "failed"
)

// Config configures an Engine.
type Config struct {
	Session   messaging.Session
	Directory DirectoryLookup
	Templates *msgtemplate.Set

	Naming workshop.Naming
	Tokens workshop.RoleTokens

	// CommandPrefix is the first word of a creation command, e.g.
	// "!create".
	CommandPrefix string

	// AdminPowerLevel is granted to the owner and the bot in rooms the
	// command creates or links.
	AdminPowerLevel int

	RoomVersion       string
	GeneralRoomPublic bool

	Metrics *Metrics
	Logger  *slog.Logger
}

// Engine runs the join and command reconciliation pipelines. Safe for
// concurrent use; each call recomputes everything from the directory
// and the homeserver.
//
// The engine keeps no state between calls beyond the Resolver's
// in-flight deduplication. Which rooms exist is always read back from
// the homeserver by alias, and which workshops a user belongs to is
// always read from the directory, so a restarted bot picks up exactly
// where the previous process stopped.
type Engine struct {
	session         messaging.Session
	directory       DirectoryLookup
	templates       *msgtemplate.Set
	resolver        *Resolver
	tokens          workshop.RoleTokens
	commandPrefix   string
	adminPowerLevel int
	metrics         *Metrics
	logger          *slog.Logger

	// directFlight coalesces DM creation per user.
	directFlight singleflight.Group

	// directMu serializes read-modify-write of the m.direct account data.
	directMu sync.Mutex
}

// NewEngine creates an Engine.
func NewEngine(config Config) (*Engine, error) {
	if config.Session == nil {
		return nil, errors.New("provision: Session is required")
	}
	if config.Directory == nil {
		return nil, errors.New("provision: Directory is required")
	}
	if config.Templates == nil {
		return nil, errors.New("provision: Templates is required")
	}
	if config.Metrics == nil {
		return nil, errors.New("provision: Metrics is required")
	}
	if config.CommandPrefix == "" {
		return nil, errors.New("provision: CommandPrefix is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		session:         config.Session,
		directory:       config.Directory,
		templates:       config.Templates,
		tokens:          config.Tokens,
		commandPrefix:   config.CommandPrefix,
		adminPowerLevel: config.AdminPowerLevel,
		metrics:         config.Metrics,
		logger:          logger,
	}
	engine.resolver = NewResolver(ResolverConfig{
		Session:           config.Session,
		Naming:            config.Naming,
		RoomVersion:       config.RoomVersion,
		GeneralRoomPublic: config.GeneralRoomPublic,
		GeneralRoomTopic: func(ws workshop.WorkshopGroup, space workshop.RoomIdentity) (string, error) {
			return engine.templates.Text(msgtemplate.GeneralRoomTopic, engine.templateData(ref.UserID{}, ws, space))
		},
		Metrics: config.Metrics,
		Logger:  logger,
	})
	return engine, nil
}

// HandleJoin reconciles a user who joined the monitored room. Owners
// get one DM for all their workshops with a welcome per workshop;
// owners and crew are invited to the workshop spaces that exist.
// Nothing is created except the DM. Workshops are processed
// independently: a failure in one does not stop the others, and all
// failures are returned joined.
func (e *Engine) HandleJoin(ctx context.Context, userID ref.UserID) error {
	logger := e.logger.With("trigger", triggerJoin, "user_id", userID.String())

	workshops, err := e.workshops(ctx, userID)
	if errors.Is(err, ErrIdentityNotFound) {
		logger.Info("user has no directory identity", "reason", err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	if len(workshops) == 0 {
		logger.Info("user belongs to no workshops")
		return nil
	}

	var directRoom ref.RoomID
	var failures []error
	for _, slug := range workshop.SortedSlugs(workshops) {
		ws := workshops[slug]
		if err := e.reconcileJoin(ctx, logger.With("slug", slug), userID, ws, &directRoom); err != nil {
			failures = append(failures, fmt.Errorf("workshop %s: %w", slug, err))
		}
	}
	return errors.Join(failures...)
}

// reconcileJoin handles one workshop of a joining user. directRoom is
// the pass's DM, created on first use.
func (e *Engine) reconcileJoin(ctx context.Context, logger *slog.Logger, userID ref.UserID, ws workshop.WorkshopGroup, directRoom *ref.RoomID) error {
	space, exists, err := e.resolver.LookupSpace(ctx, ws)
	if err != nil {
		return err
	}

	switch ws.Role {
	case workshop.RoleOwner:
		if directRoom.IsZero() {
			roomID, err := e.ensureDirectRoom(ctx, userID)
			if err != nil {
				return err
			}
			*directRoom = roomID
		}
		template := msgtemplate.WelcomeCreateSpace
		if exists {
			template = msgtemplate.WelcomeSpaceExists
		}
		if err := e.send(ctx, *directRoom, template, e.templateData(userID, ws, space)); err != nil {
			return err
		}
		if exists {
			if err := e.invite(ctx, space.RoomID, userID); err != nil {
				return err
			}
		}
		logger.Info("welcomed workshop owner", "space_exists", exists, "dm_room_id", directRoom.String())

	case workshop.RoleCrew:
		if !exists {
			logger.Debug("crew member's workshop has no space yet")
			return nil
		}
		if err := e.invite(ctx, space.RoomID, userID); err != nil {
			return err
		}
		logger.Info("invited crew member to workshop space", "space_id", space.RoomID.String())
	}
	return nil
}

// HandleCommand runs a creation command sent by sender in roomID. The
// sender must own the named workshop; anything else ends silently.
func (e *Engine) HandleCommand(ctx context.Context, roomID ref.RoomID, sender ref.UserID, body string) error {
	logger := e.logger.With("trigger", triggerCommand, "user_id", sender.String(), "room_id", roomID.String())

	slug, ok := e.parseCommand(body)
	if !ok {
		logger.Info("ignoring malformed command", "body", body)
		return nil
	}
	logger = logger.With("slug", slug)

	workshops, err := e.workshops(ctx, sender)
	if errors.Is(err, ErrIdentityNotFound) {
		logger.Info("command sender has no directory identity", "reason", err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	ws, ok := workshops[slug]
	if !ok || ws.Role != workshop.RoleOwner {
		logger.Info("command sender does not own workshop")
		return nil
	}

	space, existed, err := e.resolver.ResolveOrCreateSpace(ctx, ws)
	if err != nil {
		return err
	}
	if err := e.invite(ctx, space.RoomID, sender); err != nil {
		return err
	}
	admins := []ref.UserID{sender, e.session.UserID()}
	if err := e.resolver.GrantAdminPower(ctx, space.RoomID, admins, e.adminPowerLevel); err != nil {
		return fmt.Errorf("granting admin in space %s: %w", space.RoomID, err)
	}

	template := msgtemplate.SpaceCreated
	if existed {
		template = msgtemplate.SpaceExists
	}
	if err := e.send(ctx, roomID, template, e.templateData(sender, ws, space)); err != nil {
		return err
	}

	general, generalExisted, err := e.resolver.ResolveOrCreateGeneralRoom(ctx, ws, space)
	if err != nil {
		return err
	}
	if err := e.resolver.GrantAdminPower(ctx, general.RoomID, admins, e.adminPowerLevel); err != nil {
		return fmt.Errorf("granting admin in general room %s: %w", general.RoomID, err)
	}
	if err := e.resolver.NestRoomUnderSpace(ctx, space.RoomID, general.RoomID); err != nil {
		return err
	}

	logger.Info("provisioned workshop rooms",
		"space_id", space.RoomID.String(),
		"space_existed", existed,
		"general_room_id", general.RoomID.String(),
		"general_room_existed", generalExisted,
	)
	return nil
}

// parseCommand returns the slug of "<prefix> <slug> ...". The prefix
// must be the whole first word.
func (e *Engine) parseCommand(body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) < 2 || fields[0] != e.commandPrefix {
		return "", false
	}
	return fields[1], true
}

func (e *Engine) workshops(ctx context.Context, userID ref.UserID) (map[string]workshop.WorkshopGroup, error) {
	groups, err := e.directory.WorkshopGroups(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up directory groups of %s: %w", userID, err)
	}
	return workshop.Classify(groups, e.tokens), nil
}

// invite invites userID to roomID. An M_FORBIDDEN refusal is never
// returned as an error: Synapse uses it both for users already in the
// room and for a bot that lacks invite permission. Only the first is
// counted as already_member; the second is logged at Warn and counted
// as forbidden.
func (e *Engine) invite(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	err := e.session.InviteUser(ctx, roomID, userID)
	var matrixErr *messaging.MatrixError
	switch {
	case err == nil:
		e.metrics.invite(inviteSent)
		return nil
	case errors.As(err, &matrixErr) && matrixErr.Code == messaging.ErrCodeForbidden:
		if strings.Contains(matrixErr.Message, "already in the room") {
			e.metrics.invite(inviteAlreadyMember)
			e.logger.Debug("user already in room", "room_id", roomID.String(), "user_id", userID.String())
			return nil
		}
		e.metrics.invite(inviteForbidden)
		e.logger.Warn("invite refused by homeserver",
			"room_id", roomID.String(),
			"user_id", userID.String(),
			"error", err,
		)
		return nil
	default:
		e.metrics.invite(inviteFailed)
		return err
	}
}

func (e *Engine) send(ctx context.Context, roomID ref.RoomID, name msgtemplate.Name, data msgtemplate.Data) error {
	message, err := e.templates.Render(name, data)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", name, err)
	}
	if _, err := e.session.SendMessage(ctx, roomID, messaging.NewFormattedMessage(message.Body, message.FormattedBody)); err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	return nil
}

func (e *Engine) templateData(userID ref.UserID, ws workshop.WorkshopGroup, space workshop.RoomIdentity) msgtemplate.Data {
	return msgtemplate.Data{
		UserID:     userID.String(),
		Workshop:   ws.DisplayName,
		Slug:       ws.Slug,
		Command:    e.commandPrefix,
		SpaceAlias: space.FullAlias.String(),
	}
}

// ensureDirectRoom returns a DM room with userID: one recorded in the
// bot's m.direct account data that the bot is still in with nobody but
// the user, or else a new one, which is then recorded.
func (e *Engine) ensureDirectRoom(ctx context.Context, userID ref.UserID) (ref.RoomID, error) {
	value, err, _ := e.directFlight.Do(userID.String(), func() (any, error) {
		direct, _, err := messaging.GetAccountData[schema.DirectContent](ctx, e.session, schema.MatrixEventTypeDirect)
		if err != nil {
			return nil, fmt.Errorf("reading m.direct: %w", err)
		}
		for _, roomID := range direct.Rooms(userID) {
			if e.reusableDirectRoom(ctx, roomID, userID) {
				return roomID, nil
			}
		}

		response, err := e.session.CreateRoom(ctx, messaging.CreateRoomRequest{
			Preset:     messaging.PresetTrustedPrivateChat,
			Visibility: messaging.VisibilityPrivate,
			Invite:     []ref.UserID{userID},
			IsDirect:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating DM with %s: %w", userID, err)
		}
		e.metrics.directRoomCreated()
		e.logger.Info("created DM", "user_id", userID.String(), "room_id", response.RoomID.String())

		if err := e.recordDirectRoom(ctx, userID, response.RoomID); err != nil {
			e.logger.Warn("DM not recorded in m.direct, it will not be reused",
				"user_id", userID.String(),
				"room_id", response.RoomID.String(),
				"error", err,
			)
		}
		return response.RoomID, nil
	})
	if err != nil {
		return ref.RoomID{}, err
	}
	return value.(ref.RoomID), nil
}

// reusableDirectRoom reports whether the bot is joined to roomID and
// no one other than userID is.
func (e *Engine) reusableDirectRoom(ctx context.Context, roomID ref.RoomID, userID ref.UserID) bool {
	members, err := e.session.JoinedMembers(ctx, roomID)
	if err != nil {
		e.logger.Debug("recorded DM not usable", "room_id", roomID.String(), "error", err)
		return false
	}
	if !slices.Contains(members, e.session.UserID()) {
		return false
	}
	for _, member := range members {
		if member != e.session.UserID() && member != userID {
			return false
		}
	}
	return true
}

func (e *Engine) recordDirectRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error {
	e.directMu.Lock()
	defer e.directMu.Unlock()

	direct, _, err := messaging.GetAccountData[schema.DirectContent](ctx, e.session, schema.MatrixEventTypeDirect)
	if err != nil {
		return err
	}
	if direct == nil {
		direct = schema.DirectContent{}
	}
	if !direct.Add(userID, roomID) {
		return nil
	}
	return e.session.SetAccountData(ctx, schema.MatrixEventTypeDirect, direct)
}
